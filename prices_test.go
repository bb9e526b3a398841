package coinpnl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/etnz/coinpnl/date"
	"github.com/shopspring/decimal"
)

// fakeOracle serves canned daily candles per pair and counts calls.
type fakeOracle struct {
	candles map[Symbol][]Candle
	calls   map[Symbol]int
	mu      sync.Mutex
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		candles: make(map[Symbol][]Candle),
		calls:   make(map[Symbol]int),
	}
}

func (o *fakeOracle) Ticker(_ context.Context, pair Symbol) (decimal.Decimal, error) {
	cs, ok := o.candles[pair]
	if !ok || len(cs) == 0 {
		return decimal.Decimal{}, ErrNoData
	}
	return cs[len(cs)-1].Close, nil
}

func (o *fakeOracle) DailyCandles(_ context.Context, pair Symbol, since date.Date, limit int) ([]Candle, error) {
	o.mu.Lock()
	o.calls[pair]++
	o.mu.Unlock()

	cs, ok := o.candles[pair]
	if !ok {
		return nil, ErrNoData
	}
	var out []Candle
	for _, c := range cs {
		if c.Day.Before(since) || len(out) >= limit {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// memCache is an in-memory PriceCache.
type memCache struct {
	points map[string]map[date.Date]PricePoint
	mu     sync.RWMutex
}

func newMemCache() *memCache {
	return &memCache{points: make(map[string]map[date.Date]PricePoint)}
}

func (c *memCache) PricesBetween(asset string, r date.Range) ([]PricePoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []PricePoint
	for d := range r.Days() {
		if p, ok := c.points[asset][d]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *memCache) SetPrices(points []PricePoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range points {
		if c.points[p.Asset] == nil {
			c.points[p.Asset] = make(map[date.Date]PricePoint)
		}
		c.points[p.Asset][p.Day] = p
	}
	return nil
}

func day(d int) date.Date { return date.New(2025, time.January, d) }

func candle(d int, close float64) Candle {
	return Candle{Day: day(d), Close: decimal.NewFromFloat(close)}
}

func TestResolve_StableAsset(t *testing.T) {
	r := &Resolver{Oracle: newFakeOracle(), Cache: newMemCache()}

	h, ok, err := r.Resolve(context.Background(), "USDT", date.NewRange(day(1), day(7)))
	if err != nil || !ok {
		t.Fatalf("Resolve(USDT) = ok=%v err=%v want resolved", ok, err)
	}
	for d := range date.NewRange(day(1), day(7)).Days() {
		p, found := h.ValueAsOf(d)
		if !found || !p.Equal(decimal.NewFromInt(1)) {
			t.Errorf("USDT price on %v = %v, %v want 1, true", d, p, found)
		}
	}
}

func TestResolve_GapFill(t *testing.T) {
	// Observations on days 1 and 5 only; requesting 1..7 must forward-fill
	// day 1's price over 1-4 and day 5's over 5-7.
	o := newFakeOracle()
	o.candles["ETH/USDT"] = []Candle{candle(1, 100), candle(5, 150)}
	r := &Resolver{Oracle: o, Cache: newMemCache()}

	h, ok, err := r.Resolve(context.Background(), "ETH", date.NewRange(day(1), day(7)))
	if err != nil || !ok {
		t.Fatalf("Resolve(ETH) = ok=%v err=%v want resolved", ok, err)
	}

	for d := 1; d <= 4; d++ {
		if p, _ := h.ValueAsOf(day(d)); !p.Equal(decimal.NewFromInt(100)) {
			t.Errorf("day %d price = %v want 100", d, p)
		}
	}
	for d := 5; d <= 7; d++ {
		if p, _ := h.ValueAsOf(day(d)); !p.Equal(decimal.NewFromInt(150)) {
			t.Errorf("day %d price = %v want 150", d, p)
		}
	}
}

func TestResolve_NoBackfill(t *testing.T) {
	o := newFakeOracle()
	o.candles["ETH/USDT"] = []Candle{candle(5, 150)}
	r := &Resolver{Oracle: o, Cache: newMemCache()}

	h, ok, err := r.Resolve(context.Background(), "ETH", date.NewRange(day(1), day(7)))
	if err != nil || !ok {
		t.Fatalf("Resolve(ETH) = ok=%v err=%v want resolved", ok, err)
	}

	if _, found := h.ValueAsOf(day(4)); found {
		t.Errorf("day 4 should be unresolved before the first observation")
	}
	if p, found := h.ValueAsOf(day(6)); !found || !p.Equal(decimal.NewFromInt(150)) {
		t.Errorf("day 6 price = %v, %v want 150, true", p, found)
	}
}

func TestResolve_QuotePreferenceOrder(t *testing.T) {
	// No USDT pair: the resolver falls through to USDC.
	o := newFakeOracle()
	o.candles["XYZ/USDC"] = []Candle{candle(1, 42)}
	r := &Resolver{Oracle: o, Cache: newMemCache()}

	h, ok, err := r.Resolve(context.Background(), "XYZ", date.NewRange(day(1), day(2)))
	if err != nil || !ok {
		t.Fatalf("Resolve(XYZ) = ok=%v err=%v want resolved via USDC", ok, err)
	}
	if p, _ := h.ValueAsOf(day(2)); !p.Equal(decimal.NewFromInt(42)) {
		t.Errorf("price = %v want 42", p)
	}
	if o.calls["XYZ/USDT"] != 1 {
		t.Errorf("calls to XYZ/USDT = %d want 1 (tried first)", o.calls["XYZ/USDT"])
	}
}

func TestResolve_Unresolved(t *testing.T) {
	r := &Resolver{Oracle: newFakeOracle(), Cache: newMemCache()}

	h, ok, err := r.Resolve(context.Background(), "NOPE", date.NewRange(day(1), day(3)))
	if err != nil {
		t.Fatalf("Resolve(NOPE) error = %v, unresolved must not be an error", err)
	}
	if ok || h != nil {
		t.Errorf("Resolve(NOPE) = %v, %v want nil, false", h, ok)
	}
}

func TestResolve_CacheIsMonotonic(t *testing.T) {
	o := newFakeOracle()
	o.candles["ETH/USDT"] = []Candle{candle(1, 100), candle(2, 110), candle(3, 120)}
	cache := newMemCache()
	r := &Resolver{Oracle: o, Cache: cache}

	rng := date.NewRange(day(1), day(3))
	if _, ok, err := r.Resolve(context.Background(), "ETH", rng); !ok || err != nil {
		t.Fatalf("first Resolve = ok=%v err=%v", ok, err)
	}
	calls := o.calls["ETH/USDT"]

	// Second resolution of the same range is served from the cache.
	h, ok, err := r.Resolve(context.Background(), "ETH", rng)
	if !ok || err != nil {
		t.Fatalf("second Resolve = ok=%v err=%v", ok, err)
	}
	if o.calls["ETH/USDT"] != calls {
		t.Errorf("oracle calls = %d want %d, cached days must not be refetched", o.calls["ETH/USDT"], calls)
	}
	if p, _ := h.ValueAsOf(day(3)); !p.Equal(decimal.NewFromInt(120)) {
		t.Errorf("cached price = %v want 120", p)
	}
}

func TestResolveAll_SplitsResolvedAndUnresolved(t *testing.T) {
	o := newFakeOracle()
	o.candles["ETH/USDT"] = []Candle{candle(1, 100)}
	r := &Resolver{Oracle: o, Cache: newMemCache()}

	series, unresolved, err := r.ResolveAll(context.Background(), []string{"ETH", "NOPE", "USDC"}, date.NewRange(day(1), day(2)))
	if err != nil {
		t.Fatalf("ResolveAll() error = %v", err)
	}
	if len(series) != 2 {
		t.Errorf("len(series) = %d want 2 (ETH + USDC)", len(series))
	}
	if len(unresolved) != 1 || unresolved[0] != "NOPE" {
		t.Errorf("unresolved = %v want [NOPE]", unresolved)
	}
}

func TestResolve_InheritsPriorCachedClose(t *testing.T) {
	// The asset's last cached close predates the range, as happens after a
	// delisting. The close is inherited over the whole range instead of the
	// asset going unresolved.
	cache := newMemCache()
	if err := cache.SetPrices([]PricePoint{
		{Asset: "LUNA", Day: day(2), Price: decimal.NewFromInt(80), Symbol: "LUNA/USDT", Source: "oracle"},
	}); err != nil {
		t.Fatal(err)
	}
	r := &Resolver{Oracle: newFakeOracle(), Cache: cache}

	h, ok, err := r.Resolve(context.Background(), "LUNA", date.NewRange(day(10), day(12)))
	if err != nil || !ok {
		t.Fatalf("Resolve(LUNA) = ok=%v err=%v want resolved from the cache", ok, err)
	}
	for d := 10; d <= 12; d++ {
		if p, found := h.ValueAsOf(day(d)); !found || !p.Equal(decimal.NewFromInt(80)) {
			t.Errorf("day %d price = %v, %v want 80, true", d, p, found)
		}
	}
}

func TestResolve_ConcurrentCallersShareOneFetch(t *testing.T) {
	o := newFakeOracle()
	o.candles["ETH/USDT"] = []Candle{candle(1, 100), candle(5, 150)}
	r := &Resolver{Oracle: o, Cache: newMemCache()}
	rng := date.NewRange(day(1), day(5))

	const callers = 8
	series := make([]*date.History[decimal.Decimal], callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, ok, err := r.Resolve(context.Background(), "ETH", rng)
			if err == nil && !ok {
				err = ErrNoData
			}
			series[i], errs[i] = h, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		for d := range rng.Days() {
			got, _ := series[i].ValueAsOf(d)
			want, _ := series[0].ValueAsOf(d)
			if !got.Equal(want) {
				t.Errorf("caller %d day %v = %v, caller 0 got %v", i, d, got, want)
			}
		}
	}
	if o.calls["ETH/USDT"] != 1 {
		t.Errorf("oracle calls = %d want 1, the cache serves the rest", o.calls["ETH/USDT"])
	}
}
