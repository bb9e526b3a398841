package coinpnl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/etnz/coinpnl/date"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrNoData is returned by an Oracle when a pair does not trade or returned
// no observations.
var ErrNoData = errors.New("no market data for pair")

// Candle is one daily close observation.
type Candle struct {
	Day   date.Date
	Close decimal.Decimal
}

// Oracle provides market prices for trading pairs. Implementations own the
// wire-level concerns; unavailable pairs are reported as ErrNoData.
type Oracle interface {
	// Ticker returns the last traded price of a pair.
	Ticker(ctx context.Context, pair Symbol) (decimal.Decimal, error)
	// DailyCandles returns daily closes from 'since' onward, oldest first,
	// at most limit entries.
	DailyCandles(ctx context.Context, pair Symbol, since date.Date, limit int) ([]Candle, error)
}

// PricePoint is one resolved (asset, day) price in the reporting currency.
// Once written for a past day it is immutable truth for that day.
type PricePoint struct {
	Asset  string
	Day    date.Date
	Price  decimal.Decimal
	Symbol Symbol // pair the observation came from, empty for static pegs
	Source string // provenance tag: "static", "binance", ...
}

// PriceCache is the durable (asset, day) price store. Writes are idempotent
// upserts; a reader never observes a partially written day.
type PriceCache interface {
	PricesBetween(asset string, r date.Range) ([]PricePoint, error)
	SetPrices(points []PricePoint) error
}

// Stables maps reporting-currency-equivalent assets to their fixed peg.
// These resolve statically, without any oracle lookup.
var Stables = map[string]decimal.Decimal{
	"USD":   decimal.NewFromInt(1),
	"USDT":  decimal.NewFromInt(1),
	"USDC":  decimal.NewFromInt(1),
	"BUSD":  decimal.NewFromInt(1),
	"TUSD":  decimal.NewFromInt(1),
	"FDUSD": decimal.NewFromInt(1),
}

// seedLookback is how many days before a requested range the resolver
// searches the cache for a prior close to forward-fill from.
const seedLookback = 366

// DefaultQuotes is the preference order of quote assets tried when resolving
// a pair for an asset. Only reporting-currency-equivalent quotes are listed:
// a close against any of them is a price in the reporting currency.
var DefaultQuotes = []string{"USDT", "USDC", "BUSD", "FDUSD"}

// Resolver turns sparse oracle observations into daily price series in the
// reporting currency, caching every resolved day.
//
// Resolution is monotonic: once a (asset, day) price is established it is
// reused, never recomputed differently. The zero value is not usable; fill
// Oracle and Cache.
type Resolver struct {
	Oracle Oracle
	Cache  PriceCache
	Quotes []string       // preference order; DefaultQuotes when nil
	Log    *logrus.Logger // nullable

	mu sync.Mutex // serializes fetch+write per resolver
}

func (r *Resolver) quotes() []string {
	if r.Quotes == nil {
		return DefaultQuotes
	}
	return r.Quotes
}

func (r *Resolver) log() *logrus.Logger {
	if r.Log == nil {
		return logrus.StandardLogger()
	}
	return r.Log
}

// Resolve returns the daily price series of one asset over the range, in the
// reporting currency. Days without a direct observation inherit the most
// recent earlier resolved price; days before the first observation stay
// unresolved. The second return value is false when the asset could not be
// resolved at all for the range.
func (r *Resolver) Resolve(ctx context.Context, asset string, rng date.Range) (*date.History[decimal.Decimal], bool, error) {
	if peg, ok := Stables[asset]; ok {
		// Stable assets are a constant peg, no lookup and no caching needed.
		h := new(date.History[decimal.Decimal])
		h.Append(rng.From, peg)
		return h, true, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cached, err := r.Cache.PricesBetween(asset, rng)
	if err != nil {
		return nil, false, fmt.Errorf("reading price cache for %s: %w", asset, err)
	}

	h := new(date.History[decimal.Decimal])
	var pair Symbol
	// Seed with the most recent cached close before the range, so an asset
	// whose last observation predates the range still forward-fills from it.
	lookback := date.NewRange(rng.From.Add(-seedLookback), rng.From.Add(-1))
	prior, err := r.Cache.PricesBetween(asset, lookback)
	if err != nil {
		return nil, false, fmt.Errorf("reading price cache for %s: %w", asset, err)
	}
	if len(prior) > 0 {
		p := prior[len(prior)-1]
		h.Append(p.Day, p.Price)
		pair = p.Symbol
	}
	for _, p := range cached {
		h.Append(p.Day, p.Price)
		pair = p.Symbol
	}

	// Fetch only the uncached tail of the range: cached days are immutable.
	since := rng.From
	if last, _ := h.Latest(); !last.IsZero() && last.Add(1).After(since) {
		since = last.Add(1)
	}
	if since.After(rng.To) {
		return h, true, nil
	}

	candles, pair, err := r.fetch(ctx, asset, pair, since, rng.To)
	if err != nil {
		if errors.Is(err, ErrNoData) {
			if h.Len() > 0 {
				return h, true, nil // the cache alone still resolves the range
			}
			return nil, false, nil
		}
		return nil, false, err
	}

	points := make([]PricePoint, 0, len(candles))
	for _, c := range candles {
		if c.Day.After(rng.To) {
			continue
		}
		h.Append(c.Day, c.Close)
		points = append(points, PricePoint{
			Asset:  asset,
			Day:    c.Day,
			Price:  c.Close,
			Symbol: pair,
			Source: "oracle",
		})
	}
	if err := r.Cache.SetPrices(points); err != nil {
		return nil, false, fmt.Errorf("writing price cache for %s: %w", asset, err)
	}

	if h.Len() == 0 {
		return nil, false, nil
	}
	return h, true, nil
}

// fetch queries the oracle for one candidate pair per preferred quote, in
// order, taking the first pair that yields data. A previously cached pair is
// tried first so an asset never silently switches source pair.
func (r *Resolver) fetch(ctx context.Context, asset string, known Symbol, since, to date.Date) ([]Candle, Symbol, error) {
	var pairs []Symbol
	if known != "" {
		pairs = append(pairs, known)
	}
	for _, q := range r.quotes() {
		p := Symbol(asset + "/" + q)
		if p != known {
			pairs = append(pairs, p)
		}
	}

	limit := date.NewRange(since, to).Len() + 1
	for _, pair := range pairs {
		candles, err := r.Oracle.DailyCandles(ctx, pair, since, limit)
		if errors.Is(err, ErrNoData) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("fetching candles for %s: %w", pair, err)
		}
		if len(candles) == 0 {
			continue
		}
		r.log().WithFields(logrus.Fields{"asset": asset, "pair": pair, "candles": len(candles)}).
			Debug("resolved pair")
		return candles, pair, nil
	}
	return nil, "", fmt.Errorf("%s: %w", asset, ErrNoData)
}

// ResolveAll resolves every asset over the range. Assets with no tradable
// pair are returned in the unresolved set, sorted, and excluded from the
// series map; they are never zero-filled.
func (r *Resolver) ResolveAll(ctx context.Context, assets []string, rng date.Range) (map[string]*date.History[decimal.Decimal], []string, error) {
	series := make(map[string]*date.History[decimal.Decimal])
	var unresolved []string
	for _, asset := range assets {
		h, ok, err := r.Resolve(ctx, asset, rng)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			unresolved = append(unresolved, asset)
			continue
		}
		series[asset] = h
	}
	sort.Strings(unresolved)
	return series, unresolved, nil
}
