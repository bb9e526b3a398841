// Package coingecko adapts the public CoinGecko API to the price Oracle.
// It needs no credentials, which makes it the fallback source for assets a
// trading venue no longer lists.
package coingecko

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/PaesslerAG/jsonpath"
	"github.com/etnz/coinpnl"
	"github.com/etnz/coinpnl/date"
	"github.com/shopspring/decimal"
)

const defaultBaseURL = "https://api.coingecko.com"

// vsCurrencies maps the quote side of a pair to CoinGecko's vs_currency
// codes. Stablecoin quotes collapse to usd, matching their peg.
var vsCurrencies = map[string]string{
	"USD": "usd", "USDT": "usd", "USDC": "usd", "BUSD": "usd",
	"TUSD": "usd", "FDUSD": "usd", "EUR": "eur", "BTC": "btc", "ETH": "eth",
}

var _ coinpnl.Oracle = (*Oracle)(nil)

// Oracle resolves prices through CoinGecko. The zero value is ready to use.
type Oracle struct {
	// BaseURL overrides the production endpoint, for tests.
	BaseURL string

	once sync.Once
	ids  map[string]string // asset symbol, upper case, to coingecko id
	err  error
}

func (o *Oracle) baseURL() string {
	if o.BaseURL != "" {
		return strings.TrimSuffix(o.BaseURL, "/")
	}
	return defaultBaseURL
}

// coinID resolves an asset symbol to CoinGecko's internal coin id, loading
// the full listing once per process. When several coins share a symbol the
// first listed wins, which favors the original coin over imitators.
func (o *Oracle) coinID(asset string) (string, error) {
	o.once.Do(func() {
		addr := o.baseURL() + "/api/v3/coins/list"
		var listing []struct {
			ID     string `json:"id"`
			Symbol string `json:"symbol"`
		}
		if err := jwget(newDailyCachingClient(), addr, &listing); err != nil {
			o.err = fmt.Errorf("listing coins: %w", err)
			return
		}
		o.ids = make(map[string]string, len(listing))
		for _, c := range listing {
			sym := strings.ToUpper(c.Symbol)
			if _, taken := o.ids[sym]; !taken {
				o.ids[sym] = c.ID
			}
		}
	})
	if o.err != nil {
		return "", o.err
	}
	id, ok := o.ids[strings.ToUpper(asset)]
	if !ok {
		return "", fmt.Errorf("%s: %w", asset, coinpnl.ErrNoData)
	}
	return id, nil
}

// Ticker returns the current price of a pair.
func (o *Oracle) Ticker(ctx context.Context, p coinpnl.Symbol) (decimal.Decimal, error) {
	id, vs, err := o.resolvePair(p)
	if err != nil {
		return decimal.Decimal{}, err
	}

	addr := fmt.Sprintf("%s/api/v3/simple/price?ids=%s&vs_currencies=%s", o.baseURL(), url.QueryEscape(id), vs)
	var jobj any
	if err := jwget(newDailyCachingClient(), addr, &jobj); err != nil {
		return decimal.Decimal{}, fmt.Errorf("ticker %s: %w", p, err)
	}

	path := fmt.Sprintf("$[%q][%q]", id, vs)
	jval, err := jsonpath.Get(path, jobj)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("ticker %s: %q: %w", p, path, err)
	}
	val, ok := jval.(float64)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("ticker %s: %q is not a number: %v", p, path, jval)
	}
	return decimal.NewFromFloat(val), nil
}

// DailyCandles returns daily closes from 'since' onward, oldest first. The
// market chart endpoint keys points by millisecond timestamps; several
// points can fall on one day, the last one wins as that day's close.
func (o *Oracle) DailyCandles(ctx context.Context, p coinpnl.Symbol, since date.Date, limit int) ([]coinpnl.Candle, error) {
	id, vs, err := o.resolvePair(p)
	if err != nil {
		return nil, err
	}

	from := since.Time().Unix()
	to := since.Add(limit).Time().Unix()
	addr := fmt.Sprintf("%s/api/v3/coins/%s/market_chart/range?vs_currency=%s&from=%d&to=%d",
		o.baseURL(), url.PathEscape(id), vs, from, to)

	var jobj any
	if err := jwget(newDailyCachingClient(), addr, &jobj); err != nil {
		return nil, fmt.Errorf("market chart %s: %w", p, err)
	}

	jval, err := jsonpath.Get("$.prices", jobj)
	if err != nil {
		return nil, fmt.Errorf("market chart %s: %w", p, err)
	}
	rows, ok := jval.([]any)
	if !ok {
		return nil, fmt.Errorf("market chart %s: prices is not a list: %v", p, jval)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", p, coinpnl.ErrNoData)
	}

	byDay := new(date.History[decimal.Decimal])
	for _, row := range rows {
		point, ok := row.([]any)
		if !ok || len(point) < 2 {
			return nil, fmt.Errorf("market chart %s: malformed point %v", p, row)
		}
		ms, okMs := point[0].(float64)
		price, okPrice := point[1].(float64)
		if !okMs || !okPrice {
			return nil, fmt.Errorf("market chart %s: malformed point %v", p, row)
		}
		byDay.Append(date.FromUnixMilli(int64(ms)), decimal.NewFromFloat(price))
	}

	var candles []coinpnl.Candle
	for day, price := range byDay.Values() {
		candles = append(candles, coinpnl.Candle{Day: day, Close: price})
	}
	return candles, nil
}

func (o *Oracle) resolvePair(p coinpnl.Symbol) (id, vs string, err error) {
	vs, ok := vsCurrencies[p.Quote()]
	if !ok {
		return "", "", fmt.Errorf("quote %s: %w", p.Quote(), coinpnl.ErrNoData)
	}
	id, err = o.coinID(p.Base())
	if err != nil {
		return "", "", err
	}
	return id, vs, nil
}

// mapStatus translates an HTTP failure. CoinGecko signals rate limiting
// with plain 429 responses.
func mapStatus(status int, body []byte) error {
	if status == 429 {
		return fmt.Errorf("coingecko: http 429: %w", coinpnl.ErrThrottled)
	}
	return fmt.Errorf("coingecko: http %d: %s", status, strings.TrimSpace(string(body)))
}
