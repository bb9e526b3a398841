package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/etnz/coinpnl"
	"github.com/etnz/coinpnl/date"
	"github.com/shopspring/decimal"
)

// Both market-data endpoints are public, no signature needed. Daily candles
// go through the daily-expiring disk cache: a closed candle never changes.

var _ coinpnl.Oracle = (*Client)(nil)

// isUnknownSymbol reports whether the venue rejected the pair as not listed
// (code -1121). Callers map it to ErrNoData so the resolver can move on to
// its next quote candidate.
func isUnknownSymbol(err error) bool {
	var ve *venueError
	return errors.As(err, &ve) && ve.Code == -1121
}

// Ticker returns the last traded price of a pair. An unknown pair maps to
// ErrNoData, like DailyCandles.
func (c *Client) Ticker(ctx context.Context, p coinpnl.Symbol) (decimal.Decimal, error) {
	addr := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", c.baseURL(), pair(p))

	var payload struct {
		Symbol string          `json:"symbol"`
		Price  decimal.Decimal `json:"price"`
	}
	if err := jwget(c.http(), addr, &payload); err != nil {
		if isUnknownSymbol(err) {
			return decimal.Decimal{}, fmt.Errorf("%s: %w", p, coinpnl.ErrNoData)
		}
		return decimal.Decimal{}, fmt.Errorf("ticker %s: %w", p, err)
	}
	return payload.Price, nil
}

// DailyCandles returns daily closes of a pair from 'since' onward, oldest
// first. An unknown pair maps to ErrNoData so the resolver can try its next
// quote candidate.
func (c *Client) DailyCandles(ctx context.Context, p coinpnl.Symbol, since date.Date, limit int) ([]coinpnl.Candle, error) {
	params := url.Values{}
	params.Set("symbol", pair(p))
	params.Set("interval", "1d")
	params.Set("startTime", strconv.FormatInt(since.Time().UnixMilli(), 10))
	params.Set("limit", strconv.Itoa(limit))
	addr := c.baseURL() + "/api/v3/klines?" + params.Encode()

	// A kline is a mixed-type JSON array: open time at index 0, close at
	// index 4, the rest is unused here.
	var payload [][]json.RawMessage
	if err := jwget(newDailyCachingClient(), addr, &payload); err != nil {
		if isUnknownSymbol(err) {
			return nil, fmt.Errorf("%s: %w", p, coinpnl.ErrNoData)
		}
		return nil, fmt.Errorf("klines %s: %w", p, err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%s: %w", p, coinpnl.ErrNoData)
	}

	candles := make([]coinpnl.Candle, 0, len(payload))
	for _, k := range payload {
		if len(k) < 5 {
			return nil, fmt.Errorf("klines %s: short row", p)
		}
		var openMs int64
		if err := json.Unmarshal(k[0], &openMs); err != nil {
			return nil, fmt.Errorf("klines %s: %w", p, err)
		}
		var closing string
		if err := json.Unmarshal(k[4], &closing); err != nil {
			return nil, fmt.Errorf("klines %s: %w", p, err)
		}
		price, err := decimal.NewFromString(closing)
		if err != nil {
			return nil, fmt.Errorf("klines %s: bad close %q: %w", p, closing, err)
		}
		candles = append(candles, coinpnl.Candle{Day: date.FromUnixMilli(openMs), Close: price})
	}
	return candles, nil
}
