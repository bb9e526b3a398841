package coingecko

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/etnz/coinpnl"
	"github.com/etnz/coinpnl/date"
)

func testOracle(t *testing.T, mux *http.ServeMux) *Oracle {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &Oracle{BaseURL: srv.URL}
}

func listHandler(mux *http.ServeMux) {
	mux.HandleFunc("/api/v3/coins/list", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id": "ethereum", "symbol": "eth", "name": "Ethereum"},
			{"id": "ethereum-classic", "symbol": "etc", "name": "Ethereum Classic"},
			{"id": "eth-fan-token", "symbol": "eth", "name": "imitator"}
		]`))
	})
}

func TestTicker(t *testing.T) {
	mux := http.NewServeMux()
	listHandler(mux)
	mux.HandleFunc("/api/v3/simple/price", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("ids"); got != "ethereum" {
			t.Errorf("ids = %q, want ethereum", got)
		}
		w.Write([]byte(`{"ethereum": {"usd": 2050.42}}`))
	})
	o := testOracle(t, mux)

	price, err := o.Ticker(context.Background(), "ETH/USDT")
	if err != nil {
		t.Fatalf("Ticker: %v", err)
	}
	if price.String() != "2050.42" {
		t.Errorf("price = %v, want 2050.42", price)
	}
}

func TestTicker_FirstListedCoinWinsSymbol(t *testing.T) {
	mux := http.NewServeMux()
	listHandler(mux)
	var askedID string
	mux.HandleFunc("/api/v3/simple/price", func(w http.ResponseWriter, r *http.Request) {
		askedID = r.URL.Query().Get("ids")
		w.Write([]byte(`{"ethereum": {"usd": 1}}`))
	})
	o := testOracle(t, mux)

	if _, err := o.Ticker(context.Background(), "ETH/USD"); err != nil {
		t.Fatalf("Ticker: %v", err)
	}
	if askedID != "ethereum" {
		t.Errorf("resolved id = %q, want the first listed eth", askedID)
	}
}

func TestDailyCandles_CollapsesToDailyCloses(t *testing.T) {
	mux := http.NewServeMux()
	listHandler(mux)
	mux.HandleFunc("/api/v3/coins/ethereum/market_chart/range", func(w http.ResponseWriter, r *http.Request) {
		// two points on Jan 1 (the later one is that day's close), one on Jan 2
		w.Write([]byte(`{"prices": [
			[1735689600000, 3300.0],
			[1735732800000, 3350.5],
			[1735776000000, 3400.0]
		]}`))
	})
	o := testOracle(t, mux)

	candles, err := o.DailyCandles(context.Background(), "ETH/USDT", date.New(2025, 1, 1), 30)
	if err != nil {
		t.Fatalf("DailyCandles: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("got %d candles, want 2", len(candles))
	}
	if candles[0].Day != date.New(2025, 1, 1) || candles[0].Close.String() != "3350.5" {
		t.Errorf("first candle = %+v, want Jan 1 close 3350.5", candles[0])
	}
	if candles[1].Day != date.New(2025, 1, 2) {
		t.Errorf("second candle day = %v, want Jan 2", candles[1].Day)
	}
}

func TestDailyCandles_UnknownAssetIsNoData(t *testing.T) {
	mux := http.NewServeMux()
	listHandler(mux)
	o := testOracle(t, mux)

	_, err := o.DailyCandles(context.Background(), "NOPE/USDT", date.New(2025, 1, 1), 30)
	if !errors.Is(err, coinpnl.ErrNoData) {
		t.Errorf("err = %v, want no-data", err)
	}
}

func TestDailyCandles_UnknownQuoteIsNoData(t *testing.T) {
	mux := http.NewServeMux()
	listHandler(mux)
	o := testOracle(t, mux)

	_, err := o.DailyCandles(context.Background(), "ETH/DOGE", date.New(2025, 1, 1), 30)
	if !errors.Is(err, coinpnl.ErrNoData) {
		t.Errorf("err = %v, want no-data", err)
	}
}

func TestMapStatus_Throttle(t *testing.T) {
	if err := mapStatus(429, nil); !errors.Is(err, coinpnl.ErrThrottled) {
		t.Errorf("err = %v, want throttled", err)
	}
	if err := mapStatus(500, []byte("oops")); errors.Is(err, coinpnl.ErrThrottled) {
		t.Errorf("server error should not map to throttle: %v", err)
	}
}
