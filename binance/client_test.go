package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/etnz/coinpnl"
	"github.com/etnz/coinpnl/date"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Client{
		Key:     "test-key",
		Secret:  "test-secret",
		BaseURL: srv.URL,
		now:     func() time.Time { return time.UnixMilli(1700000000000) },
	}
}

func TestSignedGet_SignsQuery(t *testing.T) {
	var gotQuery, gotKey, gotSig string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotSig = q.Get("signature")
		q.Del("signature")
		gotQuery = q.Encode()
		gotKey = r.Header.Get("X-MBX-APIKEY")
		w.Write([]byte(`[]`))
	})

	if _, err := c.FetchTrades(context.Background(), "ETH/USDT", 1000, 500); err != nil {
		t.Fatalf("FetchTrades: %v", err)
	}
	if gotKey != "test-key" {
		t.Errorf("api key header = %q", gotKey)
	}

	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(gotQuery))
	if want := hex.EncodeToString(mac.Sum(nil)); gotSig != want {
		t.Errorf("signature = %q, want %q over %q", gotSig, want, gotQuery)
	}
}

func TestFetchTrades_MapsFills(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "ETHUSDT" {
			t.Errorf("symbol param = %q, want ETHUSDT", got)
		}
		w.Write([]byte(`[
			{"id": 28457, "orderId": 100234, "price": "2000.5", "qty": "1.2",
			 "commission": "0.0012", "commissionAsset": "ETH", "time": 1700000000000, "isBuyer": true},
			{"id": 28458, "orderId": 100235, "price": "2100", "qty": "0.5",
			 "commission": "1.05", "commissionAsset": "USDT", "time": 1700000060000, "isBuyer": false}
		]`))
	})

	raws, err := c.FetchTrades(context.Background(), "ETH/USDT", 0, 500)
	if err != nil {
		t.Fatalf("FetchTrades: %v", err)
	}
	if len(raws) != 2 {
		t.Fatalf("got %d fills, want 2", len(raws))
	}
	buy := raws[0]
	if buy.NativeID != "28457" || buy.Side != "buy" || buy.Amount != "1.2" || buy.FeeCurrency != "ETH" {
		t.Errorf("buy fill = %+v", buy)
	}
	if sell := raws[1]; sell.Side != "sell" || sell.Price != "2100" {
		t.Errorf("sell fill = %+v", sell)
	}
}

func TestFetchTransfers_Deposits(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sapi/v1/capital/deposit/hisrec" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`[
			{"id": "769800519366885376", "coin": "USDT", "amount": "1000",
			 "address": "0xabc", "txId": "0xdef", "status": 1, "insertTime": 1700000000000}
		]`))
	})

	raws, err := c.FetchTransfers(context.Background(), coinpnl.Deposit, 0, 1700000000001, 500)
	if err != nil {
		t.Fatalf("FetchTransfers: %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("got %d deposits, want 1", len(raws))
	}
	d := raws[0]
	if d.Asset != "USDT" || d.Amount != "1000" || d.Status != "ok" || d.Timestamp != 1700000000000 {
		t.Errorf("deposit = %+v", d)
	}
}

func TestFetchTransfers_WithdrawalApplyTime(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sapi/v1/capital/withdraw/history" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`[
			{"id": "b6ae22b3aa844210a7041aee7589627c", "coin": "ETH", "amount": "2",
			 "transactionFee": "0.001", "address": "0xabc", "txId": "0xdef",
			 "status": 6, "applyTime": "2023-11-14 22:13:20"}
		]`))
	})

	raws, err := c.FetchTransfers(context.Background(), coinpnl.Withdraw, 0, 1800000000000, 500)
	if err != nil {
		t.Fatalf("FetchTransfers: %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("got %d withdrawals, want 1", len(raws))
	}
	wd := raws[0]
	want := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC).UnixMilli()
	if wd.Timestamp != want {
		t.Errorf("timestamp = %d, want %d", wd.Timestamp, want)
	}
	if wd.FeeCost != "0.001" || wd.FeeCurrency != "ETH" || wd.Status != "ok" {
		t.Errorf("withdrawal = %+v", wd)
	}
}

func TestMapAPIError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"http 429", 429, `{"code": -1003, "msg": "Too much request weight used"}`, coinpnl.ErrThrottled},
		{"weight code on 400", 400, `{"code": -1003, "msg": "banned"}`, coinpnl.ErrThrottled},
		{"teapot ban", 418, ``, coinpnl.ErrThrottled},
		{"forbidden", 403, ``, coinpnl.ErrPermission},
		{"bad key", 400, `{"code": -2014, "msg": "API-key format invalid"}`, coinpnl.ErrPermission},
	}
	for _, tt := range tests {
		err := mapAPIError(tt.status, []byte(tt.body))
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: mapAPIError = %v, want %v", tt.name, err, tt.want)
		}
	}
	if err := mapAPIError(500, []byte("oops")); errors.Is(err, coinpnl.ErrThrottled) || errors.Is(err, coinpnl.ErrPermission) {
		t.Errorf("server error should not map to a sentinel: %v", err)
	}
}

func TestDailyCandles_ParsesKlines(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("interval"); got != "1d" {
			t.Errorf("interval = %q", got)
		}
		// open time, OHLC strings, volume, close time, and trailing fields
		w.Write([]byte(`[
			[1700006400000, "2000", "2100", "1990", "2050.5", "1000", 1700092799999, "0", 0, "0", "0", "0"],
			[1700092800000, "2050.5", "2200", "2040", "2150", "900", 1700179199999, "0", 0, "0", "0", "0"]
		]`))
	})

	candles, err := c.DailyCandles(context.Background(), "ETH/USDT", date.New(2023, 11, 15), 2)
	if err != nil {
		t.Fatalf("DailyCandles: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("got %d candles, want 2", len(candles))
	}
	if candles[0].Day != date.New(2023, 11, 15) {
		t.Errorf("day = %v, want 2023-11-15", candles[0].Day)
	}
	if candles[0].Close.String() != "2050.5" {
		t.Errorf("close = %v, want 2050.5", candles[0].Close)
	}
}

func TestDailyCandles_UnknownSymbolIsNoData(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		w.Write([]byte(`{"code": -1121, "msg": "Invalid symbol."}`))
	})

	_, err := c.DailyCandles(context.Background(), "NOPE/USDT", date.New(2023, 11, 15), 10)
	if !errors.Is(err, coinpnl.ErrNoData) {
		t.Errorf("err = %v, want no-data", err)
	}
}

func TestTicker_UnknownSymbolIsNoData(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		w.Write([]byte(`{"code": -1121, "msg": "Invalid symbol."}`))
	})

	_, err := c.Ticker(context.Background(), "XYZ/USDT")
	if !errors.Is(err, coinpnl.ErrNoData) {
		t.Errorf("err = %v, want no-data", err)
	}
}

func TestTicker(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "ETHUSDT" {
			t.Errorf("symbol = %q", got)
		}
		w.Write([]byte(`{"symbol": "ETHUSDT", "price": "2050.5"}`))
	})

	price, err := c.Ticker(context.Background(), "ETH/USDT")
	if err != nil {
		t.Fatalf("Ticker: %v", err)
	}
	if price.String() != "2050.5" {
		t.Errorf("price = %v, want 2050.5", price)
	}
}
