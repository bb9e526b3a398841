package binance

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/etnz/coinpnl"
)

// Compile-time proof the client speaks the ingestion boundary.
var _ coinpnl.Feed = (*Client)(nil)

func (c *Client) Venue() string { return "binance" }

func (c *Client) Symbols(ctx context.Context) ([]coinpnl.Symbol, error) {
	return c.Pairs, nil
}

// apiTrade is one fill as Binance reports it.
type apiTrade struct {
	ID              int64  `json:"id"`
	OrderID         int64  `json:"orderId"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	Time            int64  `json:"time"`
	IsBuyer         bool   `json:"isBuyer"`
}

// FetchTrades pulls account fills of a symbol from the since cursor
// (milliseconds), oldest first.
func (c *Client) FetchTrades(ctx context.Context, symbol coinpnl.Symbol, since int64, limit int) ([]coinpnl.RawTrade, error) {
	params := url.Values{}
	params.Set("symbol", pair(symbol))
	params.Set("startTime", strconv.FormatInt(since, 10))
	params.Set("limit", strconv.Itoa(limit))

	var fills []apiTrade
	if err := c.signedGet(ctx, "/api/v3/myTrades", params, &fills); err != nil {
		return nil, err
	}

	raws := make([]coinpnl.RawTrade, 0, len(fills))
	for _, f := range fills {
		side := "sell"
		if f.IsBuyer {
			side = "buy"
		}
		raws = append(raws, coinpnl.RawTrade{
			NativeID:    strconv.FormatInt(f.ID, 10),
			OrderID:     strconv.FormatInt(f.OrderID, 10),
			Symbol:      string(symbol),
			Side:        side,
			Amount:      f.Qty,
			Price:       f.Price,
			FeeCost:     f.Commission,
			FeeCurrency: f.CommissionAsset,
			Timestamp:   f.Time,
		})
	}
	return raws, nil
}

// apiDeposit is one deposit record. Binance keys deposits by transaction,
// there is no stable numeric id on older records.
type apiDeposit struct {
	ID         string `json:"id"`
	Coin       string `json:"coin"`
	Amount     string `json:"amount"`
	Address    string `json:"address"`
	TxID       string `json:"txId"`
	Status     int    `json:"status"`
	InsertTime int64  `json:"insertTime"`
}

var depositStatus = map[int]string{0: "pending", 1: "ok", 6: "credited"}

// apiWithdrawal is one withdrawal record. ApplyTime is a wall-clock string,
// unlike every other Binance timestamp.
type apiWithdrawal struct {
	ID             string `json:"id"`
	Coin           string `json:"coin"`
	Amount         string `json:"amount"`
	TransactionFee string `json:"transactionFee"`
	Address        string `json:"address"`
	TxID           string `json:"txId"`
	Status         int    `json:"status"`
	ApplyTime      string `json:"applyTime"`
}

var withdrawStatus = map[int]string{
	0: "email-sent", 1: "cancelled", 2: "awaiting-approval",
	3: "rejected", 4: "processing", 5: "failure", 6: "ok",
}

// FetchTransfers pulls deposit or withdrawal history inside the window.
// Binance caps the window at 90 days; the coordinator slices accordingly.
func (c *Client) FetchTransfers(ctx context.Context, dir coinpnl.Direction, windowStart, windowEnd int64, limit int) ([]coinpnl.RawTransfer, error) {
	params := url.Values{}
	params.Set("startTime", strconv.FormatInt(windowStart, 10))
	params.Set("endTime", strconv.FormatInt(windowEnd, 10))
	params.Set("limit", strconv.Itoa(limit))

	if dir == coinpnl.Deposit {
		var deposits []apiDeposit
		if err := c.signedGet(ctx, "/sapi/v1/capital/deposit/hisrec", params, &deposits); err != nil {
			return nil, err
		}
		raws := make([]coinpnl.RawTransfer, 0, len(deposits))
		for _, d := range deposits {
			raws = append(raws, coinpnl.RawTransfer{
				NativeID:  d.ID,
				Asset:     d.Coin,
				Amount:    d.Amount,
				Status:    depositStatus[d.Status],
				Address:   d.Address,
				TxID:      d.TxID,
				Timestamp: d.InsertTime,
			})
		}
		return raws, nil
	}

	var withdrawals []apiWithdrawal
	if err := c.signedGet(ctx, "/sapi/v1/capital/withdraw/history", params, &withdrawals); err != nil {
		return nil, err
	}
	raws := make([]coinpnl.RawTransfer, 0, len(withdrawals))
	for _, w := range withdrawals {
		raws = append(raws, coinpnl.RawTransfer{
			NativeID:    w.ID,
			Asset:       w.Coin,
			Amount:      w.Amount,
			FeeCost:     w.TransactionFee,
			FeeCurrency: w.Coin,
			Status:      withdrawStatus[w.Status],
			Address:     w.Address,
			TxID:        w.TxID,
			Timestamp:   applyTimeMs(w.ApplyTime),
		})
	}
	return raws, nil
}

// applyTimeMs parses Binance's "2006-01-02 15:04:05" withdrawal timestamp.
// A zero return makes the coordinator skip the record rather than guess.
func applyTimeMs(s string) int64 {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}
