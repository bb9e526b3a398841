package coinpnl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/etnz/coinpnl/date"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrThrottled is the provider-side throttle signal. The coordinator backs
// off and retries the same request a bounded number of times.
var ErrThrottled = errors.New("provider throttled the request")

// ErrPermission indicates the credentials lack scope for an endpoint. The
// affected sub-task is abandoned; the run continues.
var ErrPermission = errors.New("credentials lack permission for endpoint")

// RawTrade is the typed record a Feed returns for one fill, before
// conversion to the canonical Trade shape. Numeric fields are venue strings;
// they are parsed exactly once, at the ingestion boundary.
type RawTrade struct {
	NativeID    string // optional
	OrderID     string // optional
	Symbol      string
	Side        string
	Amount      string
	Price       string
	FeeCost     string // optional
	FeeCurrency string // optional
	Timestamp   int64  // milliseconds since epoch, UTC
}

// RawTransfer is the typed record a Feed returns for one deposit or
// withdrawal.
type RawTransfer struct {
	NativeID    string // optional
	Asset       string
	Amount      string
	FeeCost     string // optional
	FeeCurrency string // optional
	Status      string
	Address     string
	TxID        string
	Timestamp   int64
}

// Feed pulls raw history from one venue. Implementations own authentication
// and wire-level concerns; rate pacing and backoff policy belong to the
// Coordinator. Throttle and entitlement conditions are reported as
// ErrThrottled and ErrPermission.
type Feed interface {
	// Venue returns the venue name recorded on ingested rows.
	Venue() string
	// Symbols returns the instruments to scan for trades.
	Symbols(ctx context.Context) ([]Symbol, error)
	// FetchTrades returns fills of a symbol executed at or after the since
	// cursor (milliseconds), oldest first, at most limit records.
	FetchTrades(ctx context.Context, symbol Symbol, since int64, limit int) ([]RawTrade, error)
	// FetchTransfers returns transfers in the bounded window, oldest first,
	// at most limit records. Venues cap the window span; the Coordinator
	// re-windows accordingly.
	FetchTransfers(ctx context.Context, dir Direction, windowStart, windowEnd int64, limit int) ([]RawTransfer, error)
}

// LedgerBatch is one transactional page of writes.
type LedgerBatch interface {
	UpsertTrade(Trade) error
	UpsertTransfer(Transfer) error
	Commit() error
	Rollback() error
}

// LedgerWriter opens transactional batches. Every committed batch is a
// crash-safe resumption point.
type LedgerWriter interface {
	Begin() (LedgerBatch, error)
}

// IngestReport aggregates the per-unit outcomes of one ingestion run.
// Partial failures are explicit values here, never hidden control flow.
type IngestReport struct {
	Venue    string
	Pages    int     // pages committed
	Written  int     // records upserted
	Skipped  int     // records dropped for unrecoverable data errors
	Failures []error // per-unit failures: a page, a symbol, or a window
}

// Err returns all unit failures joined, or nil for a clean run.
func (r *IngestReport) Err() error { return errors.Join(r.Failures...) }

// Coordinator drives a Feed and upserts its records into the ledger.
//
// Within one venue pagination is strictly sequential: each page's cursor
// depends on the previous page. Distinct venues are independent; run one
// Coordinator per venue, they share nothing but the store.
type Coordinator struct {
	Feed  Feed
	Store LedgerWriter

	// Limiter paces requests to the venue's minimum inter-request interval.
	Limiter *rate.Limiter
	Log     *logrus.Logger

	PageLimit      int           // records per page, default 500
	MaxRetries     int           // bounded retries on throttle, default 3
	RetryDelay     time.Duration // pause after a throttle signal, default 2s
	TransferWindow time.Duration // max transfer window span, default 90 days
}

func (c *Coordinator) pageLimit() int {
	if c.PageLimit <= 0 {
		return 500
	}
	return c.PageLimit
}

func (c *Coordinator) maxRetries() int {
	if c.MaxRetries <= 0 {
		return 3
	}
	return c.MaxRetries
}

func (c *Coordinator) retryDelay() time.Duration {
	if c.RetryDelay <= 0 {
		return 2 * time.Second
	}
	return c.RetryDelay
}

func (c *Coordinator) transferWindow() time.Duration {
	if c.TransferWindow <= 0 {
		return 90 * 24 * time.Hour
	}
	return c.TransferWindow
}

func (c *Coordinator) log() *logrus.Logger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

// pace blocks until the venue's minimum inter-request interval has elapsed.
func (c *Coordinator) pace(ctx context.Context) error {
	if c.Limiter == nil {
		return nil
	}
	return c.Limiter.Wait(ctx)
}

// withBackoff runs fn, backing off on a throttle signal with a fixed short
// delay, bounded, before resuming the same request. Any other error is
// returned to the caller, which decides the unit's fate.
func (c *Coordinator) withBackoff(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= c.maxRetries(); attempt++ {
		if err = fn(); !errors.Is(err, ErrThrottled) {
			return err
		}
		c.log().WithField("venue", c.Feed.Venue()).WithField("attempt", attempt+1).
			Warn("throttled, backing off")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay()):
		}
	}
	return err
}

// IngestTrades pulls every fill of the venue within the range and upserts
// it. One page is one transaction; a persistence failure rolls back that
// page only and the run continues with the next unit of work.
func (c *Coordinator) IngestTrades(ctx context.Context, rng date.Range) (*IngestReport, error) {
	report := &IngestReport{Venue: c.Feed.Venue()}

	symbols, err := c.Feed.Symbols(ctx)
	if err != nil {
		return report, fmt.Errorf("listing symbols for %s: %w", c.Feed.Venue(), err)
	}

	endMs := rng.To.Add(1).Time().UnixMilli() // exclusive end of the window
	for _, symbol := range symbols {
		if err := c.ingestSymbol(ctx, symbol, rng.From.Time().UnixMilli(), endMs, report); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			// One bad symbol never aborts the venue.
			report.Failures = append(report.Failures, fmt.Errorf("symbol %s: %w", symbol, err))
			c.log().WithFields(logrus.Fields{"venue": c.Feed.Venue(), "symbol": symbol}).
				WithError(err).Error("symbol ingestion failed, continuing")
		}
	}
	return report, nil
}

// ingestSymbol pages through one symbol's fills. The cursor is the last
// record's timestamp; committed pages make every step resumable.
func (c *Coordinator) ingestSymbol(ctx context.Context, symbol Symbol, since, end int64, report *IngestReport) error {
	for since < end {
		if err := c.pace(ctx); err != nil {
			return err
		}

		var raws []RawTrade
		err := c.withBackoff(ctx, func() (e error) {
			raws, e = c.Feed.FetchTrades(ctx, symbol, since, c.pageLimit())
			return
		})
		if errors.Is(err, ErrPermission) {
			return fmt.Errorf("%w (grant read access to trade history and retry)", err)
		}
		if err != nil {
			return err
		}
		if len(raws) == 0 {
			return nil
		}

		trades, skipped := c.convertTrades(raws, end)
		report.Skipped += skipped

		if len(trades) > 0 {
			if err := c.commitTrades(trades); err != nil {
				report.Failures = append(report.Failures, fmt.Errorf("page %s since %d: %w", symbol, since, err))
				c.log().WithFields(logrus.Fields{"symbol": symbol, "since": since}).
					WithError(err).Error("page rolled back, continuing")
			} else {
				report.Pages++
				report.Written += len(trades)
			}
		}

		last := raws[len(raws)-1].Timestamp
		if last >= end || len(raws) < c.pageLimit() {
			return nil
		}
		if last <= since {
			// The whole page shares one millisecond; move past it rather
			// than loop. Upserts make any duplicate harmless.
			since++
		} else {
			since = last
		}
	}
	return nil
}

// convertTrades maps raw venue records to canonical trades, skipping the
// ones with unrecoverable data errors. An absent amount or fee defaults to
// zero; an absent symbol, side, or timestamp has no safe default.
func (c *Coordinator) convertTrades(raws []RawTrade, end int64) (trades []Trade, skipped int) {
	venue := c.Feed.Venue()
	for _, r := range raws {
		if r.Timestamp >= end {
			continue // beyond the requested window, not a data error
		}
		t, err := convertTrade(venue, r)
		if err != nil {
			skipped++
			c.log().WithField("venue", venue).WithError(err).Debug("skipping raw trade")
			continue
		}
		trades = append(trades, t)
	}
	return trades, skipped
}

func (c *Coordinator) commitTrades(trades []Trade) error {
	batch, err := c.Store.Begin()
	if err != nil {
		return err
	}
	for _, t := range trades {
		if err := batch.UpsertTrade(t); err != nil {
			batch.Rollback()
			return err
		}
	}
	return batch.Commit()
}

// convertTrade validates and converts one raw record. This is the only
// place venue records become Trades: the engines downstream never see a
// venue quirk.
func convertTrade(venue string, r RawTrade) (Trade, error) {
	if r.Symbol == "" {
		return Trade{}, fmt.Errorf("record has no symbol")
	}
	if r.Timestamp == 0 {
		return Trade{}, fmt.Errorf("record has no timestamp")
	}
	side, err := ParseSide(r.Side)
	if err != nil {
		return Trade{}, err
	}

	amount, err := parseOrZero(r.Amount)
	if err != nil {
		return Trade{}, fmt.Errorf("bad amount %q: %w", r.Amount, err)
	}
	price, err := parseOrZero(r.Price)
	if err != nil {
		return Trade{}, fmt.Errorf("bad price %q: %w", r.Price, err)
	}
	fee, err := parseOrZero(r.FeeCost)
	if err != nil {
		return Trade{}, fmt.Errorf("bad fee %q: %w", r.FeeCost, err)
	}

	symbol := Symbol(r.Symbol)
	return Trade{
		ID:         TradeID(venue, r.NativeID, r.OrderID, r.Timestamp),
		Venue:      venue,
		Symbol:     symbol,
		Side:       side,
		Amount:     amount,
		Price:      M(price.Decimal(), symbol.Quote()),
		Fee:        M(fee.Decimal(), r.FeeCurrency),
		ExecutedAt: r.Timestamp,
	}, nil
}

func parseOrZero(s string) (Quantity, error) {
	if s == "" {
		return Q(0), nil
	}
	return ParseQuantity(s)
}

// IngestTransfers pulls deposits and withdrawals within the range, paging
// the venue's bounded history windows forward from the range start. One
// window is one transaction.
func (c *Coordinator) IngestTransfers(ctx context.Context, rng date.Range) (*IngestReport, error) {
	report := &IngestReport{Venue: c.Feed.Venue()}

	startMs := rng.From.Time().UnixMilli()
	endMs := rng.To.Add(1).Time().UnixMilli()

	for _, dir := range []Direction{Deposit, Withdraw} {
		if err := c.ingestTransferWindows(ctx, dir, startMs, endMs, report); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failures = append(report.Failures, fmt.Errorf("%s history: %w", dir, err))
			c.log().WithFields(logrus.Fields{"venue": c.Feed.Venue(), "direction": dir.String()}).
				WithError(err).Error("transfer ingestion failed, continuing")
		}
	}
	return report, nil
}

func (c *Coordinator) ingestTransferWindows(ctx context.Context, dir Direction, start, end int64, report *IngestReport) error {
	span := c.transferWindow().Milliseconds()
	for from := start; from < end; from += span {
		to := from + span
		if to > end {
			to = end
		}

		if err := c.pace(ctx); err != nil {
			return err
		}

		var raws []RawTransfer
		err := c.withBackoff(ctx, func() (e error) {
			raws, e = c.Feed.FetchTransfers(ctx, dir, from, to, c.pageLimit())
			return
		})
		if errors.Is(err, ErrPermission) {
			return fmt.Errorf("%w (grant read access to %s history and retry)", err, dir)
		}
		if err != nil {
			report.Failures = append(report.Failures, fmt.Errorf("%s window %d..%d: %w", dir, from, to, err))
			continue // next window, the error was transient but exhausted retries
		}

		transfers, skipped := c.convertTransfers(dir, raws)
		report.Skipped += skipped
		if len(transfers) == 0 {
			continue
		}

		if err := c.commitTransfers(transfers); err != nil {
			report.Failures = append(report.Failures, fmt.Errorf("%s window %d..%d: %w", dir, from, to, err))
			c.log().WithFields(logrus.Fields{"direction": dir.String(), "from": from}).
				WithError(err).Error("window rolled back, continuing")
			continue
		}
		report.Pages++
		report.Written += len(transfers)
	}
	return nil
}

func (c *Coordinator) convertTransfers(dir Direction, raws []RawTransfer) (transfers []Transfer, skipped int) {
	venue := c.Feed.Venue()
	for _, r := range raws {
		t, err := convertTransfer(venue, dir, r)
		if err != nil {
			skipped++
			c.log().WithField("venue", venue).WithError(err).Debug("skipping raw transfer")
			continue
		}
		transfers = append(transfers, t)
	}
	return transfers, skipped
}

func (c *Coordinator) commitTransfers(transfers []Transfer) error {
	batch, err := c.Store.Begin()
	if err != nil {
		return err
	}
	for _, t := range transfers {
		if err := batch.UpsertTransfer(t); err != nil {
			batch.Rollback()
			return err
		}
	}
	return batch.Commit()
}

func convertTransfer(venue string, dir Direction, r RawTransfer) (Transfer, error) {
	if r.Asset == "" {
		return Transfer{}, fmt.Errorf("record has no asset")
	}
	if r.Timestamp == 0 {
		return Transfer{}, fmt.Errorf("record has no timestamp")
	}

	amount, err := parseOrZero(r.Amount)
	if err != nil {
		return Transfer{}, fmt.Errorf("bad amount %q: %w", r.Amount, err)
	}
	fee, err := parseOrZero(r.FeeCost)
	if err != nil {
		return Transfer{}, fmt.Errorf("bad fee %q: %w", r.FeeCost, err)
	}

	feeCur := r.FeeCurrency
	if feeCur == "" && !fee.IsZero() {
		feeCur = r.Asset // venues usually charge the transferred asset
	}

	return Transfer{
		ID:        TransferID(venue, dir, r.NativeID, r.Timestamp, r.Asset, r.Amount, r.Address),
		Venue:     venue,
		Direction: dir,
		Asset:     r.Asset,
		Amount:    amount,
		Fee:       M(fee.Decimal(), feeCur),
		Status:    r.Status,
		Address:   r.Address,
		TxID:      r.TxID,
		At:        r.Timestamp,
	}, nil
}
