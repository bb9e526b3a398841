// Package ledger persists the normalized record of what happened: trades,
// transfers, and resolved daily prices, in a single sqlite file.
//
// Every write is an idempotent upsert keyed by the record's stable id, so
// re-running an ingestion over an overlapping window converges instead of
// duplicating.
package ledger

import (
	"database/sql"
	"fmt"

	"github.com/etnz/coinpnl"
	"github.com/etnz/coinpnl/date"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id          TEXT PRIMARY KEY,
	venue       TEXT NOT NULL,
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	amount      TEXT NOT NULL,
	price       TEXT NOT NULL,
	price_ccy   TEXT NOT NULL,
	fee         TEXT NOT NULL,
	fee_ccy     TEXT NOT NULL,
	executed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_symbol_time ON trades(symbol, executed_at);

CREATE TABLE IF NOT EXISTS transfers (
	id        TEXT PRIMARY KEY,
	venue     TEXT NOT NULL,
	direction TEXT NOT NULL,
	asset     TEXT NOT NULL,
	amount    TEXT NOT NULL,
	fee       TEXT NOT NULL,
	fee_ccy   TEXT NOT NULL,
	status    TEXT NOT NULL,
	address   TEXT NOT NULL,
	txid      TEXT NOT NULL,
	at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS transfers_asset_time ON transfers(asset, at);

CREATE TABLE IF NOT EXISTS prices (
	asset  TEXT NOT NULL,
	day    TEXT NOT NULL,
	price  TEXT NOT NULL,
	symbol TEXT NOT NULL,
	source TEXT NOT NULL,
	PRIMARY KEY (asset, day)
);
`

// Store is the sqlite-backed ledger. It is safe for concurrent readers; the
// sqlite driver serializes writers.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger database at path and ensures
// its schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger at %s: %w", path, err)
	}
	// One connection: concurrent batches queue on the pool instead of
	// tripping over sqlite's file lock.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring ledger schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Begin opens a transactional batch of writes.
func (s *Store) Begin() (coinpnl.LedgerBatch, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning ledger batch: %w", err)
	}
	return &batch{tx: tx}, nil
}

type batch struct {
	tx *sql.Tx
}

const upsertTrade = `
INSERT INTO trades (id, venue, symbol, side, amount, price, price_ccy, fee, fee_ccy, executed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	venue=excluded.venue, symbol=excluded.symbol, side=excluded.side,
	amount=excluded.amount, price=excluded.price, price_ccy=excluded.price_ccy,
	fee=excluded.fee, fee_ccy=excluded.fee_ccy, executed_at=excluded.executed_at
`

func (b *batch) UpsertTrade(t coinpnl.Trade) error {
	_, err := b.tx.Exec(upsertTrade,
		t.ID, t.Venue, string(t.Symbol), t.Side.String(),
		t.Amount.String(), t.Price.Decimal().String(), t.Price.Currency(),
		t.Fee.Decimal().String(), t.Fee.Currency(), t.ExecutedAt)
	if err != nil {
		return fmt.Errorf("upserting trade %s: %w", t.ID, err)
	}
	return nil
}

const upsertTransfer = `
INSERT INTO transfers (id, venue, direction, asset, amount, fee, fee_ccy, status, address, txid, at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	venue=excluded.venue, direction=excluded.direction, asset=excluded.asset,
	amount=excluded.amount, fee=excluded.fee, fee_ccy=excluded.fee_ccy,
	status=excluded.status, address=excluded.address, txid=excluded.txid, at=excluded.at
`

func (b *batch) UpsertTransfer(t coinpnl.Transfer) error {
	_, err := b.tx.Exec(upsertTransfer,
		t.ID, t.Venue, t.Direction.String(), t.Asset,
		t.Amount.String(), t.Fee.Decimal().String(), t.Fee.Currency(),
		t.Status, t.Address, t.TxID, t.At)
	if err != nil {
		return fmt.Errorf("upserting transfer %s: %w", t.ID, err)
	}
	return nil
}

func (b *batch) Commit() error   { return b.tx.Commit() }
func (b *batch) Rollback() error { return b.tx.Rollback() }

// Trades returns all stored trades, oldest first. An empty symbol selects
// every instrument.
func (s *Store) Trades(symbol coinpnl.Symbol) ([]coinpnl.Trade, error) {
	query := `SELECT id, venue, symbol, side, amount, price, price_ccy, fee, fee_ccy, executed_at
		FROM trades WHERE (? = '' OR symbol = ?) ORDER BY executed_at, id`
	rows, err := s.db.Query(query, string(symbol), string(symbol))
	if err != nil {
		return nil, fmt.Errorf("querying trades: %w", err)
	}
	defer rows.Close()

	var trades []coinpnl.Trade
	for rows.Next() {
		var (
			t                       coinpnl.Trade
			symbol, side            string
			amount, price, priceCcy string
			fee, feeCcy             string
		)
		if err := rows.Scan(&t.ID, &t.Venue, &symbol, &side, &amount, &price, &priceCcy, &fee, &feeCcy, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		t.Symbol = coinpnl.Symbol(symbol)
		if t.Side, err = coinpnl.ParseSide(side); err != nil {
			return nil, fmt.Errorf("trade %s: %w", t.ID, err)
		}
		if t.Amount, err = coinpnl.ParseQuantity(amount); err != nil {
			return nil, fmt.Errorf("trade %s: %w", t.ID, err)
		}
		if t.Price, err = coinpnl.ParseMoney(price, priceCcy); err != nil {
			return nil, fmt.Errorf("trade %s: %w", t.ID, err)
		}
		if t.Fee, err = coinpnl.ParseMoney(fee, feeCcy); err != nil {
			return nil, fmt.Errorf("trade %s: %w", t.ID, err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Transfers returns all stored transfers, oldest first.
func (s *Store) Transfers() ([]coinpnl.Transfer, error) {
	query := `SELECT id, venue, direction, asset, amount, fee, fee_ccy, status, address, txid, at
		FROM transfers ORDER BY at, id`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("querying transfers: %w", err)
	}
	defer rows.Close()

	var transfers []coinpnl.Transfer
	for rows.Next() {
		var (
			t                   coinpnl.Transfer
			direction           string
			amount, fee, feeCcy string
		)
		if err := rows.Scan(&t.ID, &t.Venue, &direction, &t.Asset, &amount, &fee, &feeCcy, &t.Status, &t.Address, &t.TxID, &t.At); err != nil {
			return nil, fmt.Errorf("scanning transfer: %w", err)
		}
		if t.Direction, err = coinpnl.ParseDirection(direction); err != nil {
			return nil, fmt.Errorf("transfer %s: %w", t.ID, err)
		}
		if t.Amount, err = coinpnl.ParseQuantity(amount); err != nil {
			return nil, fmt.Errorf("transfer %s: %w", t.ID, err)
		}
		if t.Fee, err = coinpnl.ParseMoney(fee, feeCcy); err != nil {
			return nil, fmt.Errorf("transfer %s: %w", t.ID, err)
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// Symbols returns the distinct traded instruments, sorted.
func (s *Store) Symbols() ([]coinpnl.Symbol, error) {
	rows, err := s.db.Query(`SELECT DISTINCT symbol FROM trades ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("querying symbols: %w", err)
	}
	defer rows.Close()

	var symbols []coinpnl.Symbol
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("scanning symbol: %w", err)
		}
		symbols = append(symbols, coinpnl.Symbol(sym))
	}
	return symbols, rows.Err()
}

// PricesBetween returns the cached price points of an asset within the
// range, oldest first.
func (s *Store) PricesBetween(asset string, r date.Range) ([]coinpnl.PricePoint, error) {
	query := `SELECT asset, day, price, symbol, source FROM prices
		WHERE asset = ? AND day >= ? AND day <= ? ORDER BY day`
	rows, err := s.db.Query(query, asset, r.From.String(), r.To.String())
	if err != nil {
		return nil, fmt.Errorf("querying prices for %s: %w", asset, err)
	}
	defer rows.Close()

	var points []coinpnl.PricePoint
	for rows.Next() {
		var (
			p                  coinpnl.PricePoint
			day, price, symbol string
		)
		if err := rows.Scan(&p.Asset, &day, &price, &symbol, &p.Source); err != nil {
			return nil, fmt.Errorf("scanning price: %w", err)
		}
		if p.Day, err = date.Parse(day); err != nil {
			return nil, fmt.Errorf("price %s/%s: %w", asset, day, err)
		}
		if p.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("price %s/%s: %w", asset, day, err)
		}
		p.Symbol = coinpnl.Symbol(symbol)
		points = append(points, p)
	}
	return points, rows.Err()
}

const upsertPrice = `
INSERT INTO prices (asset, day, price, symbol, source)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(asset, day) DO UPDATE SET
	price=excluded.price, symbol=excluded.symbol, source=excluded.source
`

// SetPrices upserts price points in one transaction: a reader never sees a
// partially written batch.
func (s *Store) SetPrices(points []coinpnl.PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning price batch: %w", err)
	}
	for _, p := range points {
		if _, err := tx.Exec(upsertPrice, p.Asset, p.Day.String(), p.Price.String(), string(p.Symbol), p.Source); err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting price %s/%s: %w", p.Asset, p.Day, err)
		}
	}
	return tx.Commit()
}
