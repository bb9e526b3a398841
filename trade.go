package coinpnl

import (
	"crypto/sha1"
	"fmt"
	"strings"
	"time"

	"github.com/etnz/coinpnl/date"
)

// Side is the direction of a trade.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// ParseSide parses a string into a Side.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return 0, fmt.Errorf("unknown trade side: %q", s)
	}
}

// Direction is the direction of a transfer.
type Direction int

const (
	Deposit Direction = iota
	Withdraw
)

func (d Direction) String() string {
	switch d {
	case Deposit:
		return "deposit"
	case Withdraw:
		return "withdraw"
	default:
		return "unknown"
	}
}

// ParseDirection parses a string into a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "deposit":
		return Deposit, nil
	case "withdraw", "withdrawal":
		return Withdraw, nil
	default:
		return 0, fmt.Errorf("unknown transfer direction: %q", s)
	}
}

// Symbol is an instrument identifier in "BASE/QUOTE" form, e.g. "BTC/USDT".
type Symbol string

// Base returns the base asset of the pair.
func (s Symbol) Base() string {
	if i := strings.Index(string(s), "/"); i >= 0 {
		return string(s)[:i]
	}
	return string(s)
}

// Quote returns the quote asset of the pair. A bare asset code quotes itself,
// mirroring how venues report symbols without a separator.
func (s Symbol) Quote() string {
	if i := strings.LastIndex(string(s), "/"); i >= 0 {
		return string(s)[i+1:]
	}
	return string(s)
}

// Trade is one executed fill on a venue.
//
// A Trade is created by ingestion only and is immutable afterwards: the same
// venue event always maps to the same ID, so re-ingesting upserts into the
// same row.
type Trade struct {
	ID         string
	Venue      string
	Symbol     Symbol
	Side       Side
	Amount     Quantity // base-asset amount, always positive; sign implied by Side
	Price      Money    // quote per base unit
	Fee        Money    // zero value when the venue reported no fee
	ExecutedAt int64    // milliseconds since epoch, UTC
}

// Day returns the UTC calendar day of execution.
func (t Trade) Day() date.Date { return date.FromUnixMilli(t.ExecutedAt) }

// Time returns the UTC execution instant.
func (t Trade) Time() time.Time { return time.UnixMilli(t.ExecutedAt).UTC() }

// Transfer is one deposit or withdrawal on a venue.
type Transfer struct {
	ID        string
	Venue     string
	Direction Direction
	Asset     string
	Amount    Quantity
	Fee       Money
	Status    string
	Address   string
	TxID      string
	At        int64 // milliseconds since epoch, UTC
}

// Day returns the UTC calendar day of the transfer.
func (t Transfer) Day() date.Date { return date.FromUnixMilli(t.At) }

// TradeID derives the stable, globally unique identifier of a trade.
//
// The native venue id wins when present. Otherwise the id is synthesized from
// the order id and timestamp, which the venue guarantees stable for a given
// fill. Either way the same venue event always yields the same id.
func TradeID(venue, nativeID, orderID string, ts int64) string {
	if nativeID != "" {
		return venue + ":" + nativeID
	}
	return fmt.Sprintf("%s:%s:%d", venue, orderID, ts)
}

// TransferID derives the stable identifier of a transfer. With no native id,
// it falls back to a hash over the fields that identify the movement.
func TransferID(venue string, dir Direction, nativeID string, ts int64, asset, amount, address string) string {
	if nativeID != "" {
		return fmt.Sprintf("%s:%s:%s", venue, dir, nativeID)
	}
	sum := sha1.Sum(fmt.Appendf(nil, "%s|%s|%d|%s|%s|%s", venue, dir, ts, asset, amount, address))
	return fmt.Sprintf("%s:%s:%x", venue, dir, sum)
}
