package coinpnl

import (
	"context"
	"sort"

	"github.com/etnz/coinpnl/date"
	"github.com/shopspring/decimal"
)

// DailyValue is one day of the net-worth series.
type DailyValue struct {
	Day   date.Date
	Value Money
}

// NetWorthReport is a dense daily valuation of the whole portfolio in the
// reporting currency. Every day of the requested range appears exactly once.
// Assets whose price could not be resolved contribute zero to the values and
// are listed in Unresolved so callers can display a partial valuation
// knowingly.
type NetWorthReport struct {
	Currency   string
	Series     []DailyValue
	Unresolved []string
}

// holdings reconstructs, per asset, the cumulative signed position history
// implied by trades and transfers: base-asset deltas from fills, cash deltas
// from notional and fees, transfer credits and debits. The histories cover
// the full activity so that positions entering a reporting range are carried
// in.
func holdings(trades []Trade, transfers []Transfer) map[string]*date.History[decimal.Decimal] {
	type delta struct {
		day date.Date
		qty decimal.Decimal
	}
	deltas := make(map[string][]delta)
	add := func(asset string, day date.Date, qty decimal.Decimal) {
		if asset == "" || qty.IsZero() {
			return
		}
		deltas[asset] = append(deltas[asset], delta{day, qty})
	}

	for _, t := range trades {
		day := t.Day()
		notional := t.Price.Mul(t.Amount)
		switch t.Side {
		case Buy:
			add(t.Symbol.Base(), day, t.Amount.Decimal())
			add(t.Symbol.Quote(), day, notional.Decimal().Neg())
		case Sell:
			add(t.Symbol.Base(), day, t.Amount.Decimal().Neg())
			add(t.Symbol.Quote(), day, notional.Decimal())
		}
		add(t.Fee.Currency(), day, t.Fee.Decimal().Neg())
	}

	for _, t := range transfers {
		day := t.Day()
		switch t.Direction {
		case Deposit:
			add(t.Asset, day, t.Amount.Decimal())
		case Withdraw:
			add(t.Asset, day, t.Amount.Decimal().Neg())
		}
		add(t.Fee.Currency(), day, t.Fee.Decimal().Neg())
	}

	positions := make(map[string]*date.History[decimal.Decimal])
	for asset, ds := range deltas {
		sort.SliceStable(ds, func(i, j int) bool { return ds[i].day.Before(ds[j].day) })
		h := new(date.History[decimal.Decimal])
		running := decimal.Decimal{}
		for _, d := range ds {
			running = running.Add(d.qty)
			h.Append(d.day, running)
		}
		positions[asset] = h
	}
	return positions
}

// Assets returns the sorted set of assets the ledger ever held: trade
// bases and quotes, fee currencies, transferred coins.
func Assets(trades []Trade, transfers []Transfer) []string {
	positions := holdings(trades, transfers)
	assets := make([]string, 0, len(positions))
	for asset := range positions {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// NetWorth reconstructs the daily net worth over the range: per-asset
// cumulative holdings carried forward through inactive days, multiplied by
// that day's resolved price and summed across assets.
//
// The result is a pure function of the trades, transfers, and price cache:
// re-running it over an unchanged ledger yields bit-identical output.
func NetWorth(ctx context.Context, trades []Trade, transfers []Transfer, rng date.Range, currency string, resolver *Resolver) (*NetWorthReport, error) {
	positions := holdings(trades, transfers)

	assets := make([]string, 0, len(positions))
	for asset := range positions {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	prices, unresolved, err := resolver.ResolveAll(ctx, assets, rng)
	if err != nil {
		return nil, err
	}

	report := &NetWorthReport{Currency: currency, Unresolved: unresolved}
	for day := range rng.Days() {
		total := decimal.Decimal{}
		for _, asset := range assets {
			price, ok := prices[asset]
			if !ok {
				continue // unresolved, contributes zero
			}
			pos, held := positions[asset].ValueAsOf(day)
			if !held || pos.IsZero() {
				continue
			}
			p, known := price.ValueAsOf(day)
			if !known {
				continue // before the first price observation
			}
			total = total.Add(pos.Mul(p))
		}
		report.Series = append(report.Series, DailyValue{Day: day, Value: M(total, currency)})
	}
	return report, nil
}
