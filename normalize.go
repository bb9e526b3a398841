package coinpnl

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// QuoteRate returns the reporting-currency value of one unit of the quote
// asset: the fixed peg for stable assets, else the oracle's last ticker
// price against the preferred stable quotes, first pair that answers.
func (r *Resolver) QuoteRate(ctx context.Context, quote string) (decimal.Decimal, error) {
	if peg, ok := Stables[quote]; ok {
		return peg, nil
	}
	for _, q := range r.quotes() {
		price, err := r.Oracle.Ticker(ctx, Symbol(quote+"/"+q))
		if errors.Is(err, ErrNoData) {
			continue
		}
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("ticker for %s: %w", quote, err)
		}
		return price, nil
	}
	return decimal.Decimal{}, fmt.Errorf("%s: %w", quote, ErrNoData)
}

// NormalizedTotal sums realized figures across instruments in the reporting
// currency. Instruments whose quote asset has no conversion rate are left
// out of the total and returned in the second value, sorted, so a partial
// total is always visibly partial.
func NormalizedTotal(ctx context.Context, pnls []PnL, currency string, r *Resolver) (Money, []string, error) {
	rates := make(map[string]decimal.Decimal)
	var unconverted []string
	skipped := make(map[string]bool)

	total := M(0, currency)
	for _, p := range pnls {
		quote := p.Symbol.Quote()
		rate, ok := rates[quote]
		if !ok && !skipped[quote] {
			var err error
			rate, err = r.QuoteRate(ctx, quote)
			if errors.Is(err, ErrNoData) {
				skipped[quote] = true
				unconverted = append(unconverted, quote)
			} else if err != nil {
				return Money{}, nil, err
			} else {
				rates[quote] = rate
			}
		}
		if skipped[quote] {
			continue
		}
		total = total.Add(M(p.Realized.Decimal().Mul(rate), currency))
	}

	sort.Strings(unconverted)
	return total, unconverted, nil
}
