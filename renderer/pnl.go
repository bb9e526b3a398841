package renderer

import (
	"sort"

	"github.com/etnz/coinpnl"
)

// PnLMarkdown renders the realized profit-and-loss of every instrument,
// with a total line per quote currency. Realized figures stay in their
// native quote, totals across quotes are never mixed. When 'normalized'
// is non-nil it is printed as the grand total in the reporting currency;
// 'unconverted' lists quote assets left out of it.
func PnLMarkdown(pnls []coinpnl.PnL, normalized *coinpnl.Money, unconverted []string) string {
	totals := make(map[string]coinpnl.Money)
	var currencies []string
	for _, p := range pnls {
		cur := p.Realized.Currency()
		if _, seen := totals[cur]; !seen {
			currencies = append(currencies, cur)
		}
		totals[cur] = totals[cur].Add(p.Realized)
	}
	sort.Strings(currencies)

	data := struct {
		Pnls        []coinpnl.PnL
		Totals      []coinpnl.Money
		Normalized  *coinpnl.Money
		Unconverted []string
	}{Pnls: pnls, Normalized: normalized, Unconverted: unconverted}
	for _, cur := range currencies {
		data.Totals = append(data.Totals, totals[cur])
	}

	partials := map[string]string{
		"pnl_rows":   "pnl_rows.md",
		"pnl_totals": "pnl_totals.md",
	}
	return renderTemplate("pnl", "pnl.md", partials, data)
}
