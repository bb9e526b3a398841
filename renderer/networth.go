package renderer

import (
	"fmt"
	"strings"

	"github.com/etnz/coinpnl"
)

// NetWorthMarkdown renders the dense daily net-worth series with day to day
// changes, and calls out assets that were valued at zero for lack of a
// price source.
func NetWorthMarkdown(report *coinpnl.NetWorthReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Net Worth (%s)\n\n", report.Currency)

	if len(report.Unresolved) > 0 {
		fmt.Fprint(&b, "> Partial valuation: no price source for ")
		fmt.Fprint(&b, strings.Join(report.Unresolved, ", "))
		fmt.Fprint(&b, "; these assets contribute zero below.\n\n")
	}

	fmt.Fprintln(&b, "| Day | Net Worth | Change |")
	fmt.Fprintln(&b, "|:---|---:|---:|")

	var prev coinpnl.Money
	for i, dv := range report.Series {
		change := "-"
		if i > 0 {
			change = dv.Value.Sub(prev).SignedString()
		}
		fmt.Fprintf(&b, "| %s | %s | %s |\n", dv.Day, dv.Value, change)
		prev = dv.Value
	}

	if n := len(report.Series); n > 0 {
		first, last := report.Series[0].Value, report.Series[n-1].Value
		fmt.Fprintf(&b, "\n**Change over period**: %s\n", last.Sub(first).SignedString())
	}
	return b.String()
}
