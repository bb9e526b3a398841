package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/etnz/coinpnl"
	"github.com/etnz/coinpnl/renderer"
	"github.com/google/subcommands"
)

type pnlCmd struct {
	symbol   string
	currency string
	source   string
}

func (*pnlCmd) Name() string     { return "pnl" }
func (*pnlCmd) Synopsis() string { return "realized profit-and-loss per instrument, FIFO matched" }
func (*pnlCmd) Usage() string {
	return `cpt pnl [-symbol <BASE/QUOTE>] [-c <CCY>] [-source <name>]

  Replays the ledger's trades in execution order and matches sells against
  buys oldest-first. Figures are reported in each instrument's native quote
  currency, with a grand total converted to the reporting currency at the
  current ticker rate.
`
}

func (c *pnlCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.symbol, "symbol", "", "Report a single instrument, e.g. ETH/USDT. All by default.")
	f.StringVar(&c.currency, "c", "", "Reporting currency for the normalized total. $REPORT_CCY or USD by default.")
	f.StringVar(&c.source, "source", "binance", "Price source for conversion rates: binance or coingecko.")
}

func (c *pnlCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	store, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening ledger: %v\n", err)
		return subcommands.ExitFailure
	}
	defer store.Close()

	trades, err := store.Trades(coinpnl.Symbol(c.symbol))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading trades: %v\n", err)
		return subcommands.ExitFailure
	}
	if len(trades) == 0 {
		fmt.Fprintln(os.Stderr, "No trades in the ledger. Run 'cpt ingest' first.")
		return subcommands.ExitSuccess
	}

	pnls := coinpnl.Realize(trades)

	resolver, err := newResolver(c.source, store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	var normalized *coinpnl.Money
	var unconverted []string
	total, unconverted, err := coinpnl.NormalizedTotal(ctx, pnls, reportCurrency(c.currency), resolver)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot normalize totals: %v\n", err)
	} else {
		normalized = &total
	}

	printMarkdown(renderer.PnLMarkdown(pnls, normalized, unconverted))
	return subcommands.ExitSuccess
}
