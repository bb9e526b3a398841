package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/etnz/coinpnl"
	"github.com/etnz/coinpnl/binance"
	"github.com/etnz/coinpnl/coingecko"
	"github.com/etnz/coinpnl/date"
	"github.com/etnz/coinpnl/ledger"
	"github.com/etnz/coinpnl/renderer"
	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

type networthCmd struct {
	start    string
	end      string
	currency string
	source   string
}

func (*networthCmd) Name() string     { return "networth" }
func (*networthCmd) Synopsis() string { return "daily portfolio valuation in the reporting currency" }
func (*networthCmd) Usage() string {
	return `cpt networth [-s <date>] [-d <date>] [-c <currency>] [-source <binance|coingecko>]

  Reconstructs daily positions from the ledger and values them with daily
  closing prices, one row per day. Missing prices carry the last known
  close forward; assets with no price source contribute zero and are
  listed in the header.
`
}

func (c *networthCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.start, "s", "", "Start date. Defaults to 30 days before the end date.")
	f.StringVar(&c.end, "d", date.Today().String(), "End date of the valuation")
	f.StringVar(&c.currency, "c", "", "Reporting currency. Defaults to REPORT_CCY or USD.")
	f.StringVar(&c.source, "source", "binance", "Price source (binance, coingecko)")
}

func (c *networthCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	end, err := date.Parse(c.end)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing end date: %v\n", err)
		return subcommands.ExitUsageError
	}
	start := end.Add(-30)
	if c.start != "" {
		if start, err = date.Parse(c.start); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing start date: %v\n", err)
			return subcommands.ExitUsageError
		}
	}
	if end.Before(start) {
		fmt.Fprintf(os.Stderr, "End date %s is before start date %s\n", end, start)
		return subcommands.ExitUsageError
	}
	rng := date.NewRange(start, end)

	store, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening ledger: %v\n", err)
		return subcommands.ExitFailure
	}
	defer store.Close()

	trades, err := store.Trades("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading trades: %v\n", err)
		return subcommands.ExitFailure
	}
	transfers, err := store.Transfers()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading transfers: %v\n", err)
		return subcommands.ExitFailure
	}
	if len(trades) == 0 && len(transfers) == 0 {
		fmt.Fprintln(os.Stderr, "Ledger is empty. Run 'cpt ingest' first.")
		return subcommands.ExitSuccess
	}

	resolver, err := newResolver(c.source, store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	report, err := coinpnl.NetWorth(ctx, trades, transfers, rng, reportCurrency(c.currency), resolver)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error computing net worth: %v\n", err)
		return subcommands.ExitFailure
	}

	printMarkdown(renderer.NetWorthMarkdown(report))
	return subcommands.ExitSuccess
}

// newResolver wires a price source to the ledger's price cache. The market
// data endpoints are public, no credentials needed.
func newResolver(source string, store *ledger.Store) (*coinpnl.Resolver, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	var oracle coinpnl.Oracle
	switch source {
	case "binance":
		oracle = &binance.Client{}
	case "coingecko":
		oracle = &coingecko.Oracle{}
	default:
		return nil, fmt.Errorf("unknown price source %q (binance, coingecko)", source)
	}
	return &coinpnl.Resolver{Oracle: oracle, Cache: store, Log: log}, nil
}
