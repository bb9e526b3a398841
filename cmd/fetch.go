package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/etnz/coinpnl"
	"github.com/etnz/coinpnl/date"
	"github.com/google/subcommands"
)

type fetchCmd struct {
	start  string
	end    string
	source string
	assets string
}

func (*fetchCmd) Name() string     { return "fetch" }
func (*fetchCmd) Synopsis() string { return "prefetch daily prices into the ledger's cache" }
func (*fetchCmd) Usage() string {
	return `cpt fetch [-s <date>] [-d <date>] [-source <binance|coingecko>] [-assets <A,B,...>]

  Resolves and caches daily prices for every asset the ledger holds, so
  later valuations run offline. Cached days are never refetched.
`
}

func (c *fetchCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.start, "s", "", "Start date. Defaults to 365 days before the end date.")
	f.StringVar(&c.end, "d", date.Today().String(), "End date")
	f.StringVar(&c.source, "source", "binance", "Price source (binance, coingecko)")
	f.StringVar(&c.assets, "assets", "", "Comma separated assets to fetch. Defaults to every asset in the ledger.")
}

func (c *fetchCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	end, err := date.Parse(c.end)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing end date: %v\n", err)
		return subcommands.ExitUsageError
	}
	start := end.Add(-365)
	if c.start != "" {
		if start, err = date.Parse(c.start); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing start date: %v\n", err)
			return subcommands.ExitUsageError
		}
	}
	rng := date.NewRange(start, end)

	store, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening ledger: %v\n", err)
		return subcommands.ExitFailure
	}
	defer store.Close()

	var assets []string
	if c.assets != "" {
		for _, a := range strings.Split(c.assets, ",") {
			if a = strings.TrimSpace(a); a != "" {
				assets = append(assets, strings.ToUpper(a))
			}
		}
	} else {
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
		assets = coinpnl.Assets(trades, transfers)
	}
	if len(assets) == 0 {
		fmt.Fprintln(os.Stderr, "Nothing to fetch: the ledger holds no assets.")
		return subcommands.ExitSuccess
	}

	resolver, err := newResolver(c.source, store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	series, unresolved, err := resolver.ResolveAll(ctx, assets, rng)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching prices: %v\n", err)
		return subcommands.ExitFailure
	}

	for _, asset := range assets {
		if h, ok := series[asset]; ok {
			fmt.Printf("%-8s %d days cached over %s\n", asset, h.Len(), rng)
		}
	}
	for _, asset := range unresolved {
		fmt.Fprintf(os.Stderr, "%-8s no price source found\n", asset)
	}
	return subcommands.ExitSuccess
}
