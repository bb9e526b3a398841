// Package cmd implements the CLI application to track a crypto portfolio.
package cmd

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/etnz/coinpnl"
	"github.com/etnz/coinpnl/binance"
	"github.com/etnz/coinpnl/ledger"
	"github.com/google/subcommands"
	"golang.org/x/time/rate"
)

// Commands are the subcommands of the application, in help order.
// A main package registers them on a commander and executes the selected one.
var Commands = []subcommands.Command{
	&ingestCmd{},
	&pnlCmd{},
	&networthCmd{},
	&fetchCmd{},
	&exportCmd{},
	&topicCmd{},
}

// as a CLI application, it has a very short lived lifecycle, so it is ok to
// use global variables.

var dbFile = flag.String("db", getenv("COINPNL_DB", "coinpnl.db"), "Path to the ledger database file")

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// openStore opens the ledger database, creating it on first use.
func openStore() (*ledger.Store, error) {
	return ledger.Open(*dbFile)
}

// newBinanceClient builds a signed client from the environment. The pace of
// one request per 250ms keeps a full backfill well under the weight limit.
func newBinanceClient() (*binance.Client, *rate.Limiter, error) {
	key := os.Getenv("BINANCE_API_KEY")
	secret := os.Getenv("BINANCE_API_SECRET")
	if key == "" || secret == "" {
		return nil, nil, fmt.Errorf("BINANCE_API_KEY and BINANCE_API_SECRET must be set (or put them in a .env file)")
	}

	var pairs []coinpnl.Symbol
	for _, s := range strings.Split(getenv("BINANCE_SYMBOLS", ""), ",") {
		if s = strings.TrimSpace(s); s != "" {
			pairs = append(pairs, coinpnl.Symbol(s))
		}
	}
	if len(pairs) == 0 {
		return nil, nil, fmt.Errorf("BINANCE_SYMBOLS must list the instruments to scan, e.g. ETH/USDT,BTC/USDC")
	}

	client := &binance.Client{Key: key, Secret: secret, Pairs: pairs}
	limiter := rate.NewLimiter(rate.Every(250*time.Millisecond), 1)
	return client, limiter, nil
}

// reportCurrency returns the reporting currency: flag value if set, else
// the REPORT_CCY environment, else USD.
func reportCurrency(flagValue string) string {
	if flagValue != "" {
		return strings.ToUpper(flagValue)
	}
	return strings.ToUpper(getenv("REPORT_CCY", "USD"))
}

// printMarkdown renders markdown for the terminal, falling back to the raw
// text when the terminal cannot be styled.
func printMarkdown(md string) {
	out, err := glamour.Render(md, "auto")
	if err != nil {
		fmt.Print(md)
		return
	}
	fmt.Print(out)
}
