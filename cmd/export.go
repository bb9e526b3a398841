package cmd

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/etnz/coinpnl"
	"github.com/google/subcommands"
)

type exportCmd struct {
	output string
	kind   string
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "export the ledger as CSV" }
func (*exportCmd) Usage() string {
	return `cpt export [-o <file>] [-kind <trades|transfers>]

  Writes the ledger as CSV, to stdout by default, for spreadsheets and
  external tooling. Amounts are exact decimal strings.
`
}

func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.output, "o", "", "Output file. Defaults to stdout.")
	f.StringVar(&c.kind, "kind", "trades", "What to export (trades, transfers)")
}

func (c *exportCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	store, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening ledger: %v\n", err)
		return subcommands.ExitFailure
	}
	defer store.Close()

	var out io.Writer = os.Stdout
	if c.output != "" {
		file, err := os.Create(c.output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating %q: %v\n", c.output, err)
			return subcommands.ExitFailure
		}
		defer file.Close()
		out = file
	}

	switch c.kind {
	case "trades":
		trades, err := store.Trades("")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading trades: %v\n", err)
			return subcommands.ExitFailure
		}
		err = writeTradesCSV(out, trades)
	case "transfers":
		transfers, err2 := store.Transfers()
		if err2 != nil {
			fmt.Fprintf(os.Stderr, "Error reading transfers: %v\n", err2)
			return subcommands.ExitFailure
		}
		err = writeTransfersCSV(out, transfers)
	default:
		fmt.Fprintf(os.Stderr, "Unknown kind %q (trades, transfers)\n", c.kind)
		return subcommands.ExitUsageError
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error writing CSV: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func writeTradesCSV(out io.Writer, trades []coinpnl.Trade) error {
	w := csv.NewWriter(out)
	w.Write([]string{"id", "venue", "symbol", "side", "amount", "price", "quote", "fee", "fee_currency", "executed_at"})
	for _, t := range trades {
		w.Write([]string{
			t.ID, t.Venue, string(t.Symbol), t.Side.String(),
			t.Amount.String(), t.Price.Decimal().String(), t.Price.Currency(),
			t.Fee.Decimal().String(), t.Fee.Currency(),
			t.Time().Format("2006-01-02 15:04:05"),
		})
	}
	w.Flush()
	return w.Error()
}

func writeTransfersCSV(out io.Writer, transfers []coinpnl.Transfer) error {
	w := csv.NewWriter(out)
	w.Write([]string{"id", "venue", "direction", "asset", "amount", "fee", "fee_currency", "status", "address", "txid", "at"})
	for _, t := range transfers {
		w.Write([]string{
			t.ID, t.Venue, t.Direction.String(), t.Asset,
			t.Amount.String(), t.Fee.Decimal().String(), t.Fee.Currency(),
			t.Status, t.Address, t.TxID, t.Day().String(),
		})
	}
	w.Flush()
	return w.Error()
}
