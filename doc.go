// Package coinpnl tracks cryptocurrency trading activity across venues and
// derives profit-and-loss and net-worth figures from it. It is designed to be
// local-first and auditable: the ledger database is the single source of
// truth, and everything else is recomputed from it deterministically.
//
// The core functionalities include:
//   - Ledger Ingestion: Pulling trade and transfer history from venue APIs
//     with resumable pagination, rate-limit pacing, and idempotent upserts
//     keyed by stable per-venue identifiers.
//   - FIFO Matching: Computing realized profit-and-loss per instrument from
//     the time-ordered trade stream, in the instrument's native quote
//     currency, with exact decimal arithmetic.
//   - Price Resolution: Building daily price series in the reporting currency
//     from an oracle, with stable-asset shortcuts, preferred-quote fallbacks,
//     and forward-filled gaps.
//   - Valuation: Reconstructing a dense daily net-worth series from positions,
//     cash flows, and resolved prices.
//
// This package serves as the foundational logic for the `cpt` command-line
// tool.
package coinpnl
