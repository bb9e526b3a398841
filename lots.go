package coinpnl

import (
	"sort"
	"sync"
)

// Lot is a still-open buy: a remaining base amount acquired at a price.
// Lots exist only during a matching pass, they are never persisted.
type Lot struct {
	Amount Quantity
	Price  Money // quote per base unit at acquisition
}

// lotQueue is a strictly time-ordered queue of open lots for one instrument.
// The oldest lot is always matched first.
type lotQueue []Lot

func (q lotQueue) total() Quantity {
	var t Quantity
	for _, l := range q {
		t = t.Add(l.Amount)
	}
	return t
}

// PnL is the realized profit-and-loss of one instrument, in the trade's
// native quote currency, together with the residual open lots.
type PnL struct {
	Symbol   Symbol
	Realized Money // native quote currency, not normalized
	OpenLots []Lot
}

// OpenAmount returns the total base amount still held in open lots.
func (p PnL) OpenAmount() Quantity { return lotQueue(p.OpenLots).total() }

// RealizedPnL computes the realized profit-and-loss of a single instrument
// from its trades, in non-decreasing timestamp order, using FIFO matching.
//
// Buys append a lot. Sells consume open lots from the front of the queue:
// min(sell remaining, lot amount) units are matched, realizing
// matched * (sell price - lot price). A sell that exceeds the open inventory
// stops matching once lots run out; the excess stays unmatched because it
// reflects a possibly incomplete ledger, not an error.
//
// The computation is pure: running it twice over the same trades yields
// bit-identical results.
func RealizedPnL(trades []Trade) PnL {
	var p PnL
	var queue lotQueue

	for _, t := range trades {
		if p.Symbol == "" {
			p.Symbol = t.Symbol
			p.Realized = M(0, t.Symbol.Quote())
		}
		if t.Amount.IsZero() {
			continue
		}
		switch t.Side {
		case Buy:
			queue = append(queue, Lot{Amount: t.Amount, Price: t.Price})
		case Sell:
			remaining := t.Amount
			for remaining.IsPositive() && len(queue) > 0 {
				lot := &queue[0]
				matched := remaining.Min(lot.Amount)
				p.Realized = p.Realized.Add(t.Price.Sub(lot.Price).Mul(matched))
				lot.Amount = lot.Amount.Sub(matched)
				remaining = remaining.Sub(matched)
				if lot.Amount.IsZero() {
					queue = queue[1:]
				}
			}
		}
	}

	p.OpenLots = queue
	return p
}

// Realize computes the realized profit-and-loss of every instrument found in
// the trade stream. Trades must be in non-decreasing timestamp order; the
// per-instrument computations are independent and run in parallel.
func Realize(trades []Trade) []PnL {
	bySymbol := make(map[Symbol][]Trade)
	for _, t := range trades {
		bySymbol[t.Symbol] = append(bySymbol[t.Symbol], t)
	}

	results := make([]PnL, 0, len(bySymbol))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, ts := range bySymbol {
		wg.Add(1)
		go func(ts []Trade) {
			defer wg.Done()
			p := RealizedPnL(ts)
			mu.Lock()
			results = append(results, p)
			mu.Unlock()
		}(ts)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Symbol < results[j].Symbol })
	return results
}
