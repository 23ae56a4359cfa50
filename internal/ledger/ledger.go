// Package ledger derives per-account positions from a stream of signed
// trades. It is not safe for concurrent use; the owning session serializes
// every call.
package ledger

import (
	"sort"

	"brokerhub/internal/domain"
)

// Fill is the result of applying one trade: the new signed size and average
// price, plus how many units of the trade opened new exposure and how many
// closed existing exposure. Opened and Closed are magnitudes.
type Fill struct {
	Size     int64
	AvgPrice float64
	Opened   int64
	Closed   int64
}

type key struct {
	account string
	symbol  string
}

// Ledger holds positions keyed by (account, symbol).
type Ledger struct {
	positions map[key]*domain.Position
	last      map[string]float64
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{
		positions: make(map[key]*domain.Position),
		last:      make(map[string]float64),
	}
}

// ApplyTrade folds a trade into the account's position. A trade on an
// instrument never seen before starts from the zero position.
func (l *Ledger) ApplyTrade(account string, t domain.Trade) Fill {
	p := l.position(account, t.Symbol)
	f := apply(p.Qty, p.AvgPrice, t.Qty, t.Price)
	p.Qty = f.Size
	p.AvgPrice = f.AvgPrice
	if t.Price > 0 {
		l.last[t.Symbol] = t.Price
		p.LastPrice = t.Price
	}
	return f
}

// apply computes the position after adding qty at price to size at avg.
func apply(size int64, avg float64, qty int64, price float64) Fill {
	next := size + qty
	switch {
	case qty == 0:
		return Fill{Size: size, AvgPrice: avg}
	case next == 0:
		return Fill{Size: 0, AvgPrice: 0, Closed: abs(qty)}
	case size == 0:
		return Fill{Size: next, AvgPrice: price, Opened: abs(qty)}
	case sameSign(size, qty):
		total := avg*float64(abs(size)) + price*float64(abs(qty))
		return Fill{Size: next, AvgPrice: total / float64(abs(next)), Opened: abs(qty)}
	case sameSign(size, next):
		return Fill{Size: next, AvgPrice: avg, Closed: abs(qty)}
	default:
		// Reversal: the old side is closed out and the rest opens at price.
		return Fill{Size: next, AvgPrice: price, Opened: abs(next), Closed: abs(size)}
	}
}

// Get returns the account's position in symbol, or a zero position carrying
// the last known price when nothing has been traded.
func (l *Ledger) Get(account, symbol string) domain.Position {
	if p, ok := l.positions[key{account, symbol}]; ok {
		out := *p
		if lp, ok := l.last[symbol]; ok {
			out.LastPrice = lp
		}
		return out
	}
	return domain.Position{Account: account, Symbol: symbol, LastPrice: l.last[symbol]}
}

// Snapshot overwrites the position with broker-reported values. It covers
// moves made outside this system, such as manual trades.
func (l *Ledger) Snapshot(account, symbol string, qty int64, avgPrice float64) domain.Position {
	p := l.position(account, symbol)
	p.Qty = qty
	if qty == 0 {
		p.AvgPrice = 0
	} else {
		p.AvgPrice = avgPrice
	}
	return l.Get(account, symbol)
}

// MarkPrice records the latest market price for symbol.
func (l *Ledger) MarkPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	l.last[symbol] = price
}

// LastPrice returns the latest recorded price for symbol.
func (l *Ledger) LastPrice(symbol string) (float64, bool) {
	p, ok := l.last[symbol]
	return p, ok
}

// Positions returns the account's non-flat positions sorted by symbol.
func (l *Ledger) Positions(account string) []domain.Position {
	var out []domain.Position
	for k := range l.positions {
		if k.account != account {
			continue
		}
		p := l.Get(account, k.symbol)
		if p.Flat() {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Value sums qty*last price over the account's positions, restricted to the
// given symbols when any are passed.
func (l *Ledger) Value(account string, symbols ...string) float64 {
	var filter map[string]bool
	if len(symbols) > 0 {
		filter = make(map[string]bool, len(symbols))
		for _, s := range symbols {
			filter[s] = true
		}
	}
	var total float64
	for _, p := range l.Positions(account) {
		if filter != nil && !filter[p.Symbol] {
			continue
		}
		total += p.Value()
	}
	return total
}

func (l *Ledger) position(account, symbol string) *domain.Position {
	k := key{account, symbol}
	p, ok := l.positions[k]
	if !ok {
		p = &domain.Position{Account: account, Symbol: symbol, LastPrice: l.last[symbol]}
		l.positions[k] = p
	}
	return p
}

func sameSign(a, b int64) bool {
	return (a > 0) == (b > 0)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
