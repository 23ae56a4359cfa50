package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
	"brokerhub/internal/store"
)

// Order returns a snapshot of the order with local ref.
func (s *Session) Order(ctx context.Context, ref int64) (domain.Order, bool, error) {
	var (
		out domain.Order
		ok  bool
	)
	err := s.do(ctx, func() {
		var o *domain.Order
		if o, ok = s.book.Get(ref); ok {
			out = o.Clone()
		}
	})
	return out, ok, err
}

// Orders returns snapshots of every order in creation order.
func (s *Session) Orders(ctx context.Context) ([]domain.Order, error) {
	var out []domain.Order
	err := s.do(ctx, func() {
		for o := range s.book.All() {
			out = append(out, o.Clone())
		}
	})
	return out, err
}

// ActiveOrders returns snapshots of the non-terminal orders.
func (s *Session) ActiveOrders(ctx context.Context) ([]domain.Order, error) {
	var out []domain.Order
	err := s.do(ctx, func() {
		for o := range s.book.Active() {
			out = append(out, o.Clone())
		}
	})
	return out, err
}

// Position returns the position in symbol, a zero position when nothing was
// ever traded. A missing last price is fetched from the adapter.
func (s *Session) Position(ctx context.Context, symbol string) (domain.Position, error) {
	sym, resolved := s.canonical(ctx, symbol)
	var p domain.Position
	err := s.do(ctx, func() { p = s.ledger.Get(s.opts.Account, sym.Name) })
	if err != nil || p.LastPrice != 0 || !resolved {
		return p, err
	}
	price, perr := s.adapter.LastPrice(ctx, sym)
	if perr != nil {
		return p, nil
	}
	p.LastPrice = price
	return p, s.do(ctx, func() { s.ledger.MarkPrice(sym.Name, price) })
}

// Positions returns all non-flat positions of the account.
func (s *Session) Positions(ctx context.Context) ([]domain.Position, error) {
	var out []domain.Position
	err := s.do(ctx, func() { out = s.ledger.Positions(s.opts.Account) })
	return out, err
}

// Value returns the market value of the account's positions at last known
// prices, restricted to symbols when any are given.
func (s *Session) Value(ctx context.Context, symbols ...string) (float64, error) {
	names := make([]string, len(symbols))
	for i, name := range symbols {
		sym, _ := s.canonical(ctx, name)
		names[i] = sym.Name
	}
	symbols = names
	var v float64
	err := s.do(ctx, func() { v = s.ledger.Value(s.opts.Account, symbols...) })
	return v, err
}

// Cash returns the account's free cash as reported by the adapter.
func (s *Session) Cash(ctx context.Context) (float64, error) {
	return s.adapter.Cash(ctx, s.opts.Account)
}

// History returns bars of symbol oldest first. Cached bars are merged with
// fresh ones from the adapter and written back; when the adapter fails the
// cache alone answers. An empty result is broker.ErrNoData.
func (s *Session) History(ctx context.Context, symbol string, tf domain.TimeFrame, from, to time.Time) ([]domain.Bar, error) {
	if _, _, err := domain.ParseTimeFrame(tf); err != nil {
		return nil, err
	}
	sym, err := s.symbols.Resolve(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", broker.ErrNoData, err)
	}

	var cached []domain.Bar
	if s.opts.Cache != nil {
		cached, err = s.opts.Cache.ReadBars(ctx, sym.Name, tf, from, to)
		if err != nil {
			s.log.Warn("reading bar cache", "symbol", sym.Name, "tf", tf, "error", err)
		}
	}

	fresh, err := s.adapter.History(ctx, sym, tf, from, to)
	switch {
	case err != nil && !errors.Is(err, broker.ErrNoData):
		if len(cached) == 0 {
			return nil, fmt.Errorf("history for %s: %w", sym.Name, err)
		}
		s.log.Warn("history fetch failed, serving cache", "symbol", sym.Name, "tf", tf, "error", err)
	case len(fresh) > 0 && s.opts.Cache != nil:
		if err := s.opts.Cache.WriteBars(ctx, sym.Name, tf, fresh); err != nil {
			s.log.Warn("writing bar cache", "symbol", sym.Name, "tf", tf, "error", err)
		}
	}

	bars := store.MergeBars(cached, fresh)
	if len(bars) == 0 {
		return nil, broker.ErrNoData
	}
	return bars, nil
}

// SubscribeBars starts pushing new bars of symbol to BarEvents. Subscribing
// twice is a no-op.
func (s *Session) SubscribeBars(ctx context.Context, symbol string, tf domain.TimeFrame) error {
	sym, err := s.symbols.Resolve(ctx, symbol)
	if err != nil {
		return err
	}
	k := subKey{sym.Name, tf}

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if _, ok := s.subs[k]; ok {
		return nil
	}
	if err := s.adapter.SubscribeBars(ctx, sym, tf); err != nil {
		return fmt.Errorf("subscribing %s %s: %w", sym.Name, tf, err)
	}
	s.subs[k] = sym
	return nil
}

// UnsubscribeBars stops a subscription made with SubscribeBars.
func (s *Session) UnsubscribeBars(symbol string, tf domain.TimeFrame) error {
	if sym, ok := s.symbols.Cached(symbol); ok {
		symbol = sym.Name
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	k := subKey{symbol, tf}
	sym, ok := s.subs[k]
	if !ok {
		return nil
	}
	delete(s.subs, k)
	return s.adapter.UnsubscribeBars(sym, tf)
}

// canonical resolves name to its registered symbol. When the registry cannot
// resolve it the name is used as given and ok is false.
func (s *Session) canonical(ctx context.Context, name string) (sym domain.Symbol, ok bool) {
	sym, err := s.symbols.Resolve(ctx, name)
	if err != nil {
		return domain.Symbol{Name: name}, false
	}
	return sym, true
}
