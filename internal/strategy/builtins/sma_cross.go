// Package builtins provides the strategy implementations that ship with
// brokerhub.
package builtins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"brokerhub/internal/domain"
	"brokerhub/internal/notify"
	"brokerhub/internal/orders"
	"brokerhub/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// Register adds every builtin strategy to r.
func Register(r *strategy.Registry) {
	r.Register("sma-cross", func(params map[string]float64) (strategy.Strategy, error) {
		short, long, qty := 10, 30, int64(1)
		if v, ok := params["short"]; ok {
			short = int(v)
		}
		if v, ok := params["long"]; ok {
			long = int(v)
		}
		if v, ok := params["qty"]; ok {
			qty = int64(v)
		}
		return NewSMACross(short, long, qty)
	})
}

// SMACross implements a simple moving average crossover strategy. It goes
// long qty units when the short-period SMA crosses above the long-period SMA
// and flattens when it crosses below. One order is in flight at a time.
type SMACross struct {
	shortPeriod int
	longPeriod  int
	qty         int64

	closes   []float64
	prevDiff float64
	primed   bool
	pending  int64
	log      *slog.Logger
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods and order size.
func NewSMACross(short, long int, qty int64) (*SMACross, error) {
	if short <= 0 || long <= short {
		return nil, fmt.Errorf("sma-cross: need 0 < short < long, got %d/%d", short, long)
	}
	if qty <= 0 {
		return nil, fmt.Errorf("sma-cross: qty must be positive, got %d", qty)
	}
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
		qty:         qty,
		log:         slog.Default().With("strategy", "sma-cross"),
	}, nil
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// Init pre-allocates the price buffer.
func (s *SMACross) Init(_ context.Context, _ strategy.Trader) error {
	s.closes = make([]float64, 0, s.longPeriod)
	return nil
}

// OnNotification clears the in-flight order once it is terminal.
func (s *SMACross) OnNotification(_ context.Context, _ strategy.Trader, n notify.Notification) {
	if n.Kind != notify.KindOrder || n.Order.Ref != s.pending {
		return
	}
	if n.Order.Status.Terminal() {
		s.log.Debug("order done", "ref", n.Order.Ref, "status", n.Order.Status)
		s.pending = 0
	}
}

// OnBar records the close and trades on a crossover.
func (s *SMACross) OnBar(ctx context.Context, t strategy.Trader, bar domain.Bar) error {
	if len(s.closes) == s.longPeriod {
		copy(s.closes, s.closes[1:])
		s.closes = s.closes[:s.longPeriod-1]
	}
	s.closes = append(s.closes, bar.Close)
	if len(s.closes) < s.longPeriod {
		return nil
	}

	diff := mean(s.closes[s.longPeriod-s.shortPeriod:]) - mean(s.closes)
	crossedUp := s.primed && s.prevDiff <= 0 && diff > 0
	crossedDown := s.primed && s.prevDiff >= 0 && diff < 0
	s.prevDiff, s.primed = diff, true
	if s.pending != 0 || (!crossedUp && !crossedDown) {
		return nil
	}

	pos, err := t.Position(ctx, bar.Symbol)
	if err != nil {
		return err
	}
	req := domain.OrderRequest{Symbol: bar.Symbol, Type: domain.ExecMarket, Transmit: true}
	switch {
	case crossedUp && pos.Qty < s.qty:
		req.Side, req.Qty = domain.SideBuy, s.qty-pos.Qty
	case crossedDown && pos.Qty > 0:
		req.Side, req.Qty = domain.SideSell, pos.Qty
	default:
		return nil
	}

	o, err := t.Submit(ctx, req)
	var verr *orders.ValidationError
	if errors.As(err, &verr) {
		s.log.Warn("order refused", "reason", verr.Reason)
		return nil
	}
	if err != nil {
		return err
	}
	s.pending = o.Ref
	return nil
}

func mean(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}
