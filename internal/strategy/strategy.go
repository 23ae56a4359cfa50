// Package strategy defines the Strategy interface for trading strategies,
// a Registry of strategy factories, the Runner that drives one strategy
// against a Session, and a Backtester over the simulator.
package strategy

import (
	"context"
	"fmt"
	"sort"

	"brokerhub/internal/domain"
	"brokerhub/internal/engine"
	"brokerhub/internal/notify"
)

// Trader is the part of a Session a strategy may call.
type Trader interface {
	Submit(ctx context.Context, req domain.OrderRequest) (domain.Order, error)
	Cancel(ctx context.Context, ref int64) error
	Position(ctx context.Context, symbol string) (domain.Position, error)
	ActiveOrders(ctx context.Context) ([]domain.Order, error)
	Cash(ctx context.Context) (float64, error)
}

var _ Trader = (*engine.Session)(nil)

// Strategy is the interface that all trading strategies must implement.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Init performs any one-time setup required before the first bar.
	Init(ctx context.Context, t Trader) error

	// OnNotification is called for every order or message notification
	// queued since the previous bar, in order, before OnBar.
	OnNotification(ctx context.Context, t Trader, n notify.Notification)

	// OnBar is called once per completed bar.
	OnBar(ctx context.Context, t Trader, bar domain.Bar) error
}

// Factory builds a strategy from numeric parameters. Missing parameters take
// the strategy's defaults.
type Factory func(params map[string]float64) (Strategy, error)

// Registry holds named strategy factories for lookup and enumeration.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// New builds the strategy registered under name.
func (r *Registry) New(name string, params map[string]float64) (Strategy, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return f(params)
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
