// Package broker defines the Broker interface every vendor adapter
// implements, the Sink through which adapters push normalized events, and
// the adapters themselves.
package broker

import (
	"context"
	"errors"
	"time"

	"brokerhub/internal/domain"
)

var (
	// ErrNotFound is returned when an instrument cannot be resolved.
	ErrNotFound = errors.New("symbol not found")

	// ErrNoData is returned when a history query yields no bars.
	ErrNoData = errors.New("no data")

	// ErrUnknownOrder is returned when an adapter has no record of an order.
	ErrUnknownOrder = errors.New("unknown broker order")
)

// Broker abstracts one brokerage connection. All methods except Start and
// the subscription calls are blocking round-trips.
type Broker interface {
	// Name returns the adapter identifier (e.g. "alpaca", "simulator").
	Name() string

	// Start begins delivering pushed events to sink. It must not block.
	Start(ctx context.Context, sink Sink) error

	// ResolveSymbol looks an instrument up by display name.
	ResolveSymbol(ctx context.Context, name string) (domain.Symbol, error)

	// ResolveBrokerCode looks an instrument up by venue-native identifiers.
	ResolveBrokerCode(ctx context.Context, venue, code string) (domain.Symbol, error)

	// History returns bars oldest first. Zero from/to mean unbounded.
	History(ctx context.Context, sym domain.Symbol, tf domain.TimeFrame, from, to time.Time) ([]domain.Bar, error)

	// SubscribeBars starts pushing new bars for sym through the sink.
	SubscribeBars(ctx context.Context, sym domain.Symbol, tf domain.TimeFrame) error

	// UnsubscribeBars stops a subscription made with SubscribeBars.
	UnsubscribeBars(sym domain.Symbol, tf domain.TimeFrame) error

	// SubmitOrder places an order and returns the broker-assigned id.
	SubmitOrder(ctx context.Context, order domain.Order, sym domain.Symbol) (string, error)

	// CancelOrder requests cancellation. The outcome arrives through the sink.
	CancelOrder(ctx context.Context, order domain.Order) error

	// Positions returns the account's open positions.
	Positions(ctx context.Context, account string) ([]domain.Position, error)

	// Cash returns the account's free cash.
	Cash(ctx context.Context, account string) (float64, error)

	// LastPrice returns the latest traded price of sym.
	LastPrice(ctx context.Context, sym domain.Symbol) (float64, error)

	// Close releases the connection and stops all subscriptions.
	Close() error
}

// Sink receives normalized events from an adapter. Implementations must be
// safe to call from any goroutine and must not block for long.
type Sink interface {
	OnOrder(domain.OrderUpdate)
	OnTrade(domain.Trade)
	OnPosition(domain.Position)
	OnBar(domain.Bar)
}
