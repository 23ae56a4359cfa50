// Package store persists bar history and the order/trade journal.
package store

import (
	"context"
	"time"

	"brokerhub/internal/domain"
)

// BarCache persists and retrieves bar history per instrument and timeframe.
type BarCache interface {
	// ReadBars returns cached bars of symbol within [from, to], oldest first.
	// Zero bounds are open. A missing cache yields no bars and no error.
	ReadBars(ctx context.Context, symbol string, tf domain.TimeFrame, from, to time.Time) ([]domain.Bar, error)

	// WriteBars merges bars into the cache.
	WriteBars(ctx context.Context, symbol string, tf domain.TimeFrame, bars []domain.Bar) error
}

// Journal records order states and applied trades.
type Journal interface {
	// RecordOrder stores the latest state of an order.
	RecordOrder(ctx context.Context, o domain.Order) error

	// RecordTrade stores a trade applied to account.
	RecordTrade(ctx context.Context, account string, t domain.Trade) error
}
