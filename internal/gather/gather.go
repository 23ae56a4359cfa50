// Package gather fills the bar history cache from a broker ahead of use.
package gather

import (
	"context"
	"time"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one gathering pass and returns when it is done or ctx
	// is cancelled.
	Run(ctx context.Context) error
}

// DateRange represents a time range for data fetching. Zero ends are
// unbounded.
type DateRange struct {
	Start time.Time
	End   time.Time
}
