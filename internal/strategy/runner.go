package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"brokerhub/internal/domain"
	"brokerhub/internal/engine"
)

// Runner feeds one strategy from a Session. Before each bar it drains the
// notifications queued since the previous bar and hands them to the
// strategy.
type Runner struct {
	session *engine.Session
	strat   Strategy
	log     *slog.Logger
}

// NewRunner creates a Runner for strat over session.
func NewRunner(session *engine.Session, strat Strategy, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		session: session,
		strat:   strat,
		log:     log.With("strategy", strat.Name()),
	}
}

// Init calls the strategy's Init.
func (r *Runner) Init(ctx context.Context) error {
	return r.strat.Init(ctx, r.session)
}

// Step processes one bar: it waits for pending broker events, closes the
// notification batch, delivers it, then calls OnBar.
func (r *Runner) Step(ctx context.Context, bar domain.Bar) error {
	if err := r.session.Flush(ctx); err != nil {
		return err
	}
	r.session.Next()
	notes, _ := r.session.Notifications().Drain()
	for _, n := range notes {
		r.strat.OnNotification(ctx, r.session, n)
	}
	if err := r.strat.OnBar(ctx, r.session, bar); err != nil {
		return fmt.Errorf("%s on bar %s: %w", r.strat.Name(), bar.Time.Format("2006-01-02 15:04"), err)
	}
	return nil
}

// Run subscribes to symbol bars and steps the strategy on each one until ctx
// is done. Bars arriving while the strategy is busy are buffered up to
// buffer; beyond that they are dropped with a warning.
func (r *Runner) Run(ctx context.Context, symbol string, tf domain.TimeFrame, buffer int) error {
	if buffer <= 0 {
		buffer = 64
	}
	sym, err := r.session.Symbols().Resolve(ctx, symbol)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", symbol, err)
	}
	symbol = sym.Name

	bars := make(chan domain.Bar, buffer)
	id := r.session.BarEvents.Subscribe(func(b domain.Bar) {
		if b.Symbol != symbol || b.TimeFrame != tf {
			return
		}
		select {
		case bars <- b:
		default:
			r.log.Warn("strategy behind, dropping bar", "symbol", b.Symbol, "time", b.Time)
		}
	})
	defer r.session.BarEvents.Unsubscribe(id)

	if err := r.session.SubscribeBars(ctx, symbol, tf); err != nil {
		return err
	}
	defer func() {
		if err := r.session.UnsubscribeBars(symbol, tf); err != nil {
			r.log.Warn("unsubscribing bars", "error", err)
		}
	}()

	if err := r.Init(ctx); err != nil {
		return err
	}
	r.log.Info("strategy running", "symbol", symbol, "tf", tf)
	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-bars:
			if err := r.Step(ctx, b); err != nil {
				return err
			}
		}
	}
}
