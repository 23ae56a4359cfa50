package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
	"brokerhub/internal/store"
)

// ---------------------------------------------------------------------------
// Compile-time interface check
// ---------------------------------------------------------------------------

var _ Gatherer = (*HistoryBackfill)(nil)

// BackfillResult counts the outcome of a backfill pass.
type BackfillResult struct {
	Written int // symbols with bars written
	Empty   int // symbols the broker had no bars for
	Skipped int // symbols skipped as known-empty
	Failed  int // symbols that errored
	Bars    int
}

// HistoryBackfill downloads bars for a list of symbols through a broker and
// writes them to the bar cache using a pool of workers. Symbols that come
// back empty are remembered under the progress directory and skipped on the
// next run.
type HistoryBackfill struct {
	adapter     broker.Broker
	cache       store.BarCache
	symbols     []string
	tf          domain.TimeFrame
	rng         DateRange
	maxWorkers  int
	progressDir string
	log         *slog.Logger

	result BackfillResult
}

// NewHistoryBackfill creates a backfill of symbols at tf over rng.
// progressDir may be empty to disable the tried-empty list.
func NewHistoryBackfill(adapter broker.Broker, cache store.BarCache, symbols []string, tf domain.TimeFrame, rng DateRange, maxWorkers int, progressDir string, log *slog.Logger) *HistoryBackfill {
	if log == nil {
		log = slog.Default()
	}
	return &HistoryBackfill{
		adapter:     adapter,
		cache:       cache,
		symbols:     symbols,
		tf:          tf,
		rng:         rng,
		maxWorkers:  max(maxWorkers, 1),
		progressDir: progressDir,
		log:         log.With("gatherer", "backfill", "tf", tf),
	}
}

// Name returns the gatherer identifier.
func (g *HistoryBackfill) Name() string { return "backfill" }

// Result returns the counts of the last Run.
func (g *HistoryBackfill) Result() BackfillResult { return g.result }

// Run fetches and stores bars for every symbol not known to be empty.
func (g *HistoryBackfill) Run(ctx context.Context) error {
	var tracker *progressTracker
	if g.progressDir != "" {
		var err error
		tracker, err = newProgressTracker(filepath.Join(g.progressDir, string(g.tf)))
		if err != nil {
			return err
		}
		defer tracker.Close()
	}

	var (
		remaining []string
		skipped   int
	)
	for _, sym := range g.symbols {
		if tracker != nil && tracker.IsTriedEmpty(sym) {
			skipped++
			continue
		}
		remaining = append(remaining, sym)
	}
	g.log.Info("starting backfill", "total", len(g.symbols), "remaining", len(remaining))

	symCh := make(chan string, len(remaining))
	for _, sym := range remaining {
		symCh <- sym
	}
	close(symCh)

	var (
		wg       sync.WaitGroup
		written  atomic.Int64
		empty    atomic.Int64
		failed   atomic.Int64
		nbar     atomic.Int64
		runStart = time.Now()
	)
	workers := min(g.maxWorkers, len(remaining))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range symCh {
				if ctx.Err() != nil {
					return
				}
				n, err := g.fetch(ctx, name)
				switch {
				case errors.Is(err, broker.ErrNoData), errors.Is(err, broker.ErrNotFound):
					empty.Add(1)
					if tracker != nil {
						if err := tracker.MarkEmpty(name); err != nil {
							g.log.Error("marking empty failed", "symbol", name, "err", err)
						}
					}
				case err != nil:
					failed.Add(1)
					g.log.Error("symbol fetch failed", "symbol", name, "err", err)
				default:
					written.Add(1)
					nbar.Add(int64(n))
					g.log.Debug("symbol done", "symbol", name, "bars", n,
						"elapsed", time.Since(runStart).Round(time.Millisecond))
				}
			}
		}()
	}
	wg.Wait()

	g.result = BackfillResult{
		Written: int(written.Load()),
		Empty:   int(empty.Load()),
		Skipped: skipped,
		Failed:  int(failed.Load()),
		Bars:    int(nbar.Load()),
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	g.log.Info("complete",
		"written", g.result.Written,
		"empty", g.result.Empty,
		"skipped", g.result.Skipped,
		"failed", g.result.Failed,
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return nil
}

func (g *HistoryBackfill) fetch(ctx context.Context, name string) (int, error) {
	sym, err := g.adapter.ResolveSymbol(ctx, name)
	if err != nil {
		return 0, err
	}
	bars, err := g.adapter.History(ctx, sym, g.tf, g.rng.Start, g.rng.End)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, broker.ErrNoData
	}
	if err := g.cache.WriteBars(ctx, sym.Name, g.tf, bars); err != nil {
		return 0, fmt.Errorf("writing %s: %w", sym.Name, err)
	}
	return len(bars), nil
}
