package gather

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
	"brokerhub/internal/store"
)

func TestHistoryBackfill(t *testing.T) {
	dir := t.TempDir()
	sber := domain.Symbol{Board: "TQBR", Code: "SBER"}
	gazp := domain.Symbol{Board: "TQBR", Code: "GAZP"}
	sim := broker.NewSimulatorBroker(0, []domain.Symbol{sber, gazp}, nil)

	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	sim.LoadHistory("TQBR.SBER", "D1", []domain.Bar{
		{Symbol: "TQBR.SBER", Time: t0, Open: 1, High: 2, Low: 1, Close: 2, Volume: 10},
		{Symbol: "TQBR.SBER", Time: t0.AddDate(0, 0, 1), Open: 2, High: 3, Low: 2, Close: 3, Volume: 20},
	})

	cache := store.NewParquetStore(dir)
	progress := filepath.Join(dir, "progress")
	symbols := []string{"TQBR.SBER", "TQBR.GAZP", "TQBR.NOPE"}

	g := NewHistoryBackfill(sim, cache, symbols, "D1", DateRange{}, 2, progress, nil)
	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	res := g.Result()
	if res.Written != 1 || res.Empty != 2 || res.Bars != 2 || res.Failed != 0 {
		t.Errorf("Result() = %+v, want 1 written, 2 empty, 2 bars", res)
	}

	bars, err := cache.ReadBars(context.Background(), "TQBR.SBER", "D1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ReadBars() error = %v", err)
	}
	if len(bars) != 2 || bars[1].Close != 3 {
		t.Errorf("cached bars = %+v, want 2 bars ending at close 3", bars)
	}

	data, err := os.ReadFile(filepath.Join(progress, "D1", ".tried-empty"))
	if err != nil {
		t.Fatalf("reading .tried-empty: %v", err)
	}
	for _, sym := range []string{"TQBR.GAZP", "TQBR.NOPE"} {
		if !strings.Contains(string(data), sym) {
			t.Errorf(".tried-empty missing %s", sym)
		}
	}

	// A second run skips the known-empty symbols.
	g = NewHistoryBackfill(sim, cache, symbols, "D1", DateRange{}, 2, progress, nil)
	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if got := g.Result(); got.Skipped != 2 || got.Written != 1 {
		t.Errorf("second Result() = %+v, want 2 skipped, 1 written", got)
	}
}

func TestProgressTrackerReload(t *testing.T) {
	dir := t.TempDir()
	pt, err := newProgressTracker(dir)
	if err != nil {
		t.Fatalf("newProgressTracker() error = %v", err)
	}
	if err := pt.MarkEmpty("A"); err != nil {
		t.Fatalf("MarkEmpty() error = %v", err)
	}
	if err := pt.MarkEmpty("A"); err != nil {
		t.Fatalf("MarkEmpty() twice error = %v", err)
	}
	if err := pt.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	pt, err = newProgressTracker(dir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer pt.Close()
	if !pt.IsTriedEmpty("A") {
		t.Error("IsTriedEmpty(A) = false after reload")
	}
	if pt.IsTriedEmpty("B") {
		t.Error("IsTriedEmpty(B) = true, want false")
	}
	data, _ := os.ReadFile(filepath.Join(dir, ".tried-empty"))
	if got := strings.Count(string(data), "A\n"); got != 1 {
		t.Errorf(".tried-empty has %d entries for A, want 1", got)
	}
}
