package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"brokerhub/internal/domain"
)

// Compile-time interface check.
var _ BarCache = (*ParquetStore)(nil)

// ParquetStore implements BarCache using one Parquet file per instrument and
// timeframe.
type ParquetStore struct {
	DataDir string

	mu sync.Mutex
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for bar data.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// ---------------------------------------------------------------------------
// BarCache implementation
// ---------------------------------------------------------------------------

// WriteBars merges bars into the file for symbol and tf. Bars with a
// timestamp already on disk replace the stored ones. Layout:
//
//	<DataDir>/bars/<TF>/<BOARD.CODE>.parquet
func (s *ParquetStore) WriteBars(_ context.Context, symbol string, tf domain.TimeFrame, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	records := make([]BarRecord, len(bars))
	for i, b := range bars {
		records[i] = BarRecord{
			Symbol:    symbol,
			Timestamp: b.Time.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.barPath(symbol, tf)
	existing, _ := readParquetFile[BarRecord](path)
	merged := mergeBarRecords(existing, records)
	if err := writeParquetFile(path, merged); err != nil {
		return fmt.Errorf("writing bars for %s/%s: %w", symbol, tf, err)
	}
	return nil
}

// ReadBars reads cached bars for symbol and tf within [from, to].
func (s *ParquetStore) ReadBars(_ context.Context, symbol string, tf domain.TimeFrame, from, to time.Time) ([]domain.Bar, error) {
	s.mu.Lock()
	records, err := readParquetFile[BarRecord](s.barPath(symbol, tf))
	s.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading bars for %s/%s: %w", symbol, tf, err)
	}

	board, code := domain.SplitDisplayName(symbol)
	var bars []domain.Bar
	for _, r := range records {
		ts := time.UnixMilli(r.Timestamp).UTC()
		if !from.IsZero() && ts.Before(from) {
			continue
		}
		if !to.IsZero() && ts.After(to) {
			continue
		}
		bars = append(bars, domain.Bar{
			Board:     board,
			Code:      code,
			Symbol:    symbol,
			TimeFrame: tf,
			Time:      ts,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}
	return bars, nil
}

// ListSymbols lists all symbols that have cached bars for tf.
func (s *ParquetStore) ListSymbols(_ context.Context, tf domain.TimeFrame) ([]string, error) {
	dir := filepath.Join(s.DataDir, "bars", string(tf))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".parquet"); ok && !e.IsDir() {
			symbols = append(symbols, name)
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
func (s *ParquetStore) barPath(symbol string, tf domain.TimeFrame) string {
	return filepath.Join(s.DataDir, "bars", string(tf), strings.ToUpper(symbol)+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by timestamp, preferring incoming
// records over existing ones. The result is sorted by timestamp.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

// MergeBars combines two bar series of one instrument. Bars sharing a
// timestamp keep the incoming version; the result is oldest first.
func MergeBars(existing, incoming []domain.Bar) []domain.Bar {
	byTime := make(map[int64]domain.Bar, len(existing)+len(incoming))
	for _, b := range existing {
		byTime[b.Time.UnixMilli()] = b
	}
	for _, b := range incoming {
		byTime[b.Time.UnixMilli()] = b
	}

	merged := make([]domain.Bar, 0, len(byTime))
	for _, b := range byTime {
		merged = append(merged, b)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Time.Before(merged[j].Time)
	})
	return merged
}
