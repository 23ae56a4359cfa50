package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"brokerhub/internal/domain"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	got := ps.barPath("tqbr.sber", "M5")
	want := filepath.Join("/data", "bars", "M5", "TQBR.SBER.parquet")
	if got != want {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func dailyBar(day int, close float64) domain.Bar {
	return domain.Bar{
		Symbol: "TQBR.SBER",
		Time:   time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		Open:   close - 1, High: close + 1, Low: close - 2, Close: close,
		Volume: 1000,
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	if err := ps.WriteBars(ctx, "TQBR.SBER", "D1", []domain.Bar{dailyBar(3, 251), dailyBar(2, 250)}); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	got, err := ps.ReadBars(ctx, "TQBR.SBER", "D1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(got))
	}
	if got[0].Close != 250 || got[1].Close != 251 {
		t.Errorf("closes = %v, %v, want 250, 251 (ascending)", got[0].Close, got[1].Close)
	}
	if got[0].Board != "TQBR" || got[0].Code != "SBER" || got[0].TimeFrame != "D1" {
		t.Errorf("bar identity = %s/%s/%s", got[0].Board, got[0].Code, got[0].TimeFrame)
	}
}

func TestParquetStoreMergeKeepsLatest(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	if err := ps.WriteBars(ctx, "TQBR.SBER", "D1", []domain.Bar{dailyBar(2, 250), dailyBar(3, 251)}); err != nil {
		t.Fatalf("WriteBars (first): %v", err)
	}
	if err := ps.WriteBars(ctx, "TQBR.SBER", "D1", []domain.Bar{dailyBar(3, 260), dailyBar(4, 262)}); err != nil {
		t.Fatalf("WriteBars (second): %v", err)
	}

	got, err := ps.ReadBars(ctx, "TQBR.SBER", "D1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ReadBars returned %d bars after merge, want 3", len(got))
	}
	if got[1].Close != 260 {
		t.Errorf("merged bar Close = %v, want 260 (incoming wins)", got[1].Close)
	}
}

func TestParquetStoreReadRangeAndMissing(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	got, err := ps.ReadBars(ctx, "TQBR.GAZP", "D1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ReadBars on missing file: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("missing cache returned %d bars, want 0", len(got))
	}

	if err := ps.WriteBars(ctx, "TQBR.SBER", "D1", []domain.Bar{dailyBar(2, 1), dailyBar(3, 2), dailyBar(4, 3)}); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}
	got, err = ps.ReadBars(ctx, "TQBR.SBER", "D1",
		time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 1 || got[0].Close != 2 {
		t.Errorf("range read = %+v, want the single Jan 3 bar", got)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	for _, sym := range []string{"TQBR.SBER", "SPBFUT.SIZ4"} {
		if err := ps.WriteBars(ctx, sym, "M5", []domain.Bar{dailyBar(2, 1)}); err != nil {
			t.Fatalf("WriteBars(%s): %v", sym, err)
		}
	}
	got, err := ps.ListSymbols(ctx, "M5")
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(got) != 2 || got[0] != "SPBFUT.SIZ4" || got[1] != "TQBR.SBER" {
		t.Errorf("ListSymbols = %v", got)
	}
}

func TestMergeBars(t *testing.T) {
	merged := MergeBars(
		[]domain.Bar{dailyBar(5, 10), dailyBar(2, 11)},
		[]domain.Bar{dailyBar(5, 20), dailyBar(3, 21)},
	)
	if len(merged) != 3 {
		t.Fatalf("len = %d, want 3", len(merged))
	}
	wantCloses := []float64{11, 21, 20}
	for i, w := range wantCloses {
		if merged[i].Close != w {
			t.Errorf("merged[%d].Close = %v, want %v", i, merged[i].Close, w)
		}
	}
}

func openJournal(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreRecordOrder(t *testing.T) {
	s := openJournal(t)
	ctx := context.Background()

	o := domain.Order{
		Ref: 1, Account: "acc", Symbol: "TQBR.SBER", Side: domain.SideBuy,
		Type: domain.ExecLimit, Qty: 100, Price: 250, Status: domain.OrderStatusSubmitted,
	}
	if err := s.RecordOrder(ctx, o); err != nil {
		t.Fatalf("RecordOrder: %v", err)
	}
	o.BrokerID = "B-1"
	o.Status = domain.OrderStatusPartial
	o.Executed.Qty = 40
	o.Executed.AvgPrice = 249.5
	if err := s.RecordOrder(ctx, o); err != nil {
		t.Fatalf("RecordOrder (update): %v", err)
	}

	got, err := s.ListOrders(ctx, "acc", "")
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ListOrders returned %d orders, want 1", len(got))
	}
	if got[0].BrokerID != "B-1" || got[0].Status != domain.OrderStatusPartial || got[0].Executed.Qty != 40 {
		t.Errorf("journaled order = %+v", got[0])
	}

	got, err = s.ListOrders(ctx, "acc", domain.OrderStatusCompleted)
	if err != nil {
		t.Fatalf("ListOrders(completed): %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ListOrders(completed) returned %d orders, want 0", len(got))
	}
}

func TestSQLiteStoreRecordTradeIdempotent(t *testing.T) {
	s := openJournal(t)
	ctx := context.Background()

	tr := domain.Trade{
		BrokerOrderID: "B-1", Symbol: "TQBR.SBER", Qty: -40, Price: 251,
		Time: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
		Key:  domain.TradeKey{ID: "E1", Venue: "MOEX", Symbol: "TQBR.SBER"},
	}
	for i := 0; i < 2; i++ {
		if err := s.RecordTrade(ctx, "acc", tr); err != nil {
			t.Fatalf("RecordTrade #%d: %v", i, err)
		}
	}

	got, err := s.ListTrades(ctx, "acc")
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ListTrades returned %d trades, want 1", len(got))
	}
	if got[0].Qty != -40 || got[0].Key != tr.Key {
		t.Errorf("journaled trade = %+v", got[0])
	}
}

func TestSQLiteStoreMarkSeen(t *testing.T) {
	s := openJournal(t)
	k := domain.TradeKey{ID: "E1", Venue: "MOEX", Symbol: "TQBR.SBER"}

	fresh, err := s.MarkSeen(k)
	if err != nil || !fresh {
		t.Fatalf("first MarkSeen = %v, %v; want true, nil", fresh, err)
	}
	fresh, err = s.MarkSeen(k)
	if err != nil || fresh {
		t.Errorf("second MarkSeen = %v, %v; want false, nil", fresh, err)
	}
	fresh, _ = s.MarkSeen(domain.TradeKey{ID: "E1", Venue: "MOEX", Symbol: "TQBR.GAZP"})
	if !fresh {
		t.Error("same id on another symbol should be fresh")
	}
}
