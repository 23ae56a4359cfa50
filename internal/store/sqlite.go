package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"brokerhub/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Journal = (*SQLiteStore)(nil)

// SQLiteStore implements Journal backed by a SQLite database. It also keeps
// the set of trade keys already applied so duplicates can be recognised
// across restarts.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	account    TEXT    NOT NULL,
	ref        INTEGER NOT NULL,
	broker_id  TEXT    NOT NULL DEFAULT '',
	symbol     TEXT    NOT NULL,
	side       TEXT    NOT NULL,
	type       TEXT    NOT NULL,
	qty        INTEGER NOT NULL,
	price      REAL    NOT NULL DEFAULT 0,
	stop_price REAL    NOT NULL DEFAULT 0,
	status     TEXT    NOT NULL,
	reason     TEXT    NOT NULL DEFAULT '',
	filled     INTEGER NOT NULL DEFAULT 0,
	avg_price  REAL    NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (account, ref)
);
CREATE TABLE IF NOT EXISTS trades (
	venue           TEXT    NOT NULL,
	symbol          TEXT    NOT NULL,
	exec_id         TEXT    NOT NULL,
	account         TEXT    NOT NULL,
	broker_order_id TEXT    NOT NULL,
	qty             INTEGER NOT NULL,
	price           REAL    NOT NULL,
	time            INTEGER NOT NULL,
	PRIMARY KEY (venue, symbol, exec_id)
);
CREATE TABLE IF NOT EXISTS seen_trades (
	venue   TEXT NOT NULL,
	symbol  TEXT NOT NULL,
	exec_id TEXT NOT NULL,
	PRIMARY KEY (venue, symbol, exec_id)
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns
// a ready-to-use SQLiteStore with its tables created.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// shared.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Journal implementation
// ---------------------------------------------------------------------------

// RecordOrder upserts the latest state of an order.
func (s *SQLiteStore) RecordOrder(ctx context.Context, o domain.Order) error {
	updated := o.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO orders (account, ref, broker_id, symbol, side, type, qty, price, stop_price, status, reason, filled, avg_price, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (account, ref) DO UPDATE SET
	broker_id = excluded.broker_id,
	status = excluded.status,
	reason = excluded.reason,
	filled = excluded.filled,
	avg_price = excluded.avg_price,
	updated_at = excluded.updated_at`,
		o.Account, o.Ref, o.BrokerID, o.Symbol, string(o.Side), string(o.Type), o.Qty,
		o.Price, o.StopPrice, string(o.Status), o.Reason, o.Executed.Qty, o.Executed.AvgPrice,
		updated.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("recording order %d: %w", o.Ref, err)
	}
	return nil
}

// RecordTrade inserts an applied trade. Re-recording the same execution is a
// no-op.
func (s *SQLiteStore) RecordTrade(ctx context.Context, account string, t domain.Trade) error {
	_, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO trades (venue, symbol, exec_id, account, broker_order_id, qty, price, time)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Key.Venue, t.Key.Symbol, t.Key.ID, account, t.BrokerOrderID, t.Qty, t.Price, t.Time.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("recording trade %s: %w", t.Key, err)
	}
	return nil
}

// MarkSeen records a trade key and reports whether it was new.
func (s *SQLiteStore) MarkSeen(k domain.TradeKey) (bool, error) {
	res, err := s.db.Exec(`INSERT OR IGNORE INTO seen_trades (venue, symbol, exec_id) VALUES (?, ?, ?)`,
		k.Venue, k.Symbol, k.ID)
	if err != nil {
		return false, fmt.Errorf("marking trade %s: %w", k, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListOrders returns the journaled orders of account, optionally filtered by
// status, ordered by ref.
func (s *SQLiteStore) ListOrders(ctx context.Context, account string, status domain.OrderStatus) ([]domain.Order, error) {
	query := `SELECT ref, broker_id, symbol, side, type, qty, price, stop_price, status, reason, filled, avg_price, updated_at
FROM orders WHERE account = ?`
	args := []any{account}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY ref`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var (
			o                domain.Order
			side, typ, state string
			updated          int64
		)
		if err := rows.Scan(&o.Ref, &o.BrokerID, &o.Symbol, &side, &typ, &o.Qty, &o.Price, &o.StopPrice,
			&state, &o.Reason, &o.Executed.Qty, &o.Executed.AvgPrice, &updated); err != nil {
			return nil, err
		}
		o.Account = account
		o.Side = domain.Side(side)
		o.Type = domain.ExecType(typ)
		o.Status = domain.OrderStatus(state)
		o.UpdatedAt = time.UnixMilli(updated)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ListTrades returns the journaled trades of account in execution order.
func (s *SQLiteStore) ListTrades(ctx context.Context, account string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT venue, symbol, exec_id, broker_order_id, qty, price, time
FROM trades WHERE account = ? ORDER BY time, exec_id`, account)
	if err != nil {
		return nil, fmt.Errorf("listing trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var (
			t  domain.Trade
			ts int64
		)
		if err := rows.Scan(&t.Key.Venue, &t.Key.Symbol, &t.Key.ID, &t.BrokerOrderID, &t.Qty, &t.Price, &ts); err != nil {
			return nil, err
		}
		t.Symbol = t.Key.Symbol
		t.Time = time.UnixMilli(ts)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
