package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/atrex/options_exec_engine/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS closed_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trade_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			realized_pnl REAL NOT NULL,
			reason TEXT NOT NULL,
			detail TEXT,
			entry_time DATETIME NOT NULL,
			exit_time DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_closed_trades_exit_time ON closed_trades(exit_time);`,
		`CREATE TABLE IF NOT EXISTS trade_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trade_id TEXT,
			kind TEXT NOT NULL,
			detail TEXT,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trade_events_trade_id ON trade_events(trade_id);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// TradeRepository Implementation

func (s *SQLiteStore) SaveClosedTrade(ctx context.Context, trade *domain.ClosedTrade) error {
	query := `INSERT INTO closed_trades (trade_id, symbol, direction, quantity, entry_price, exit_price, realized_pnl, reason, detail, entry_time, exit_time)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		trade.TradeID, trade.Symbol, trade.Direction, trade.Quantity, trade.EntryPrice,
		trade.ExitPrice, trade.RealizedPnL, trade.Reason, trade.Detail, trade.EntryTime, trade.ExitTime)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		trade.ID = id
	}
	return nil
}

func (s *SQLiteStore) ListClosedTrades(ctx context.Context, limit int) ([]*domain.ClosedTrade, error) {
	query := `SELECT id, trade_id, symbol, direction, quantity, entry_price, exit_price, realized_pnl, reason, detail, entry_time, exit_time
			  FROM closed_trades ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanClosedTrades(rows)
}

func (s *SQLiteStore) ListClosedTradesSince(ctx context.Context, since time.Time) ([]*domain.ClosedTrade, error) {
	query := `SELECT id, trade_id, symbol, direction, quantity, entry_price, exit_price, realized_pnl, reason, detail, entry_time, exit_time
			  FROM closed_trades WHERE exit_time >= ? ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanClosedTrades(rows)
}

func scanClosedTrades(rows *sql.Rows) ([]*domain.ClosedTrade, error) {
	var trades []*domain.ClosedTrade
	for rows.Next() {
		var t domain.ClosedTrade
		if err := rows.Scan(&t.ID, &t.TradeID, &t.Symbol, &t.Direction, &t.Quantity, &t.EntryPrice,
			&t.ExitPrice, &t.RealizedPnL, &t.Reason, &t.Detail, &t.EntryTime, &t.ExitTime); err != nil {
			return nil, err
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

func (s *SQLiteStore) SaveTradeEvent(ctx context.Context, event *domain.TradeEvent) error {
	query := `INSERT INTO trade_events (trade_id, kind, detail, created_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, event.TradeID, event.Kind, event.Detail, event.CreatedAt)
	return err
}

func (s *SQLiteStore) ListTradeEvents(ctx context.Context, limit int) ([]*domain.TradeEvent, error) {
	query := `SELECT id, trade_id, kind, detail, created_at FROM trade_events ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.TradeEvent
	for rows.Next() {
		var e domain.TradeEvent
		if err := rows.Scan(&e.ID, &e.TradeID, &e.Kind, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
