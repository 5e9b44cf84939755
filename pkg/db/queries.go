// Package db persists the trading core's domain state as JSON blobs in
// a single-writer SQLite file, per spec.md §6.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"spotbot-core/internal/model"
	"spotbot-core/internal/monitor"
)

// ErrNotFound is returned when a lookup finds no row.
var ErrNotFound = errors.New("record not found")

// Queries is the persistence port the engine depends on.
type Queries struct {
	db      *sql.DB
	metrics *monitor.SystemMetrics
}

// NewQueries wraps the sql.DB in domain-shaped queries. metrics may be
// nil, in which case DBLatency recording is skipped.
func NewQueries(db *sql.DB, metrics *monitor.SystemMetrics) *Queries {
	return &Queries{db: db, metrics: metrics}
}

// Queries returns a Queries bound to this database's handle.
func (d *Database) Queries(metrics *monitor.SystemMetrics) *Queries {
	return NewQueries(d.DB, metrics)
}

// dbTimer starts a Timer against DBLatency, or returns nil if metrics
// were not configured; Timer.Stop() is safe to call on a nil Timer.
func (q *Queries) dbTimer() *monitor.Timer {
	if q.metrics == nil {
		return nil
	}
	return monitor.NewTimer(q.metrics.DBLatency)
}

// SaveSettings replaces the single persisted settings row.
func (q *Queries) SaveSettings(ctx context.Context, s model.Settings) error {
	defer q.dbTimer().Stop()
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO bot_settings (id, data, updated_at)
		VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP
	`, string(data))
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// LoadSettings returns the persisted settings, or ErrNotFound if none exist yet.
func (q *Queries) LoadSettings(ctx context.Context) (model.Settings, error) {
	defer q.dbTimer().Stop()
	var data string
	err := q.db.QueryRowContext(ctx, `SELECT data FROM bot_settings WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Settings{}, ErrNotFound
	}
	if err != nil {
		return model.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	var s model.Settings
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return model.Settings{}, fmt.Errorf("unmarshal settings: %w", err)
	}
	return s, nil
}

// SaveActiveTrade upserts one open position, keyed by symbol.
func (q *Queries) SaveActiveTrade(ctx context.Context, symbol string, trade model.ActiveTrade) error {
	defer q.dbTimer().Stop()
	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("marshal active trade: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO active_trades (symbol, data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(symbol) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP
	`, symbol, string(data))
	if err != nil {
		return fmt.Errorf("save active trade: %w", err)
	}
	return nil
}

// DeleteActiveTrade removes the open position for symbol, if any.
func (q *Queries) DeleteActiveTrade(ctx context.Context, symbol string) error {
	defer q.dbTimer().Stop()
	if _, err := q.db.ExecContext(ctx, `DELETE FROM active_trades WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("delete active trade: %w", err)
	}
	return nil
}

// LoadActiveTrades returns all open positions, keyed by symbol.
func (q *Queries) LoadActiveTrades(ctx context.Context) (map[string]model.ActiveTrade, error) {
	defer q.dbTimer().Stop()
	rows, err := q.db.QueryContext(ctx, `SELECT symbol, data FROM active_trades`)
	if err != nil {
		return nil, fmt.Errorf("query active trades: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.ActiveTrade)
	for rows.Next() {
		var symbol, data string
		if err := rows.Scan(&symbol, &data); err != nil {
			return nil, fmt.Errorf("scan active trade: %w", err)
		}
		var trade model.ActiveTrade
		if err := json.Unmarshal([]byte(data), &trade); err != nil {
			return nil, fmt.Errorf("unmarshal active trade %s: %w", symbol, err)
		}
		out[symbol] = trade
	}
	return out, rows.Err()
}

// SaveLedgerItem appends one completed trade. The ledger is append-only:
// rows are never updated or deleted.
func (q *Queries) SaveLedgerItem(ctx context.Context, trade model.CompletedTrade) error {
	defer q.dbTimer().Stop()
	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("marshal ledger item: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO trade_ledger (id, timestamp, data)
		VALUES (?, ?, ?)
	`, trade.ID, trade.Timestamp, string(data))
	if err != nil {
		return fmt.Errorf("save ledger item: %w", err)
	}
	return nil
}

// LoadLedger returns up to limit completed trades, newest first.
func (q *Queries) LoadLedger(ctx context.Context, limit int) ([]model.CompletedTrade, error) {
	defer q.dbTimer().Stop()
	rows, err := q.db.QueryContext(ctx, `
		SELECT data FROM trade_ledger ORDER BY timestamp DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var out []model.CompletedTrade
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan ledger item: %w", err)
		}
		var trade model.CompletedTrade
		if err := json.Unmarshal([]byte(data), &trade); err != nil {
			return nil, fmt.Errorf("unmarshal ledger item: %w", err)
		}
		out = append(out, trade)
	}
	return out, rows.Err()
}
