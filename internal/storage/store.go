// Package storage persists live order records and backtest runs.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/backtest"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/types"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Store is shared by both backends. Queries are written with "?" and
// rebound for PostgreSQL.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// BacktestRun is the summary row of a saved backtest.
type BacktestRun struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	StrategyID   string    `json:"strategy_id"`
	StrategyName string    `json:"strategy_name"`
	Symbol       string    `json:"symbol"`
	Timeframe    string    `json:"timeframe"`
	TotalReturn  float64   `json:"total_return"`
	MaxDrawdown  float64   `json:"max_drawdown"`
	SharpeRatio  float64   `json:"sharpe_ratio"`
	TotalTrades  int       `json:"total_trades"`
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS live_orders (
		id TEXT PRIMARY KEY,
		created_at BIGINT NOT NULL,
		strategy_id TEXT NOT NULL,
		strategy_name TEXT NOT NULL,
		symbol TEXT NOT NULL,
		signal_type TEXT NOT NULL,
		order_id TEXT NOT NULL,
		side TEXT NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		success BOOLEAN NOT NULL,
		error_message TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_live_orders_created_at ON live_orders (created_at)`,
	`CREATE TABLE IF NOT EXISTS backtest_runs (
		id TEXT PRIMARY KEY,
		created_at BIGINT NOT NULL,
		strategy_id TEXT NOT NULL,
		strategy_name TEXT NOT NULL,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		total_return DOUBLE PRECISION NOT NULL,
		max_drawdown DOUBLE PRECISION NOT NULL,
		sharpe_ratio DOUBLE PRECISION NOT NULL,
		total_trades INTEGER NOT NULL,
		report TEXT NOT NULL
	)`,
}

func (s *Store) createTables() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) AppendOrderRecord(ctx context.Context, rec types.OrderRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}

	query := `
		INSERT INTO live_orders
			(id, created_at, strategy_id, strategy_name, symbol, signal_type, order_id, side, size, price, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		rec.ID,
		rec.Time.UnixMilli(),
		rec.StrategyID,
		rec.StrategyName,
		rec.Symbol,
		rec.SignalType,
		rec.OrderID,
		string(rec.Side),
		rec.Size,
		rec.Price,
		rec.Success,
		rec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order record: %w", err)
	}
	return nil
}

// ListOrderRecords returns the newest records first.
func (s *Store) ListOrderRecords(ctx context.Context, limit int) ([]types.OrderRecord, error) {
	query := `
		SELECT id, created_at, strategy_id, strategy_name, symbol, signal_type, order_id, side, size, price, success, error_message
		FROM live_orders
		ORDER BY created_at DESC, id
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query order records: %w", err)
	}
	defer rows.Close()

	var records []types.OrderRecord
	for rows.Next() {
		var rec types.OrderRecord
		var ms int64
		var side string
		if err := rows.Scan(
			&rec.ID,
			&ms,
			&rec.StrategyID,
			&rec.StrategyName,
			&rec.Symbol,
			&rec.SignalType,
			&rec.OrderID,
			&side,
			&rec.Size,
			&rec.Price,
			&rec.Success,
			&rec.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order record: %w", err)
		}
		rec.Time = time.UnixMilli(ms).UTC()
		rec.Side = types.Side(side)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveBacktest stores a report and returns its run id.
func (s *Store) SaveBacktest(ctx context.Context, report backtest.Report) (string, error) {
	payload, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	id := uuid.NewString()
	query := `
		INSERT INTO backtest_runs
			(id, created_at, strategy_id, strategy_name, symbol, timeframe, total_return, max_drawdown, sharpe_ratio, total_trades, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, s.rebind(query),
		id,
		time.Now().UnixMilli(),
		report.StrategyID,
		report.StrategyName,
		report.Symbol,
		report.Timeframe,
		report.Metrics.TotalReturn,
		report.Metrics.MaxDrawdown,
		report.Metrics.SharpeRatio,
		report.Metrics.TotalTrades,
		string(payload),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert backtest run: %w", err)
	}
	return id, nil
}

// GetBacktest returns nil, nil when no run has the id.
func (s *Store) GetBacktest(ctx context.Context, id string) (*backtest.Report, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT report FROM backtest_runs WHERE id = ?`), id).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query backtest run: %w", err)
	}

	var report backtest.Report
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &report, nil
}

// ListBacktests returns run summaries, newest first.
func (s *Store) ListBacktests(ctx context.Context, limit int) ([]BacktestRun, error) {
	query := `
		SELECT id, created_at, strategy_id, strategy_name, symbol, timeframe, total_return, max_drawdown, sharpe_ratio, total_trades
		FROM backtest_runs
		ORDER BY created_at DESC, id
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest runs: %w", err)
	}
	defer rows.Close()

	var runs []BacktestRun
	for rows.Next() {
		var run BacktestRun
		var ms int64
		if err := rows.Scan(
			&run.ID,
			&ms,
			&run.StrategyID,
			&run.StrategyName,
			&run.Symbol,
			&run.Timeframe,
			&run.TotalReturn,
			&run.MaxDrawdown,
			&run.SharpeRatio,
			&run.TotalTrades,
		); err != nil {
			return nil, fmt.Errorf("failed to scan backtest run: %w", err)
		}
		run.CreatedAt = time.UnixMilli(ms).UTC()
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites "?" placeholders to "$1", "$2", ... for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
