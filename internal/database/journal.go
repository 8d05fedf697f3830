package database

import (
	"context"
	"fmt"
	"time"

	"github.com/khouryz/ClawdTraderAgent-sub000/internal/risk"
)

// TradeRecord is one row of the closed-trade journal.
type TradeRecord struct {
	ID         int64     `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   int       `json:"quantity"`
	RiskAmount float64   `json:"risk_amount"`
	PnL        float64   `json:"pnl"`
	RMultiple  float64   `json:"r_multiple"`
	ExitReason string    `json:"exit_reason"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
}

// Journal records closed trades and halt events for later review.
type Journal struct {
	db *DB
}

// NewJournal creates a journal over the given database.
func NewJournal(db *DB) *Journal {
	return &Journal{db: db}
}

// RecordTrade appends a closed trade.
func (j *Journal) RecordTrade(ctx context.Context, rec *TradeRecord) error {
	query := `
		INSERT INTO trades (symbol, side, entry_price, exit_price, quantity,
			risk_amount, pnl, r_multiple, exit_reason, entry_time, exit_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	err := j.db.Pool.QueryRow(ctx, query,
		rec.Symbol, rec.Side, rec.EntryPrice, rec.ExitPrice, rec.Quantity,
		rec.RiskAmount, rec.PnL, rec.RMultiple, rec.ExitReason,
		rec.EntryTime, rec.ExitTime,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to record trade: %w", err)
	}
	return nil
}

// RecordHalt appends a halt event with the governor counters at the time
// of the halt.
func (j *Journal) RecordHalt(ctx context.Context, reason, message string, state risk.State) error {
	query := `
		INSERT INTO halts (reason, message, daily_pnl, weekly_pnl, consecutive_losses)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := j.db.Pool.Exec(ctx, query,
		reason, message, state.DailyPnL, state.WeeklyPnL, state.ConsecutiveLosses)
	if err != nil {
		return fmt.Errorf("failed to record halt: %w", err)
	}
	return nil
}

// RecentTrades returns the most recently closed trades.
func (j *Journal) RecentTrades(ctx context.Context, limit int) ([]*TradeRecord, error) {
	query := `
		SELECT id, symbol, side, entry_price, exit_price, quantity,
			risk_amount, pnl, r_multiple, exit_reason, entry_time, exit_time
		FROM trades
		ORDER BY exit_time DESC
		LIMIT $1`

	rows, err := j.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []*TradeRecord
	for rows.Next() {
		rec := &TradeRecord{}
		if err := rows.Scan(&rec.ID, &rec.Symbol, &rec.Side, &rec.EntryPrice,
			&rec.ExitPrice, &rec.Quantity, &rec.RiskAmount, &rec.PnL,
			&rec.RMultiple, &rec.ExitReason, &rec.EntryTime, &rec.ExitTime); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trades = append(trades, rec)
	}
	return trades, rows.Err()
}
