package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helioslabs/helios/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeStore = (*TradeStore)(nil)

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Insert writes a freshly admitted trade record.
func (s *TradeStore) Insert(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trade_records (
			id, opportunity_id, symbol, buy_venue, sell_venue,
			mode, status, expected_profit, actual_profit, fees,
			error, started_at, completed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.OpportunityID, rec.Symbol, rec.BuyVenue, rec.SellVenue,
		string(rec.Mode), string(rec.Status), rec.ExpectedProfit, rec.ActualProfit, rec.Fees,
		rec.Error, rec.StartedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", rec.ID, err)
	}
	return nil
}

// Update writes a trade record's settlement outcome.
func (s *TradeStore) Update(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		UPDATE trade_records SET
			status = $1, actual_profit = $2, fees = $3, error = $4,
			completed_at = $5, updated_at = NOW()
		WHERE id = $6`

	tag, err := s.pool.Exec(ctx, query,
		string(rec.Status), rec.ActualProfit, rec.Fees, rec.Error,
		rec.CompletedAt, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: update trade %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update trade %s: %w", rec.ID, domain.ErrNotFound)
	}
	return nil
}

const selectColumns = `
	id, opportunity_id, symbol, buy_venue, sell_venue,
	mode, status, expected_profit, actual_profit, fees,
	error, started_at, completed_at`

// ListRecent returns the most recently started trades, newest first.
func (s *TradeStore) ListRecent(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT` + selectColumns + `
		FROM trade_records ORDER BY started_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// ListSettledBefore returns terminal trades completed before cutoff, oldest
// first, for cold-storage archival.
func (s *TradeStore) ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `SELECT` + selectColumns + `
		FROM trade_records
		WHERE completed_at IS NOT NULL AND completed_at < $1
		ORDER BY completed_at ASC LIMIT $2`

	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// DailyStats aggregates outcomes for one UTC day.
func (s *TradeStore) DailyStats(ctx context.Context, day time.Time) (domain.DailyStats, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	const query = `
		SELECT
			COALESCE(SUM(actual_profit), 0),
			COUNT(*) FILTER (WHERE status = 'executed'),
			COUNT(*) FILTER (WHERE status IN ('failed', 'cancelled', 'rolled_back'))
		FROM trade_records
		WHERE started_at >= $1 AND started_at < $2`

	stats := domain.DailyStats{Date: dayStart}
	err := s.pool.QueryRow(ctx, query, dayStart, dayEnd).Scan(
		&stats.ProfitLoss, &stats.TradesExecuted, &stats.TradesFailed,
	)
	if err != nil {
		return domain.DailyStats{}, fmt.Errorf("postgres: daily stats %s: %w", dayStart.Format("2006-01-02"), err)
	}
	return stats, nil
}

func scanTrades(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for rows.Next() {
		var rec domain.TradeRecord
		var mode, status string
		err := rows.Scan(
			&rec.ID, &rec.OpportunityID, &rec.Symbol, &rec.BuyVenue, &rec.SellVenue,
			&mode, &status, &rec.ExpectedProfit, &rec.ActualProfit, &rec.Fees,
			&rec.Error, &rec.StartedAt, &rec.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		rec.Mode = domain.Mode(mode)
		rec.Status = domain.TradeStatus(status)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: iterate trades: %w", err)
	}
	return out, nil
}
