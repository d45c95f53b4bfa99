package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/119969788/poly-copy-trading/internal/domain"
)

// PositionStore implements domain.PositionStore.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore on pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `id, session_id, token_id, side, mode, market_slug, condition_id,
	entry_price, entry_time, size, sold_size, simulated, status,
	exit_price, exit_time, close_reason, realized_pnl`

// Open inserts a new open row. Re-opening an existing id is a no-op.
func (s *PositionStore) Open(ctx context.Context, sessionID string, p domain.Position) error {
	const q = `
		INSERT INTO positions (
			id, session_id, token_id, side, mode, market_slug, condition_id,
			entry_price, entry_time, size, simulated, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'open')
		ON CONFLICT (id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, q,
		p.ID, sessionID, p.TokenID, string(p.Side), string(p.Mode), p.MarketSlug, p.ConditionID,
		p.EntryPrice, p.EntryTime, p.Size, p.Simulated,
	); err != nil {
		return fmt.Errorf("postgres: open position %s: %w", p.ID, err)
	}
	return nil
}

// Close records a sell. The row stays open while shares remain.
func (s *PositionStore) Close(ctx context.Context, c domain.ClosedPosition) error {
	const q = `
		UPDATE positions SET
			sold_size    = sold_size + $2,
			status       = CASE WHEN size - (sold_size + $2) <= 1e-9 THEN 'closed' ELSE 'open' END,
			exit_price   = COALESCE($3::float8, exit_price),
			exit_time    = $4,
			close_reason = $5,
			realized_pnl = CASE WHEN $6::float8 IS NULL THEN realized_pnl
			                    ELSE COALESCE(realized_pnl, 0) + $6::float8 END,
			updated_at   = NOW()
		WHERE id = $1 AND status = 'open'`

	var exit, pnl *float64
	if c.PnLKnown {
		exit, pnl = &c.ExitPrice, &c.RealizedPnL
	}
	tag, err := s.pool.Exec(ctx, q, c.ID, c.SoldSize, exit, c.ExitTime, string(c.Reason), pnl)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: close position %s: %w", c.ID, domain.ErrNotFound)
	}
	return nil
}

// ListOpen returns every open row, oldest first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.PositionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE status = 'open' ORDER BY entry_time`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	return collectPositions(rows)
}

// ListHistory returns rows newest first.
func (s *PositionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.PositionRecord, error) {
	q := newListQuery(`SELECT `+positionCols+` FROM positions WHERE 1=1`, "entry_time", opts)
	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	return collectPositions(rows)
}

func collectPositions(rows pgx.Rows) ([]domain.PositionRecord, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PositionRecord, error) {
		var r domain.PositionRecord
		var side, mode, status, reason string
		err := row.Scan(
			&r.ID, &r.SessionID, &r.TokenID, &side, &mode, &r.MarketSlug, &r.ConditionID,
			&r.EntryPrice, &r.EntryTime, &r.Size, &r.SoldSize, &r.Simulated, &status,
			&r.ExitPrice, &r.ExitTime, &reason, &r.RealizedPnL,
		)
		r.Side = domain.Side(side)
		r.Mode = domain.PositionMode(mode)
		r.Status = domain.PositionStatus(status)
		r.CloseReason = domain.CloseReason(reason)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return out, nil
}
