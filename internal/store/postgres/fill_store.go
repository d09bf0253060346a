package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castlefield/tickbook/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a new FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

// Insert records one executed fill.
func (s *FillStore) Insert(ctx context.Context, f domain.Fill) error {
	const query = `
		INSERT INTO fills (
			id, order_id, market_id, outcome, side, tick,
			amount_in, amount_out, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		f.ID, int64(f.OrderID), f.MarketID, f.Outcome,
		string(f.Side), f.Tick,
		f.AmountIn.String(), f.AmountOut.String(), f.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert fill %s: %w", f.ID, err)
	}
	return nil
}

const fillSelectCols = `id, order_id, market_id, outcome, side, tick,
	amount_in, amount_out, executed_at`

func scanFillRows(rows pgx.Rows) ([]domain.Fill, error) {
	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var orderID int64
		var side, amountInStr, amountOutStr string

		err := rows.Scan(
			&f.ID, &orderID, &f.MarketID, &f.Outcome,
			&side, &f.Tick,
			&amountInStr, &amountOutStr, &f.ExecutedAt,
		)
		if err != nil {
			return nil, err
		}

		f.OrderID = uint64(orderID)
		f.Side = domain.Side(side)
		f.AmountIn, _ = new(big.Int).SetString(amountInStr, 10)
		f.AmountOut, _ = new(big.Int).SetString(amountOutStr, 10)
		if f.AmountIn == nil || f.AmountOut == nil {
			return nil, fmt.Errorf("postgres: fill %s has malformed amount", f.ID)
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// ListByMarket returns fills for a market with pagination.
func (s *FillStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Fill, error) {
	query := `SELECT ` + fillSelectCols + ` FROM fills WHERE market_id = $1`
	args := []any{marketID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND executed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND executed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY executed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills by market: %w", err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills by market: %w", err)
	}
	return fills, nil
}

// ListBefore returns up to limit fills executed strictly before cutoff,
// oldest first. Used by the archiver to page through export batches.
func (s *FillStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fillSelectCols+` FROM fills
		 WHERE executed_at < $1
		 ORDER BY executed_at ASC
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills before cutoff: %w", err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills before cutoff: %w", err)
	}
	return fills, nil
}
