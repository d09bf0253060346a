package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castlefield/tickbook/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL. It is the durable
// mirror of the in-memory book's order arena.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create inserts a new order record.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	var expiry *time.Time
	if o.Expires() {
		expiry = &o.Expiry
	}

	const query = `
		INSERT INTO orders (
			id, owner, market_id, outcome, side, limit_tick,
			amount, filled, expiry, status, created_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, query,
		int64(o.ID), o.Owner.Hex(), o.MarketID, o.Outcome,
		string(o.Side), o.LimitTick,
		o.Amount.String(), o.Filled.String(),
		expiry, string(o.Status), o.CreatedAt, o.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %d: %w", o.ID, err)
	}
	return nil
}

// UpdateStatus mirrors a lifecycle transition. The filled snapshot carries
// the authoritative fill amount and close timestamp from the book.
func (s *OrderStore) UpdateStatus(ctx context.Context, id uint64, status domain.OrderStatus, filled domain.Order) error {
	const query = `
		UPDATE orders
		SET status = $1, filled = $2, closed_at = $3, updated_at = NOW()
		WHERE id = $4`

	tag, err := s.pool.Exec(ctx, query,
		string(status), filled.Filled.String(), filled.ClosedAt, int64(id))
	if err != nil {
		return fmt.Errorf("postgres: update order status %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const orderSelectCols = `id, owner, market_id, outcome, side, limit_tick,
	amount, filled, expiry, status, created_at, closed_at`

func scanOrderFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Order, error) {
	var o domain.Order
	var id int64
	var owner, side, status, amountStr, filledStr string
	var expiry *time.Time

	err := scanner.Scan(
		&id, &owner, &o.MarketID, &o.Outcome,
		&side, &o.LimitTick,
		&amountStr, &filledStr,
		&expiry, &status, &o.CreatedAt, &o.ClosedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.ID = uint64(id)
	o.Owner = common.HexToAddress(owner)
	o.Side = domain.Side(side)
	o.Status = domain.OrderStatus(status)
	if expiry != nil {
		o.Expiry = *expiry
	}

	o.Amount, _ = new(big.Int).SetString(amountStr, 10)
	o.Filled, _ = new(big.Int).SetString(filledStr, 10)
	if o.Amount == nil || o.Filled == nil {
		return domain.Order{}, fmt.Errorf("postgres: order %d has malformed amount", id)
	}
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetByID retrieves a single order by id.
func (s *OrderStore) GetByID(ctx context.Context, id uint64) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, int64(id))

	o, err := scanOrderFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %d: %w", id, err)
	}
	return o, nil
}

// ListByMarket returns orders for a given market with pagination.
func (s *OrderStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE market_id = $1`
	args := []any{marketID}

	query, args = appendListOpts(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders by market: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by market: %w", err)
	}
	return orders, nil
}

// ListByOwner returns orders for a given owner address with pagination.
func (s *OrderStore) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE owner = $1`
	args := []any{common.HexToAddress(owner).Hex()}

	query, args = appendListOpts(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders by owner: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by owner: %w", err)
	}
	return orders, nil
}

// appendListOpts applies the shared time-filter and pagination clauses.
func appendListOpts(query string, args []any, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
