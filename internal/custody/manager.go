// Package custody owns order fund custody: locking on placement, delivering
// proceeds on fill, and refunding on cancel or expiry. Status transitions out
// of Active happen here and nowhere else, guarded by an optimistic
// status-is-Active check so a cancel that commits first makes a concurrent
// fill a no-op, and vice versa.
package custody

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/castlefield/tickbook/internal/domain"
)

// Manager is the order lifecycle manager. It mediates between order records
// and the two custody ledgers.
type Manager struct {
	collateral domain.CollateralLedger
	positions  domain.PositionLedger
	logger     *slog.Logger
}

// NewManager creates a Manager over the given ledgers.
func NewManager(collateral domain.CollateralLedger, positions domain.PositionLedger, logger *slog.Logger) *Manager {
	return &Manager{
		collateral: collateral,
		positions:  positions,
		logger:     logger.With(slog.String("component", "custody")),
	}
}

// LockForOrder escrows the order's full amount: collateral for buys, outcome
// position for sells. Nothing is locked on failure.
func (m *Manager) LockForOrder(ctx context.Context, o *domain.Order) error {
	var err error
	switch o.Side {
	case domain.SideBuy:
		err = m.collateral.Lock(ctx, o.Owner, o.Amount)
	case domain.SideSell:
		err = m.positions.Lock(ctx, o.Owner, o.MarketID, o.Outcome, o.Amount)
	default:
		return fmt.Errorf("custody: lock order %d: %w", o.ID, domain.ErrValidation)
	}
	if err != nil {
		return fmt.Errorf("custody: lock order %d: %w", o.ID, err)
	}
	return nil
}

// RecordFill settles an atomic fill: the escrowed remaining amount is spent
// into the pool and proceeds are credited to the owner. The order transitions
// Active -> Filled with Filled == Amount. amountOut is what the AMM returned:
// outcome tokens for buys, collateral for sells.
func (m *Manager) RecordFill(ctx context.Context, o *domain.Order, amountOut *big.Int, now time.Time) error {
	if o.Status != domain.OrderStatusActive {
		return fmt.Errorf("custody: fill order %d: %w", o.ID, domain.ErrAlreadyFinal)
	}

	remaining := o.Remaining()
	switch o.Side {
	case domain.SideBuy:
		if err := m.collateral.SpendLocked(ctx, o.Owner, remaining); err != nil {
			return fmt.Errorf("custody: fill order %d: spend: %w", o.ID, err)
		}
		if err := m.positions.Credit(ctx, o.Owner, o.MarketID, o.Outcome, amountOut); err != nil {
			return fmt.Errorf("custody: fill order %d: credit: %w", o.ID, err)
		}
	case domain.SideSell:
		if err := m.positions.SpendLocked(ctx, o.Owner, o.MarketID, o.Outcome, remaining); err != nil {
			return fmt.Errorf("custody: fill order %d: spend: %w", o.ID, err)
		}
		if err := m.collateral.Credit(ctx, o.Owner, amountOut); err != nil {
			return fmt.Errorf("custody: fill order %d: credit: %w", o.ID, err)
		}
	}

	o.Filled = new(big.Int).Set(o.Amount)
	o.Status = domain.OrderStatusFilled
	closed := now
	o.ClosedAt = &closed

	m.logger.InfoContext(ctx, "order filled",
		slog.Uint64("order_id", o.ID),
		slog.String("market_id", o.MarketID),
		slog.String("amount_out", amountOut.String()),
	)
	return nil
}

// Cancel refunds amount - filled to the owner and transitions the order to
// Cancelled. Caller authorization is checked by the order book; this method
// only enforces the Active-status invariant.
func (m *Manager) Cancel(ctx context.Context, o *domain.Order, now time.Time) error {
	return m.release(ctx, o, domain.OrderStatusCancelled, now)
}

// ReapExpired refunds and transitions an expired Active order to Expired.
// Reaping a non-expired or non-Active order fails with ErrInvalidState.
func (m *Manager) ReapExpired(ctx context.Context, o *domain.Order, now time.Time) error {
	if o.Status != domain.OrderStatusActive || !o.ExpiredAt(now) {
		return fmt.Errorf("custody: reap order %d: %w", o.ID, domain.ErrInvalidState)
	}
	return m.release(ctx, o, domain.OrderStatusExpired, now)
}

func (m *Manager) release(ctx context.Context, o *domain.Order, to domain.OrderStatus, now time.Time) error {
	if o.Status != domain.OrderStatusActive {
		return fmt.Errorf("custody: release order %d: %w", o.ID, domain.ErrAlreadyFinal)
	}

	remaining := o.Remaining()
	if remaining.Sign() > 0 {
		var err error
		switch o.Side {
		case domain.SideBuy:
			err = m.collateral.Unlock(ctx, o.Owner, remaining)
		case domain.SideSell:
			err = m.positions.Unlock(ctx, o.Owner, o.MarketID, o.Outcome, remaining)
		}
		if err != nil {
			return fmt.Errorf("custody: release order %d: %w", o.ID, err)
		}
	}

	o.Status = to
	closed := now
	o.ClosedAt = &closed

	m.logger.InfoContext(ctx, "order released",
		slog.Uint64("order_id", o.ID),
		slog.String("status", string(to)),
		slog.String("refunded", remaining.String()),
	)
	return nil
}
