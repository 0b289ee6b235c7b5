package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/baharkarakas/point-ledger/internal/metrics"
	"github.com/baharkarakas/point-ledger/internal/models"
	repo "github.com/baharkarakas/point-ledger/internal/repository"
)

// Serializer runs work with exclusive ownership of one user's ledger.
// Implemented by keylock.Striped and worker.Queues.
type Serializer interface {
	RunExclusive(ctx context.Context, userID int64, work func() error) error
}

type PointService struct {
	store repo.Store
	ser   Serializer
	now   func() time.Time
}

func NewPointService(store repo.Store, ser Serializer) *PointService {
	return &PointService{store: store, ser: ser, now: time.Now}
}

// ----------------- Queries -----------------

// Point never waits on the serializer; it may trail an in-flight mutation.
func (s *PointService) Point(ctx context.Context, userID int64) (models.UserPoint, error) {
	return s.store.Balances().Get(ctx, userID)
}

func (s *PointService) History(ctx context.Context, userID int64) ([]models.PointHistory, error) {
	return s.store.Histories().ListByUser(ctx, userID)
}

// ----------------- Mutations -----------------

func (s *PointService) Charge(ctx context.Context, userID, amount int64) (models.UserPoint, error) {
	return s.apply(ctx, userID, amount, models.TxnCharge)
}

func (s *PointService) Use(ctx context.Context, userID, amount int64) (models.UserPoint, error) {
	return s.apply(ctx, userID, amount, models.TxnUse)
}

func (s *PointService) apply(ctx context.Context, userID, amount int64, typ models.TransactionType) (models.UserPoint, error) {
	if err := ValidateAmount(amount); err != nil {
		s.reject(ctx, userID, amount, typ, err)
		return models.UserPoint{}, err
	}

	var out models.UserPoint
	err := s.ser.RunExclusive(ctx, userID, func() error {
		// a started commit is never interrupted by the caller going away
		cctx := context.WithoutCancel(ctx)
		return s.store.WithTx(cctx, func(b repo.Balances, h repo.Histories) error {
			cur, err := b.Get(cctx, userID)
			if err != nil {
				return fmt.Errorf("read balance: %w", err)
			}
			next, err := nextPoint(cur.Point, amount, typ)
			if err != nil {
				return err
			}
			at := s.commitTime(cur)
			saved, err := b.Put(cctx, userID, next, at)
			if err != nil {
				return fmt.Errorf("write balance: %w", err)
			}
			if _, err := h.Append(cctx, userID, amount, typ, at); err != nil {
				return fmt.Errorf("append history: %w", err)
			}
			out = saved
			return nil
		})
	})
	if err != nil {
		s.reject(ctx, userID, amount, typ, err)
		return models.UserPoint{}, err
	}

	metrics.PointTransactionsTotal.WithLabelValues(string(typ)).Inc()
	slog.DebugContext(ctx, "point transaction committed",
		"user_id", userID, "type", typ, "amount", amount, "point", out.Point)
	return out, nil
}

// commitTime never goes behind the user's previous commit. A placeholder
// balance carries no previous commit, so it sets no floor.
func (s *PointService) commitTime(cur models.UserPoint) time.Time {
	now := s.now()
	if cur.Stored && now.Before(cur.UpdatedAt) {
		return cur.UpdatedAt
	}
	return now
}

func nextPoint(cur, amount int64, typ models.TransactionType) (int64, error) {
	switch typ {
	case models.TxnCharge:
		if cur > math.MaxInt64-amount {
			return 0, fmt.Errorf("%w: balance %d, charge %d", ErrBalanceOverflow, cur, amount)
		}
		return cur + amount, nil
	case models.TxnUse:
		if cur < amount {
			return 0, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientBalance, cur, amount)
		}
		return cur - amount, nil
	}
	return 0, fmt.Errorf("services: unknown transaction type %q", typ)
}

func (s *PointService) reject(ctx context.Context, userID, amount int64, typ models.TransactionType, err error) {
	reason := Reason(err)
	metrics.PointTransactionsRejected.WithLabelValues(string(typ), reason).Inc()

	attrs := []any{"user_id", userID, "type", typ, "amount", amount, "reason", reason, "err", err}
	if reason == "internal" {
		slog.ErrorContext(ctx, "point transaction failed", attrs...)
		return
	}
	slog.InfoContext(ctx, "point transaction rejected", attrs...)
}

// Reason classifies a mutation error into a short stable label.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrBalanceOverflow):
		return "balance_overflow"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "internal"
}
