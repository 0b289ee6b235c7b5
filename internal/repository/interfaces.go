package repository

import (
	"context"
	"time"

	"github.com/baharkarakas/point-ledger/internal/models"
)

// Balances holds the current point balance per user. It does no per-user
// locking of its own: writes must happen inside the caller's critical
// section for that user.
type Balances interface {
	// Get returns models.Empty for a user that has never been written.
	Get(ctx context.Context, userID int64) (models.UserPoint, error)
	Put(ctx context.Context, userID, point int64, at time.Time) (models.UserPoint, error)
}

// Histories is the append-only per-user transaction log.
type Histories interface {
	Append(ctx context.Context, userID, amount int64, typ models.TransactionType, at time.Time) (models.PointHistory, error)
	// ListByUser returns entries in commit order. Never nil.
	ListByUser(ctx context.Context, userID int64) ([]models.PointHistory, error)
}

// Store groups both tables behind one backend.
type Store interface {
	Balances() Balances
	Histories() Histories

	// WithTx runs fn against a transactional view of both tables: either
	// every write fn made becomes visible, or (fn or commit failed) none does.
	WithTx(ctx context.Context, fn func(b Balances, h Histories) error) error

	Close() error
}
