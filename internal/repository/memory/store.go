// Package memory keeps balances and histories in process memory.
//
// The store guards its maps only against concurrent access from different
// users; ordering of writes for one user is the caller's job.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/baharkarakas/point-ledger/internal/models"
	"github.com/baharkarakas/point-ledger/internal/repository"
)

type Store struct {
	mu       sync.RWMutex
	balances map[int64]models.UserPoint
	history  map[int64][]models.PointHistory

	seq atomic.Int64
	now func() time.Time
}

func New() *Store {
	return &Store{
		balances: make(map[int64]models.UserPoint),
		history:  make(map[int64][]models.PointHistory),
		now:      time.Now,
	}
}

func (s *Store) Balances() repository.Balances   { return balances{s} }
func (s *Store) Histories() repository.Histories { return histories{s} }
func (s *Store) Close() error                    { return nil }

// WithTx stages every write fn makes and publishes them under a single
// store lock, so no reader sees a balance without its history entry.
func (s *Store) WithTx(_ context.Context, fn func(repository.Balances, repository.Histories) error) error {
	tx := &stagedTx{s: s, puts: make(map[int64]models.UserPoint)}
	if err := fn(txBalances{tx}, txHistories{tx}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range tx.puts {
		s.balances[id] = p
	}
	for _, h := range tx.appends {
		s.history[h.UserID] = append(s.history[h.UserID], h)
	}
	return nil
}

func (s *Store) get(userID int64) models.UserPoint {
	s.mu.RLock()
	p, ok := s.balances[userID]
	s.mu.RUnlock()
	if !ok {
		return models.Empty(userID, s.now())
	}
	return p
}

func (s *Store) list(userID int64) []models.PointHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PointHistory, len(s.history[userID]))
	copy(out, s.history[userID])
	return out
}

func (s *Store) newEntry(userID, amount int64, typ models.TransactionType, at time.Time) models.PointHistory {
	return models.PointHistory{
		ID:         s.seq.Add(1),
		UserID:     userID,
		Amount:     amount,
		Type:       typ,
		TimeMillis: at.UnixMilli(),
	}
}

// ----------------- direct access -----------------

type balances struct{ s *Store }

func (b balances) Get(_ context.Context, userID int64) (models.UserPoint, error) {
	return b.s.get(userID), nil
}

func (b balances) Put(_ context.Context, userID, point int64, at time.Time) (models.UserPoint, error) {
	p := models.UserPoint{UserID: userID, Point: point, UpdatedAt: at, Stored: true}
	b.s.mu.Lock()
	b.s.balances[userID] = p
	b.s.mu.Unlock()
	return p, nil
}

type histories struct{ s *Store }

func (h histories) Append(_ context.Context, userID, amount int64, typ models.TransactionType, at time.Time) (models.PointHistory, error) {
	e := h.s.newEntry(userID, amount, typ, at)
	h.s.mu.Lock()
	h.s.history[userID] = append(h.s.history[userID], e)
	h.s.mu.Unlock()
	return e, nil
}

func (h histories) ListByUser(_ context.Context, userID int64) ([]models.PointHistory, error) {
	return h.s.list(userID), nil
}

// ----------------- staged (WithTx) access -----------------

type stagedTx struct {
	s       *Store
	puts    map[int64]models.UserPoint
	appends []models.PointHistory
}

type txBalances struct{ tx *stagedTx }

func (b txBalances) Get(_ context.Context, userID int64) (models.UserPoint, error) {
	if p, ok := b.tx.puts[userID]; ok {
		return p, nil
	}
	return b.tx.s.get(userID), nil
}

func (b txBalances) Put(_ context.Context, userID, point int64, at time.Time) (models.UserPoint, error) {
	p := models.UserPoint{UserID: userID, Point: point, UpdatedAt: at, Stored: true}
	b.tx.puts[userID] = p
	return p, nil
}

type txHistories struct{ tx *stagedTx }

func (h txHistories) Append(_ context.Context, userID, amount int64, typ models.TransactionType, at time.Time) (models.PointHistory, error) {
	e := h.tx.s.newEntry(userID, amount, typ, at)
	h.tx.appends = append(h.tx.appends, e)
	return e, nil
}

func (h txHistories) ListByUser(_ context.Context, userID int64) ([]models.PointHistory, error) {
	out := h.tx.s.list(userID)
	for _, e := range h.tx.appends {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}
