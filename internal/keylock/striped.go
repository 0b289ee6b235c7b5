// Package keylock serializes work per key with one lazily created lock per
// key. Work for different keys never waits on each other.
//
// Locks are never removed: the registry grows with the number of distinct
// keys seen by the process.
package keylock

import (
	"context"
	"sync"
	"time"

	"github.com/baharkarakas/point-ledger/internal/metrics"
)

// Striped hands out one exclusive slot per key. The zero value is not
// usable, call New.
type Striped struct {
	mu    sync.Mutex
	slots map[int64]chan struct{}
}

func New() *Striped {
	return &Striped{slots: make(map[int64]chan struct{})}
}

// slot returns the key's lock, creating it under s.mu so two first-time
// callers for the same key always share one.
func (s *Striped) slot(key int64) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.slots[key]
	if !ok {
		l = make(chan struct{}, 1)
		s.slots[key] = l
		metrics.SerializerKeys.WithLabelValues("lock").Set(float64(len(s.slots)))
	}
	return l
}

// RunExclusive runs work while holding key's lock and returns its error.
// ctx is only consulted while waiting; once work has started it runs to
// completion. The lock is released on every exit path, panics included.
func (s *Striped) RunExclusive(ctx context.Context, key int64, work func() error) error {
	l := s.slot(key)

	start := time.Now()
	select {
	case l <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	metrics.SerializerWaitSeconds.WithLabelValues("lock").Observe(time.Since(start).Seconds())
	defer func() { <-l }()

	return work()
}

// Len reports how many keys have a lock.
func (s *Striped) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
