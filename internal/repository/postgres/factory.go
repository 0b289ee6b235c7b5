package postgres

import (
	"context"
	"fmt"

	repo "github.com/baharkarakas/point-ledger/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct{ pool *pgxpool.Pool }

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

func (s *Store) Balances() repo.Balances   { return &balancesRepo{q: s.pool} }
func (s *Store) Histories() repo.Histories { return &historiesRepo{q: s.pool} }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// WithTx runs fn inside a single read-committed transaction. Writes for one
// user are already ordered by the caller's serializer, and serializable
// isolation would fail unrelated users on shared predicate locks.
func (s *Store) WithTx(ctx context.Context, fn func(repo.Balances, repo.Histories) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	if err := fn(&balancesRepo{q: tx}, &historiesRepo{q: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}
