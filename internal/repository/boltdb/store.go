// Package boltdb persists balances and histories in a single BoltDB file.
//
// Layout:
//
//	user_points/<user id>                  -> JSON UserPoint
//	point_histories/<user id>/<entry id>   -> JSON PointHistory
//
// Ids are big-endian so a cursor walks a user's history in commit order.
// Entry ids come from the point_histories bucket sequence.
package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/baharkarakas/point-ledger/internal/models"
	"github.com/baharkarakas/point-ledger/internal/repository"
)

var (
	pointsBucket  = []byte("user_points")
	historyBucket = []byte("point_histories")
)

type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// New opens (or creates) the database file and makes sure both buckets exist.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltdb: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{pointsBucket, historyBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltdb: init buckets: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Balances() repository.Balances   { return balances{s: s} }
func (s *Store) Histories() repository.Histories { return histories{s: s} }

// WithTx runs fn inside one bolt read-write transaction.
func (s *Store) WithTx(_ context.Context, fn func(repository.Balances, repository.Histories) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(balances{s: s, tx: tx}, histories{s: s, tx: tx})
	})
}

func (s *Store) view(tx *bolt.Tx, fn func(*bolt.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	return s.db.View(fn)
}

func (s *Store) update(tx *bolt.Tx, fn func(*bolt.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	return s.db.Update(fn)
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

type balances struct {
	s  *Store
	tx *bolt.Tx
}

func (b balances) Get(_ context.Context, userID int64) (models.UserPoint, error) {
	p := models.Empty(userID, b.s.now())
	err := b.s.view(b.tx, func(tx *bolt.Tx) error {
		v := tx.Bucket(pointsBucket).Get(itob(userID))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		p.Stored = true
		return nil
	})
	return p, err
}

func (b balances) Put(_ context.Context, userID, point int64, at time.Time) (models.UserPoint, error) {
	p := models.UserPoint{UserID: userID, Point: point, UpdatedAt: at, Stored: true}
	data, err := json.Marshal(p)
	if err != nil {
		return models.UserPoint{}, err
	}
	err = b.s.update(b.tx, func(tx *bolt.Tx) error {
		return tx.Bucket(pointsBucket).Put(itob(userID), data)
	})
	return p, err
}

type histories struct {
	s  *Store
	tx *bolt.Tx
}

func (h histories) Append(_ context.Context, userID, amount int64, typ models.TransactionType, at time.Time) (models.PointHistory, error) {
	e := models.PointHistory{UserID: userID, Amount: amount, Type: typ, TimeMillis: at.UnixMilli()}
	err := h.s.update(h.tx, func(tx *bolt.Tx) error {
		root := tx.Bucket(historyBucket)
		seq, err := root.NextSequence()
		if err != nil {
			return err
		}
		e.ID = int64(seq)

		user, err := root.CreateBucketIfNotExists(itob(userID))
		if err != nil {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return user.Put(itob(e.ID), data)
	})
	if err != nil {
		return models.PointHistory{}, err
	}
	return e, nil
}

func (h histories) ListByUser(_ context.Context, userID int64) ([]models.PointHistory, error) {
	out := []models.PointHistory{}
	err := h.s.view(h.tx, func(tx *bolt.Tx) error {
		user := tx.Bucket(historyBucket).Bucket(itob(userID))
		if user == nil {
			return nil
		}
		return user.ForEach(func(_, v []byte) error {
			var e models.PointHistory
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
