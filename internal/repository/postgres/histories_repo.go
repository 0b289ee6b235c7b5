package postgres

import (
	"context"
	"time"

	"github.com/baharkarakas/point-ledger/internal/models"
)

type historiesRepo struct{ q querier }

func (r *historiesRepo) Append(ctx context.Context, userID, amount int64, typ models.TransactionType, at time.Time) (models.PointHistory, error) {
	h := models.PointHistory{
		UserID:     userID,
		Amount:     amount,
		Type:       typ,
		TimeMillis: at.UnixMilli(),
	}
	err := r.q.QueryRow(
		ctx,
		`INSERT INTO point_histories(user_id, amount, type, time_millis)
		 VALUES($1, $2, $3, $4)
		 RETURNING id`,
		h.UserID, h.Amount, string(h.Type), h.TimeMillis,
	).Scan(&h.ID)
	return h, err
}

func (r *historiesRepo) ListByUser(ctx context.Context, userID int64) ([]models.PointHistory, error) {
	rows, err := r.q.Query(
		ctx,
		`SELECT id, user_id, amount, type, time_millis
		   FROM point_histories
		  WHERE user_id=$1
		  ORDER BY id ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.PointHistory{}
	for rows.Next() {
		var (
			h   models.PointHistory
			typ string
		)
		if err := rows.Scan(&h.ID, &h.UserID, &h.Amount, &typ, &h.TimeMillis); err != nil {
			return nil, err
		}
		h.Type = models.TransactionType(typ)
		out = append(out, h)
	}
	return out, rows.Err()
}
