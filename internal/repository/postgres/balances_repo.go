package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/baharkarakas/point-ledger/internal/models"
	"github.com/jackc/pgx/v5"
)

type balancesRepo struct{ q querier }

func (r *balancesRepo) Get(ctx context.Context, userID int64) (models.UserPoint, error) {
	var b models.UserPoint
	err := r.q.QueryRow(
		ctx,
		`SELECT user_id, point, updated_at
		   FROM user_points
		  WHERE user_id=$1`,
		userID,
	).Scan(&b.UserID, &b.Point, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Empty(userID, time.Now()), nil
	}
	b.Stored = err == nil
	return b, err
}

func (r *balancesRepo) Put(ctx context.Context, userID, point int64, at time.Time) (models.UserPoint, error) {
	var b models.UserPoint
	err := r.q.QueryRow(
		ctx,
		`INSERT INTO user_points(user_id, point, updated_at)
		 VALUES($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE
		    SET point = EXCLUDED.point,
		        updated_at = EXCLUDED.updated_at
		 RETURNING user_id, point, updated_at`,
		userID, point, at,
	).Scan(&b.UserID, &b.Point, &b.UpdatedAt)
	b.Stored = err == nil
	return b, err
}
