package models

import "time"

// UserPoint is an immutable snapshot of a user's point balance.
// Mutations produce a new value, the stored one is never changed in place.
type UserPoint struct {
	UserID    int64     `json:"user_id"`
	Point     int64     `json:"point"`
	UpdatedAt time.Time `json:"updated_at"`

	// Stored is false for the placeholder of a user with no balance row.
	Stored bool `json:"-"`
}

// Empty is the balance of a user that has never been charged.
func Empty(userID int64, at time.Time) UserPoint {
	return UserPoint{UserID: userID, UpdatedAt: at}
}
