package domain

import "time"

// Rating represents a single user's rating for an item. At most one Rating
// exists per (item, user) pair; resubmissions update it in place.
type Rating struct {
	ItemID    string
	UserID    string
	Score     int
	CreatedAt time.Time
	UpdatedAt time.Time
}
