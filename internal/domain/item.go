package domain

import "time"

// Item represents the canonical content entity in the database/service.
// Aggregate fields hold the last reconciled state; the cache may be ahead
// of them between reconciliation runs.
type Item struct {
	ID             string
	Title          string
	Content        string
	RatingCount    int64
	AggregateScore float64
	LastRatingTime *time.Time
	LastScore      int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ItemSummary is the listing projection of an item, optionally merged with
// the requesting user's own rating.
type ItemSummary struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	RatingCount    int64   `json:"rating_count"`
	AggregateScore float64 `json:"aggregate_score"`
	UserRating     *int    `json:"user_rating"`
}
