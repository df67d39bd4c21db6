package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ratepulse/ratepulse/internal/domain"
)

// Postgres error codes. A rating that references a missing item raises a
// foreign-key violation; an id that is not a well-formed uuid raises an
// invalid text representation. Both mean the same thing to callers: no such
// item.
const (
	foreignKeyViolation       = "23503"
	invalidTextRepresentation = "22P02"
)

// RatingsRepository is the ledger of raw per-user rating submissions. It is
// the durable record the aggregate can always be replayed from; nothing in
// the system deletes its rows.
type RatingsRepository struct {
	pool *pgxpool.Pool
}

// RatingUpsertParams captures the payload required to upsert a rating.
type RatingUpsertParams struct {
	ItemID string
	UserID string
	Score  int
}

// Upsert inserts or updates a rating and indicates whether it was newly
// created. The (item_id, user_id) pair is unique: a resubmission updates the
// existing row in place.
func (r *RatingsRepository) Upsert(ctx context.Context, params RatingUpsertParams) (domain.Rating, bool, error) {
	const query = `
        INSERT INTO ratings (item_id, user_id, score)
        VALUES ($1,$2,$3)
        ON CONFLICT (item_id, user_id)
        DO UPDATE SET score = EXCLUDED.score, updated_at = now()
        RETURNING item_id, user_id, score, created_at, updated_at, (xmax = 0) AS inserted
    `

	var rating domain.Rating
	var inserted bool
	err := r.pool.QueryRow(ctx, query, params.ItemID, params.UserID, params.Score).Scan(
		&rating.ItemID,
		&rating.UserID,
		&rating.Score,
		&rating.CreatedAt,
		&rating.UpdatedAt,
		&inserted,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == foreignKeyViolation || pgErr.Code == invalidTextRepresentation) {
			return domain.Rating{}, false, ErrNotFound
		}
		if err == pgx.ErrNoRows {
			return domain.Rating{}, false, ErrNotFound
		}
		return domain.Rating{}, false, err
	}

	return rating, inserted, nil
}

// Get retrieves a rating for a specific user/item combination.
func (r *RatingsRepository) Get(ctx context.Context, itemID, userID string) (domain.Rating, error) {
	const query = `
        SELECT item_id, user_id, score, created_at, updated_at
        FROM ratings
        WHERE item_id = $1 AND user_id = $2
    `
	var rating domain.Rating
	err := r.pool.QueryRow(ctx, query, itemID, userID).Scan(
		&rating.ItemID,
		&rating.UserID,
		&rating.Score,
		&rating.CreatedAt,
		&rating.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Rating{}, ErrNotFound
		}
		return domain.Rating{}, err
	}
	return rating, nil
}

// ListByUser returns every item the user has rated, as an item→score map.
func (r *RatingsRepository) ListByUser(ctx context.Context, userID string) (map[string]int, error) {
	const query = `SELECT item_id, score FROM ratings WHERE user_id = $1`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list ratings for user %s: %w", userID, err)
	}
	defer rows.Close()

	ratings := make(map[string]int)
	for rows.Next() {
		var itemID string
		var score int
		if err := rows.Scan(&itemID, &score); err != nil {
			return nil, err
		}
		ratings[itemID] = score
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ratings, nil
}

// ListByItem returns every rating recorded for one item in submission order.
// It exists so the aggregate can be rebuilt by replaying the ledger through
// the aggregation policy.
func (r *RatingsRepository) ListByItem(ctx context.Context, itemID string) ([]domain.Rating, error) {
	const query = `
        SELECT item_id, user_id, score, created_at, updated_at
        FROM ratings
        WHERE item_id = $1
        ORDER BY updated_at ASC
    `

	rows, err := r.pool.Query(ctx, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("list ratings for item %s: %w", itemID, err)
	}
	defer rows.Close()

	var ratings []domain.Rating
	for rows.Next() {
		var rating domain.Rating
		if err := rows.Scan(&rating.ItemID, &rating.UserID, &rating.Score, &rating.CreatedAt, &rating.UpdatedAt); err != nil {
			return nil, err
		}
		ratings = append(ratings, rating)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ratings, nil
}
