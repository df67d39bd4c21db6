package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ratepulse/ratepulse/internal/domain"
)

// ItemsRepository is the durable store for items and their settled
// aggregate state. The cache holds the in-flight aggregate between flushes;
// rows here are only rewritten by item creation and reconciliation.
type ItemsRepository struct {
	pool *pgxpool.Pool
}

const itemColumns = `
    id,
    title,
    content,
    rating_count,
    aggregate_score,
    last_rating_time,
    last_score,
    created_at,
    updated_at
`

// ItemCreateParams bundles the fields required to create an item.
type ItemCreateParams struct {
	Title   string
	Content string
}

// AggregateUpdateParams is the settled aggregate state flushed by the
// reconciler for one item.
type AggregateUpdateParams struct {
	ItemID         string
	RatingCount    int64
	AggregateScore float64
	LastRatingTime *time.Time
	LastScore      int
}

// Create inserts a new item row and returns the stored entity.
func (r *ItemsRepository) Create(ctx context.Context, params ItemCreateParams) (domain.Item, error) {
	query := fmt.Sprintf(`
        INSERT INTO items (id, title, content)
        VALUES ($1,$2,$3)
        RETURNING %s
    `, itemColumns)

	row := r.pool.QueryRow(ctx, query, uuid.NewString(), params.Title, params.Content)
	return scanItem(row)
}

// GetByID fetches an item by its identifier.
func (r *ItemsRepository) GetByID(ctx context.Context, id string) (domain.Item, error) {
	query := fmt.Sprintf(`SELECT %s FROM items WHERE id = $1`, itemColumns)
	row := r.pool.QueryRow(ctx, query, id)
	item, err := scanItem(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if err == pgx.ErrNoRows || (errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation) {
			return domain.Item{}, ErrNotFound
		}
		return domain.Item{}, err
	}
	return item, nil
}

// List returns one page of items in stable creation order.
func (r *ItemsRepository) List(ctx context.Context, page, limit int) ([]domain.Item, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	} else if limit > 100 {
		limit = 100
	}

	query := fmt.Sprintf(`
        SELECT %s FROM items
        ORDER BY created_at DESC, id DESC
        LIMIT $1 OFFSET $2
    `, itemColumns)

	rows, err := r.pool.Query(ctx, query, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, limit)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateAggregate writes the flushed aggregate state for one item.
// rating_count never decreases: a stale flush (older than what a previous
// run already settled) is ignored by the guard rather than rolling the row
// back.
func (r *ItemsRepository) UpdateAggregate(ctx context.Context, params AggregateUpdateParams) error {
	const query = `
        UPDATE items
        SET rating_count = GREATEST(rating_count, $2),
            aggregate_score = CASE WHEN $2 >= rating_count THEN $3 ELSE aggregate_score END,
            last_rating_time = CASE WHEN $2 >= rating_count THEN $4 ELSE last_rating_time END,
            last_score = CASE WHEN $2 >= rating_count THEN $5 ELSE last_score END,
            updated_at = now()
        WHERE id = $1
    `

	tag, err := r.pool.Exec(ctx, query,
		params.ItemID,
		params.RatingCount,
		params.AggregateScore,
		params.LastRatingTime,
		params.LastScore,
	)
	if err != nil {
		return fmt.Errorf("update aggregate for %s: %w", params.ItemID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanItem(row pgx.Row) (domain.Item, error) {
	var item domain.Item
	err := row.Scan(
		&item.ID,
		&item.Title,
		&item.Content,
		&item.RatingCount,
		&item.AggregateScore,
		&item.LastRatingTime,
		&item.LastScore,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return domain.Item{}, err
	}
	return item, nil
}
