// Package cache defines the score cache contract: the keyed, volatile store
// that holds per-item aggregate state between reconciliation runs, plus the
// listing and per-user rating caches used by the read path.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMiss indicates the requested key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Entry is the cached aggregate state for one item. It is the authoritative
// "in-flight" aggregate: ahead of the durable store until the next flush.
type Entry struct {
	ItemID         string
	RatingCount    int64
	AggregateScore float64
	LastRatingTime *time.Time
	LastScore      int
}

// Store is the process-wide score cache handle. Implementations must be safe
// for concurrent use. Entries written through PutEntry are marked dirty and
// stay so until a reconciliation pass clears them.
type Store interface {
	// GetEntry loads the aggregate entry for an item, ErrMiss when absent.
	GetEntry(ctx context.Context, itemID string) (Entry, error)
	// PutEntry stores an aggregate entry and marks the item dirty.
	PutEntry(ctx context.Context, entry Entry) error

	// DirtyIDs snapshots the ids awaiting reconciliation.
	DirtyIDs(ctx context.Context) ([]string, error)
	// MarkDirty re-flags items whose flush failed.
	MarkDirty(ctx context.Context, itemIDs ...string) error
	// ClearDirty removes items from the dirty set.
	ClearDirty(ctx context.Context, itemIDs ...string) error

	// GetListing returns a cached listing rendering, ErrMiss when absent.
	GetListing(ctx context.Context, key string) ([]byte, error)
	// PutListing stores a listing rendering under the configured TTL.
	PutListing(ctx context.Context, key string, payload []byte) error

	// GetUserRatings returns a user's cached item→score map, ErrMiss when absent.
	GetUserRatings(ctx context.Context, userID string) (map[string]int, error)
	// PutUserRatings stores a user's item→score map under the configured TTL.
	PutUserRatings(ctx context.Context, userID string, ratings map[string]int) error

	// Ping verifies the cache backend is reachable.
	Ping(ctx context.Context) error
}

// ListingKey builds the cache key for one listing page rendering.
func ListingKey(page, limit int) string {
	return fmt.Sprintf("items:list:%d:%d", page, limit)
}
