package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	itemKeyPrefix = "item:"
	userKeyPrefix = "user_ratings:"
	dirtySetKey   = "items:dirty"
)

// Hash fields of the item entry wire shape.
const (
	fieldID             = "id"
	fieldRatingCount    = "rating_count"
	fieldAggregateScore = "aggregate_score"
	fieldLastRatingTime = "last_rating_time"
	fieldLastScore      = "last_score"
)

// RedisStore implements Store on a single Redis instance. Item entries are
// hashes keyed by item id, the dirty flags live in one set, and listing /
// per-user renderings are plain values with a TTL.
type RedisStore struct {
	client  *redis.Client
	listTTL time.Duration
	userTTL time.Duration
	logger  *zap.Logger
}

// RedisOptions tunes the TTL-bearing parts of the cache.
type RedisOptions struct {
	ListingTTL    time.Duration
	UserRatingTTL time.Duration
}

// NewRedis connects a RedisStore. addr may be a redis:// URL or a bare
// host:port pair.
func NewRedis(addr string, opts RedisOptions, logger *zap.Logger) *RedisStore {
	redisOpts, err := redis.ParseURL(addr)
	if err != nil {
		redisOpts = &redis.Options{Addr: addr}
	}
	return &RedisStore{
		client:  redis.NewClient(redisOpts),
		listTTL: opts.ListingTTL,
		userTTL: opts.UserRatingTTL,
		logger:  logger,
	}
}

// NewRedisWithClient wraps an existing client; used by tests.
func NewRedisWithClient(client *redis.Client, opts RedisOptions, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client:  client,
		listTTL: opts.ListingTTL,
		userTTL: opts.UserRatingTTL,
		logger:  logger,
	}
}

// GetEntry loads and parses an item entry. Parsing happens only here, at the
// store boundary: the rest of the system sees typed entries.
func (s *RedisStore) GetEntry(ctx context.Context, itemID string) (Entry, error) {
	fields, err := s.client.HGetAll(ctx, itemKeyPrefix+itemID).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("cache: get entry %s: %w", itemID, err)
	}
	if len(fields) == 0 {
		return Entry{}, ErrMiss
	}
	return parseEntry(itemID, fields)
}

// PutEntry writes the entry hash and flags the item dirty in one pipeline.
func (s *RedisStore) PutEntry(ctx context.Context, entry Entry) error {
	lastTime := ""
	if entry.LastRatingTime != nil {
		lastTime = entry.LastRatingTime.UTC().Format(time.RFC3339Nano)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, itemKeyPrefix+entry.ItemID, map[string]interface{}{
		fieldID:             entry.ItemID,
		fieldRatingCount:    entry.RatingCount,
		fieldAggregateScore: entry.AggregateScore,
		fieldLastRatingTime: lastTime,
		fieldLastScore:      entry.LastScore,
	})
	pipe.SAdd(ctx, dirtySetKey, entry.ItemID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: put entry %s: %w", entry.ItemID, err)
	}
	return nil
}

// DirtyIDs snapshots the dirty set.
func (s *RedisStore) DirtyIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, dirtySetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: dirty ids: %w", err)
	}
	return ids, nil
}

// MarkDirty re-flags items for the next reconciliation pass.
func (s *RedisStore) MarkDirty(ctx context.Context, itemIDs ...string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	if err := s.client.SAdd(ctx, dirtySetKey, toInterfaces(itemIDs)...).Err(); err != nil {
		return fmt.Errorf("cache: mark dirty: %w", err)
	}
	return nil
}

// ClearDirty removes items from the dirty set.
func (s *RedisStore) ClearDirty(ctx context.Context, itemIDs ...string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	if err := s.client.SRem(ctx, dirtySetKey, toInterfaces(itemIDs)...).Err(); err != nil {
		return fmt.Errorf("cache: clear dirty: %w", err)
	}
	return nil
}

// GetListing returns a cached listing rendering.
func (s *RedisStore) GetListing(ctx context.Context, key string) ([]byte, error) {
	payload, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get listing %s: %w", key, err)
	}
	return payload, nil
}

// PutListing stores a listing rendering under the listing TTL.
func (s *RedisStore) PutListing(ctx context.Context, key string, payload []byte) error {
	if err := s.client.Set(ctx, key, payload, s.listTTL).Err(); err != nil {
		return fmt.Errorf("cache: put listing %s: %w", key, err)
	}
	return nil
}

// GetUserRatings returns the cached item→score map for one user.
func (s *RedisStore) GetUserRatings(ctx context.Context, userID string) (map[string]int, error) {
	fields, err := s.client.HGetAll(ctx, userKeyPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: get user ratings %s: %w", userID, err)
	}
	if len(fields) == 0 {
		return nil, ErrMiss
	}
	ratings := make(map[string]int, len(fields))
	for itemID, raw := range fields {
		score, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("cache: user %s rating for %s: %w", userID, itemID, err)
		}
		ratings[itemID] = score
	}
	return ratings, nil
}

// PutUserRatings stores the item→score map under the user-rating TTL.
func (s *RedisStore) PutUserRatings(ctx context.Context, userID string, ratings map[string]int) error {
	if len(ratings) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(ratings))
	for itemID, score := range ratings {
		fields[itemID] = score
	}

	key := userKeyPrefix + userID
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.userTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: put user ratings %s: %w", userID, err)
	}
	return nil
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseEntry(itemID string, fields map[string]string) (Entry, error) {
	entry := Entry{ItemID: itemID, LastScore: -1}

	count, err := strconv.ParseInt(fields[fieldRatingCount], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("cache: entry %s: bad rating_count %q", itemID, fields[fieldRatingCount])
	}
	entry.RatingCount = count

	score, err := strconv.ParseFloat(fields[fieldAggregateScore], 64)
	if err != nil {
		return Entry{}, fmt.Errorf("cache: entry %s: bad aggregate_score %q", itemID, fields[fieldAggregateScore])
	}
	entry.AggregateScore = score

	if raw := fields[fieldLastScore]; raw != "" {
		last, err := strconv.Atoi(raw)
		if err != nil {
			return Entry{}, fmt.Errorf("cache: entry %s: bad last_score %q", itemID, raw)
		}
		entry.LastScore = last
	}

	if raw := fields[fieldLastRatingTime]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Entry{}, fmt.Errorf("cache: entry %s: bad last_rating_time %q", itemID, raw)
		}
		entry.LastRatingTime = &ts
	}

	return entry, nil
}

func toInterfaces(ids []string) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
