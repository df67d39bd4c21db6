package cache

import (
	"bytes"
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	testListTTL = 10 * time.Minute
	testUserTTL = time.Hour
)

func newRedisUnderTest(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	opts := RedisOptions{ListingTTL: testListTTL, UserRatingTTL: testUserTTL}
	return NewRedisWithClient(client, opts, zap.NewNop()), mr
}

// runStoreSuite exercises the Store contract shared by both implementations.
func runStoreSuite(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.GetEntry(ctx, "absent"); err != ErrMiss {
		t.Fatalf("GetEntry(absent) = %v, want ErrMiss", err)
	}

	lastTime := time.Date(2026, time.February, 10, 8, 30, 0, 0, time.UTC)
	entry := Entry{
		ItemID:         "item-1",
		RatingCount:    7,
		AggregateScore: 3.75,
		LastRatingTime: &lastTime,
		LastScore:      4,
	}
	if err := store.PutEntry(ctx, entry); err != nil {
		t.Fatalf("PutEntry: %v", err)
	}

	got, err := store.GetEntry(ctx, "item-1")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.RatingCount != 7 || got.AggregateScore != 3.75 || got.LastScore != 4 {
		t.Fatalf("entry roundtrip mismatch: %+v", got)
	}
	if got.LastRatingTime == nil || !got.LastRatingTime.Equal(lastTime) {
		t.Fatalf("LastRatingTime = %v, want %v", got.LastRatingTime, lastTime)
	}

	// Never-rated entries keep their sentinels through the roundtrip.
	if err := store.PutEntry(ctx, Entry{ItemID: "item-2", LastScore: -1}); err != nil {
		t.Fatalf("PutEntry sentinel: %v", err)
	}
	fresh, err := store.GetEntry(ctx, "item-2")
	if err != nil {
		t.Fatalf("GetEntry sentinel: %v", err)
	}
	if fresh.LastScore != -1 || fresh.LastRatingTime != nil {
		t.Fatalf("sentinel entry mismatch: %+v", fresh)
	}

	ids, err := store.DirtyIDs(ctx)
	if err != nil {
		t.Fatalf("DirtyIDs: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "item-1" || ids[1] != "item-2" {
		t.Fatalf("dirty ids = %v, want [item-1 item-2]", ids)
	}

	if err := store.ClearDirty(ctx, "item-1", "item-2"); err != nil {
		t.Fatalf("ClearDirty: %v", err)
	}
	ids, err = store.DirtyIDs(ctx)
	if err != nil {
		t.Fatalf("DirtyIDs after clear: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("dirty ids after clear = %v, want empty", ids)
	}

	if err := store.MarkDirty(ctx, "item-2"); err != nil {
		t.Fatalf("MarkDirty: %v", err)
	}
	ids, _ = store.DirtyIDs(ctx)
	if len(ids) != 1 || ids[0] != "item-2" {
		t.Fatalf("dirty ids after re-mark = %v, want [item-2]", ids)
	}

	// Listing cache.
	key := ListingKey(1, 20)
	if _, err := store.GetListing(ctx, key); err != ErrMiss {
		t.Fatalf("GetListing(miss) = %v, want ErrMiss", err)
	}
	payload := []byte(`[{"id":"item-1"}]`)
	if err := store.PutListing(ctx, key, payload); err != nil {
		t.Fatalf("PutListing: %v", err)
	}
	cached, err := store.GetListing(ctx, key)
	if err != nil {
		t.Fatalf("GetListing: %v", err)
	}
	if !bytes.Equal(cached, payload) {
		t.Fatalf("listing payload = %s, want %s", cached, payload)
	}

	// Per-user ratings cache.
	if _, err := store.GetUserRatings(ctx, "u1"); err != ErrMiss {
		t.Fatalf("GetUserRatings(miss) = %v, want ErrMiss", err)
	}
	if err := store.PutUserRatings(ctx, "u1", map[string]int{"item-1": 4, "item-2": 2}); err != nil {
		t.Fatalf("PutUserRatings: %v", err)
	}
	ratings, err := store.GetUserRatings(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserRatings: %v", err)
	}
	if ratings["item-1"] != 4 || ratings["item-2"] != 2 {
		t.Fatalf("user ratings = %v", ratings)
	}
}

func TestRedisStoreContract(t *testing.T) {
	store, _ := newRedisUnderTest(t)
	runStoreSuite(t, store)
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreSuite(t, NewMemory(testListTTL, testUserTTL))
}

func TestRedisStoreListingExpiry(t *testing.T) {
	store, mr := newRedisUnderTest(t)
	ctx := context.Background()

	key := ListingKey(1, 20)
	if err := store.PutListing(ctx, key, []byte(`[]`)); err != nil {
		t.Fatalf("PutListing: %v", err)
	}

	mr.FastForward(testListTTL + time.Second)

	if _, err := store.GetListing(ctx, key); err != ErrMiss {
		t.Fatalf("GetListing after TTL = %v, want ErrMiss", err)
	}
}

func TestRedisStoreUserRatingsExpiry(t *testing.T) {
	store, mr := newRedisUnderTest(t)
	ctx := context.Background()

	if err := store.PutUserRatings(ctx, "u1", map[string]int{"item-1": 5}); err != nil {
		t.Fatalf("PutUserRatings: %v", err)
	}

	mr.FastForward(testUserTTL + time.Second)

	if _, err := store.GetUserRatings(ctx, "u1"); err != ErrMiss {
		t.Fatalf("GetUserRatings after TTL = %v, want ErrMiss", err)
	}
}

func TestMemoryStoreListingExpiry(t *testing.T) {
	store := NewMemory(testListTTL, testUserTTL)
	ctx := context.Background()

	now := time.Date(2026, time.February, 10, 8, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	key := ListingKey(2, 20)
	if err := store.PutListing(ctx, key, []byte(`[]`)); err != nil {
		t.Fatalf("PutListing: %v", err)
	}

	now = now.Add(testListTTL + time.Second)
	if _, err := store.GetListing(ctx, key); err != ErrMiss {
		t.Fatalf("GetListing after TTL = %v, want ErrMiss", err)
	}
}

func TestParseEntryRejectsMalformedFields(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"bad count", map[string]string{fieldRatingCount: "x", fieldAggregateScore: "1"}},
		{"bad score", map[string]string{fieldRatingCount: "1", fieldAggregateScore: "x"}},
		{"bad last score", map[string]string{fieldRatingCount: "1", fieldAggregateScore: "1", fieldLastScore: "x"}},
		{"bad timestamp", map[string]string{fieldRatingCount: "1", fieldAggregateScore: "1", fieldLastRatingTime: "yesterday"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseEntry("item-1", tt.fields); err == nil {
				t.Fatalf("parseEntry(%v) expected error", tt.fields)
			}
		})
	}
}
