package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests. State is
// lost on restart and is not shared across instances.
type MemoryStore struct {
	mu          sync.Mutex
	entries     map[string]Entry
	dirty       map[string]struct{}
	listings    map[string]expiringBytes
	userRatings map[string]expiringRatings

	listTTL time.Duration
	userTTL time.Duration
	now     func() time.Time
}

type expiringBytes struct {
	payload   []byte
	expiresAt time.Time
}

type expiringRatings struct {
	ratings   map[string]int
	expiresAt time.Time
}

// NewMemory builds an empty MemoryStore with the given TTLs.
func NewMemory(listingTTL, userRatingTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		entries:     make(map[string]Entry),
		dirty:       make(map[string]struct{}),
		listings:    make(map[string]expiringBytes),
		userRatings: make(map[string]expiringRatings),
		listTTL:     listingTTL,
		userTTL:     userRatingTTL,
		now:         time.Now,
	}
}

// SetClock overrides the time source; used by TTL tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) GetEntry(_ context.Context, itemID string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[itemID]
	if !ok {
		return Entry{}, ErrMiss
	}
	return entry, nil
}

func (s *MemoryStore) PutEntry(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ItemID] = entry
	s.dirty[entry.ItemID] = struct{}{}
	return nil
}

func (s *MemoryStore) DirtyIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.dirty))
	for id := range s.dirty {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) MarkDirty(_ context.Context, itemIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range itemIDs {
		s.dirty[id] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) ClearDirty(_ context.Context, itemIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range itemIDs {
		delete(s.dirty, id)
	}
	return nil
}

func (s *MemoryStore) GetListing(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.listings[key]
	if !ok || s.now().After(item.expiresAt) {
		delete(s.listings, key)
		return nil, ErrMiss
	}
	return item.payload, nil
}

func (s *MemoryStore) PutListing(_ context.Context, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[key] = expiringBytes{payload: payload, expiresAt: s.now().Add(s.listTTL)}
	return nil
}

func (s *MemoryStore) GetUserRatings(_ context.Context, userID string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.userRatings[userID]
	if !ok || s.now().After(item.expiresAt) {
		delete(s.userRatings, userID)
		return nil, ErrMiss
	}
	out := make(map[string]int, len(item.ratings))
	for id, score := range item.ratings {
		out[id] = score
	}
	return out, nil
}

func (s *MemoryStore) PutUserRatings(_ context.Context, userID string, ratings map[string]int) error {
	if len(ratings) == 0 {
		return nil
	}
	copied := make(map[string]int, len(ratings))
	for id, score := range ratings {
		copied[id] = score
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userRatings[userID] = expiringRatings{ratings: copied, expiresAt: s.now().Add(s.userTTL)}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
