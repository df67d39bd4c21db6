package service

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ratepulse/ratepulse/internal/cache"
)

func newListingUnderTest(env *testEnv) *ListingService {
	return NewListing(env.repo, env.cache, 5*time.Second, zap.NewNop())
}

func submitScore(t testing.TB, env *testEnv, itemID, userID string, score int) {
	t.Helper()
	ingest := newIngestUnderTest(env)
	if _, err := ingest.Submit(env.ctx, itemID, userID, score); err != nil {
		t.Fatalf("submit score %d for %s/%s: %v", score, itemID, userID, err)
	}
}

func TestList_MergesRequestingUsersRatings(t *testing.T) {
	env := newTestEnv(t)
	listing := newListingUnderTest(env)

	idA := mustCreateItem(t, env, "Listed A")
	idB := mustCreateItem(t, env, "Listed B")
	idC := mustCreateItem(t, env, "Listed C")
	submitScore(t, env, idA, "alice", 5)
	submitScore(t, env, idC, "alice", 2)
	submitScore(t, env, idB, "bob", 3)

	summaries, err := listing.List(env.ctx, "alice", 1, 20)
	if err != nil {
		t.Fatalf("list for alice: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("got %d summaries, want 3", len(summaries))
	}

	byID := make(map[string]*int, len(summaries))
	for _, s := range summaries {
		byID[s.ID] = s.UserRating
	}
	if byID[idA] == nil || *byID[idA] != 5 {
		t.Fatalf("user rating for A = %v, want 5", byID[idA])
	}
	if byID[idC] == nil || *byID[idC] != 2 {
		t.Fatalf("user rating for C = %v, want 2", byID[idC])
	}
	if byID[idB] != nil {
		t.Fatalf("user rating for B = %v, want nil (bob's rating must not leak)", *byID[idB])
	}
}

func TestList_AnonymousCarriesNoUserRatings(t *testing.T) {
	env := newTestEnv(t)
	listing := newListingUnderTest(env)

	id := mustCreateItem(t, env, "Anon Item")
	submitScore(t, env, id, "alice", 4)

	summaries, err := listing.List(env.ctx, "", 1, 20)
	if err != nil {
		t.Fatalf("anonymous list: %v", err)
	}
	for _, s := range summaries {
		if s.UserRating != nil {
			t.Fatalf("anonymous summary carries a user rating: %+v", s)
		}
	}
}

func TestList_CachesPageRendering(t *testing.T) {
	env := newTestEnv(t)
	listing := newListingUnderTest(env)

	mustCreateItem(t, env, "Cached Item")

	first, err := listing.List(env.ctx, "", 1, 20)
	if err != nil {
		t.Fatalf("first list: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first page has %d items, want 1", len(first))
	}
	if _, err := env.cache.GetListing(env.ctx, cache.ListingKey(1, 20)); err != nil {
		t.Fatalf("listing rendering not cached: %v", err)
	}

	// A new item does not appear until the rendering expires.
	mustCreateItem(t, env, "Later Item")

	second, err := listing.List(env.ctx, "", 1, 20)
	if err != nil {
		t.Fatalf("second list: %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("cached page has %d items, want the stale 1", len(second))
	}
	if second[0].ID != first[0].ID {
		t.Fatalf("cached page changed identity: %s vs %s", second[0].ID, first[0].ID)
	}
}

func TestList_DiscardsUndecodableRendering(t *testing.T) {
	env := newTestEnv(t)
	listing := newListingUnderTest(env)

	id := mustCreateItem(t, env, "Recovered Item")
	if err := env.cache.PutListing(env.ctx, cache.ListingKey(1, 20), []byte("{not json")); err != nil {
		t.Fatalf("seed bad rendering: %v", err)
	}

	summaries, err := listing.List(env.ctx, "", 1, 20)
	if err != nil {
		t.Fatalf("list over bad rendering: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ID != id {
		t.Fatalf("rebuilt page = %+v, want the single real item", summaries)
	}
}

func TestList_CachesUserRatingsAfterLedgerRead(t *testing.T) {
	env := newTestEnv(t)

	id := mustCreateItem(t, env, "Ledger Item")
	submitScore(t, env, id, "carol", 3)

	// Drop the cached copy so the next read walks the ledger.
	freshCache := cache.NewMemory(10*time.Minute, time.Hour)
	coldListing := NewListing(env.repo, freshCache, 5*time.Second, zap.NewNop())

	summaries, err := coldListing.List(env.ctx, "carol", 1, 20)
	if err != nil {
		t.Fatalf("cold list: %v", err)
	}
	if summaries[0].UserRating == nil || *summaries[0].UserRating != 3 {
		t.Fatalf("ledger-backed user rating = %v, want 3", summaries[0].UserRating)
	}

	cached, err := freshCache.GetUserRatings(env.ctx, "carol")
	if err != nil {
		t.Fatalf("user ratings not cached after ledger read: %v", err)
	}
	if cached[id] != 3 {
		t.Fatalf("cached user ratings = %v, want {%s: 3}", cached, id)
	}
}

func TestList_ClampsPageAndLimit(t *testing.T) {
	env := newTestEnv(t)
	listing := newListingUnderTest(env)

	mustCreateItem(t, env, "Clamped Item")

	// page 0 and a zero limit fall back to the first default page.
	summaries, err := listing.List(env.ctx, "", 0, 0)
	if err != nil {
		t.Fatalf("clamped list: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("clamped page has %d items, want 1", len(summaries))
	}
	if _, err := env.cache.GetListing(env.ctx, cache.ListingKey(1, 20)); err != nil {
		t.Fatalf("clamped request cached under unexpected key: %v", err)
	}
}
