// Package service orchestrates rating ingestion and listing reads over the
// ledger, the durable item store, and the score cache.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ratepulse/ratepulse/internal/cache"
	"github.com/ratepulse/ratepulse/internal/rating"
	"github.com/ratepulse/ratepulse/internal/repository"
)

var (
	// ErrInvalidScore rejects a submission outside the configured bounds.
	ErrInvalidScore = errors.New("service: score out of bounds")
	// ErrItemNotFound rejects a submission for an unknown item.
	ErrItemNotFound = errors.New("service: item not found")
)

// ScoreBounds is the inclusive range of accepted raw scores.
type ScoreBounds struct {
	Min int
	Max int
}

// IngestService folds rating submissions into the cached aggregate state.
// The read-modify-write against the cache is serialized per item; the ledger
// upsert is independently atomic and deliberately kept outside that lock.
type IngestService struct {
	repo      *repository.Repository
	cache     cache.Store
	policy    rating.Policy
	bounds    ScoreBounds
	opTimeout time.Duration
	locks     *itemLocks
	logger    *zap.Logger
	now       func() time.Time
}

// NewIngest wires an IngestService.
func NewIngest(repo *repository.Repository, cacheStore cache.Store, policy rating.Policy, bounds ScoreBounds, opTimeout time.Duration, logger *zap.Logger) *IngestService {
	return &IngestService{
		repo:      repo,
		cache:     cacheStore,
		policy:    policy,
		bounds:    bounds,
		opTimeout: opTimeout,
		locks:     newItemLocks(),
		logger:    logger,
		now:       time.Now,
	}
}

// SubmitResult reports the outcome of one accepted submission.
type SubmitResult struct {
	Score      int
	NewAverage float64
	Created    bool
}

// Submit validates and records one rating, then folds it into the item's
// cached aggregate. The ledger write and the cache write are independent
// operations: a failure after the upsert leaves the raw rating durable and
// the aggregate one step behind, which the ledger-replay path can repair.
func (s *IngestService) Submit(ctx context.Context, itemID, userID string, score int) (SubmitResult, error) {
	if score < s.bounds.Min || score > s.bounds.Max {
		return SubmitResult{}, fmt.Errorf("%w: %d not in [%d,%d]", ErrInvalidScore, score, s.bounds.Min, s.bounds.Max)
	}

	upsertCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	record, created, err := s.repo.Ratings.Upsert(upsertCtx, repository.RatingUpsertParams{
		ItemID: itemID,
		UserID: userID,
		Score:  score,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return SubmitResult{}, ErrItemNotFound
		}
		return SubmitResult{}, fmt.Errorf("upsert rating: %w", err)
	}
	if !created {
		// A re-rate still advances the aggregate count; the ledger keeps
		// exactly one row per (item, user), so a correcting policy could be
		// layered on later without losing information.
		s.logger.Debug("rating resubmitted",
			zap.String("item_id", itemID),
			zap.String("user_id", userID),
			zap.Int("score", score),
		)
	}

	s.locks.lock(itemID)
	defer s.locks.unlock(itemID)

	entry, err := s.loadEntry(ctx, itemID)
	if err != nil {
		return SubmitResult{}, err
	}

	state := rating.Snapshot{
		RatingCount:    entry.RatingCount,
		AggregateScore: entry.AggregateScore,
		LastRatingTime: entry.LastRatingTime,
		LastScore:      entry.LastScore,
	}
	next := s.policy.Apply(state, record.Score, s.now())

	entry.RatingCount = next.RatingCount
	entry.AggregateScore = next.AggregateScore
	entry.LastRatingTime = next.LastRatingTime
	entry.LastScore = next.LastScore

	putCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.cache.PutEntry(putCtx, entry); err != nil {
		return SubmitResult{}, fmt.Errorf("store aggregate: %w", err)
	}

	return SubmitResult{Score: record.Score, NewAverage: next.AggregateScore, Created: created}, nil
}

// loadEntry reads the cached aggregate for an item, seeding it from the
// durable store on a miss. Must be called with the item lock held.
func (s *IngestService) loadEntry(ctx context.Context, itemID string) (cache.Entry, error) {
	getCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	entry, err := s.cache.GetEntry(getCtx, itemID)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		return cache.Entry{}, fmt.Errorf("load aggregate: %w", err)
	}

	itemCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	item, err := s.repo.Items.GetByID(itemCtx, itemID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return cache.Entry{}, ErrItemNotFound
		}
		return cache.Entry{}, fmt.Errorf("load item: %w", err)
	}

	return cache.Entry{
		ItemID:         item.ID,
		RatingCount:    item.RatingCount,
		AggregateScore: item.AggregateScore,
		LastRatingTime: item.LastRatingTime,
		LastScore:      item.LastScore,
	}, nil
}
