package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ratepulse/ratepulse/internal/cache"
	"github.com/ratepulse/ratepulse/internal/domain"
	"github.com/ratepulse/ratepulse/internal/repository"
)

// ListingService serves paginated item summaries merged with the requesting
// user's own ratings. Pure read path; it never touches aggregate entries.
// Renderings are cached whole, so a page may lag the durable store by up to
// the listing TTL.
type ListingService struct {
	repo      *repository.Repository
	cache     cache.Store
	opTimeout time.Duration
	logger    *zap.Logger
}

// NewListing wires a ListingService.
func NewListing(repo *repository.Repository, cacheStore cache.Store, opTimeout time.Duration, logger *zap.Logger) *ListingService {
	return &ListingService{
		repo:      repo,
		cache:     cacheStore,
		opTimeout: opTimeout,
		logger:    logger,
	}
}

// List returns one page of item summaries. When userID is non-empty, each
// summary carries that user's own score for the item.
func (s *ListingService) List(ctx context.Context, userID string, page, limit int) ([]domain.ItemSummary, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	} else if limit > 100 {
		limit = 100
	}

	summaries, err := s.pageSummaries(ctx, page, limit)
	if err != nil {
		return nil, err
	}

	if userID != "" {
		ratings, err := s.userRatings(ctx, userID)
		if err != nil {
			return nil, err
		}
		for i := range summaries {
			if score, ok := ratings[summaries[i].ID]; ok {
				v := score
				summaries[i].UserRating = &v
			}
		}
	}

	return summaries, nil
}

// pageSummaries loads one listing page, cache-first. Cache write failures
// only cost the next reader a database round trip, so they are logged and
// swallowed.
func (s *ListingService) pageSummaries(ctx context.Context, page, limit int) ([]domain.ItemSummary, error) {
	key := cache.ListingKey(page, limit)

	getCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	payload, err := s.cache.GetListing(getCtx, key)
	if err == nil {
		var summaries []domain.ItemSummary
		if jsonErr := json.Unmarshal(payload, &summaries); jsonErr == nil {
			return summaries, nil
		}
		s.logger.Warn("discarding undecodable listing rendering", zap.String("key", key))
	} else if !errors.Is(err, cache.ErrMiss) {
		return nil, fmt.Errorf("listing cache: %w", err)
	}

	listCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	items, err := s.repo.Items.List(listCtx, page, limit)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	summaries := make([]domain.ItemSummary, 0, len(items))
	for _, item := range items {
		summaries = append(summaries, domain.ItemSummary{
			ID:             item.ID,
			Title:          item.Title,
			RatingCount:    item.RatingCount,
			AggregateScore: item.AggregateScore,
		})
	}

	if payload, err := json.Marshal(summaries); err == nil {
		putCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		defer cancel()
		if err := s.cache.PutListing(putCtx, key, payload); err != nil {
			s.logger.Warn("cache listing rendering", zap.String("key", key), zap.Error(err))
		}
	}

	return summaries, nil
}

// userRatings loads one user's item→score map, cache-first with a ledger
// fallback. Empty maps are not cached, matching the write path: the first
// rating a user submits should become visible within one TTL at most.
func (s *ListingService) userRatings(ctx context.Context, userID string) (map[string]int, error) {
	getCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	ratings, err := s.cache.GetUserRatings(getCtx, userID)
	if err == nil {
		return ratings, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		return nil, fmt.Errorf("user ratings cache: %w", err)
	}

	ledgerCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	ratings, err = s.repo.Ratings.ListByUser(ledgerCtx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user ratings: %w", err)
	}

	if len(ratings) > 0 {
		putCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		defer cancel()
		if err := s.cache.PutUserRatings(putCtx, userID, ratings); err != nil {
			s.logger.Warn("cache user ratings", zap.String("user_id", userID), zap.Error(err))
		}
	}

	return ratings, nil
}
