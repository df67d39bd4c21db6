// Package reconcile flushes dirty cache-resident aggregate state into the
// durable item store on a fixed interval. It is the only path by which
// cached aggregates become durable.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ratepulse/ratepulse/internal/cache"
	"github.com/ratepulse/ratepulse/internal/repository"
)

// Reconciler periodically drains the cache's dirty set into Postgres.
// Failures are isolated per item: a bad record is re-marked dirty and
// retried on the next pass without blocking the rest of the batch.
type Reconciler struct {
	cache     cache.Store
	items     *repository.ItemsRepository
	interval  time.Duration
	opTimeout time.Duration
	logger    *zap.Logger
}

// New wires a Reconciler.
func New(cacheStore cache.Store, items *repository.ItemsRepository, interval, opTimeout time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		cache:     cacheStore,
		items:     items,
		interval:  interval,
		opTimeout: opTimeout,
		logger:    logger,
	}
}

// Run loops until ctx is cancelled, flushing on every tick and once more on
// the way out so a graceful shutdown does not strand dirty entries.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), r.opTimeout*3)
			if _, err := r.Flush(flushCtx); err != nil {
				r.logger.Error("final flush failed", zap.Error(err))
			}
			cancel()
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("flush failed", zap.Error(err))
			}
		}
	}
}

// Flush drains the current dirty set once and reports how many items were
// settled. Each id is removed from the set before its entry is read, so a
// rating that lands mid-flush re-flags the item for the next pass instead of
// being lost. Flushing is idempotent: with no new ratings a second call
// finds an empty set and writes nothing.
func (r *Reconciler) Flush(ctx context.Context) (int, error) {
	scanCtx, cancel := context.WithTimeout(ctx, r.opTimeout)
	ids, err := r.cache.DirtyIDs(scanCtx)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("scan dirty set: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	flushed := 0
	for _, id := range ids {
		if err := r.flushOne(ctx, id); err != nil {
			if ctx.Err() != nil {
				return flushed, ctx.Err()
			}
			r.logger.Warn("item flush failed, will retry",
				zap.String("item_id", id),
				zap.Error(err),
			)
			continue
		}
		flushed++
	}

	r.logger.Info("reconciliation pass complete",
		zap.Int("dirty", len(ids)),
		zap.Int("flushed", flushed),
	)
	return flushed, nil
}

func (r *Reconciler) flushOne(ctx context.Context, id string) error {
	opCtx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	if err := r.cache.ClearDirty(opCtx, id); err != nil {
		return fmt.Errorf("clear dirty: %w", err)
	}

	entry, err := r.cache.GetEntry(opCtx, id)
	if errors.Is(err, cache.ErrMiss) {
		// Entry expired between the scan and the read; the durable row
		// already holds the last flushed state.
		return nil
	}
	if err != nil {
		r.remark(id)
		return fmt.Errorf("read entry: %w", err)
	}

	err = r.items.UpdateAggregate(opCtx, repository.AggregateUpdateParams{
		ItemID:         entry.ItemID,
		RatingCount:    entry.RatingCount,
		AggregateScore: entry.AggregateScore,
		LastRatingTime: entry.LastRatingTime,
		LastScore:      entry.LastScore,
	})
	if errors.Is(err, repository.ErrNotFound) {
		// The item row is gone; nothing durable to settle and no point
		// retrying. The ledger rows, if any, remain untouched.
		r.logger.Warn("dropping dirty entry for missing item", zap.String("item_id", id))
		return nil
	}
	if err != nil {
		r.remark(id)
		return fmt.Errorf("write aggregate: %w", err)
	}
	return nil
}

// remark re-flags an item after a failed flush, with its own deadline since
// the per-item context may already be exhausted.
func (r *Reconciler) remark(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opTimeout)
	defer cancel()
	if err := r.cache.MarkDirty(ctx, id); err != nil {
		r.logger.Error("re-mark dirty failed", zap.String("item_id", id), zap.Error(err))
	}
}
