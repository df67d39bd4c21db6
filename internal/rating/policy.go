// Package rating implements the aggregation engine that folds individual
// rating submissions into an item's running score. Policies are pure
// functions over aggregate snapshots; all I/O lives in the callers.
package rating

import (
	"fmt"
	"math"
	"time"
)

// NoLastScore is the sentinel for an item that has never been rated.
const NoLastScore = -1

// Reference tuning values, overridable through configuration.
const (
	DefaultCountThreshold   = 50
	DefaultDecaySeconds     = 86400
	DefaultMinTimeWindow    = 10 * time.Second
	DefaultOutlierThreshold = 2.0
)

// Snapshot is the aggregate state of a single item at one point in time.
type Snapshot struct {
	RatingCount    int64
	AggregateScore float64
	LastRatingTime *time.Time
	LastScore      int
}

// Policy folds one rating submission into an aggregate snapshot.
// Implementations must be deterministic given (state, score, now) and must
// not retain references to the input snapshot.
type Policy interface {
	Apply(state Snapshot, score int, now time.Time) Snapshot
}

// Params bundles the tunables shared by the available policies.
type Params struct {
	CountThreshold   int64
	DecaySeconds     float64
	MinTimeWindow    time.Duration
	OutlierThreshold float64
}

// New returns the policy selected by name, either "dynamic" or "tiered".
func New(name string, params Params) (Policy, error) {
	switch name {
	case "dynamic":
		return DynamicPolicy{Params: params}, nil
	case "tiered":
		return TieredPolicy{CountThreshold: params.CountThreshold}, nil
	default:
		return nil, fmt.Errorf("rating: unknown policy %q", name)
	}
}

// DefaultParams returns the reference tuning.
func DefaultParams() Params {
	return Params{
		CountThreshold:   DefaultCountThreshold,
		DecaySeconds:     DefaultDecaySeconds,
		MinTimeWindow:    DefaultMinTimeWindow,
		OutlierThreshold: DefaultOutlierThreshold,
	}
}

// DynamicPolicy is the reference aggregation policy. Below the count
// threshold it keeps an exact cumulative mean; at or above it, it switches
// to an exponential moving average whose alpha grows with the elapsed time
// since the previous rating and shrinks when a rapid, repeated, far-off
// score looks like a rating-bombing burst.
type DynamicPolicy struct {
	Params Params
}

// Apply folds one submission into the snapshot.
func (p DynamicPolicy) Apply(state Snapshot, score int, now time.Time) Snapshot {
	next := state
	if state.RatingCount < p.Params.CountThreshold {
		next.AggregateScore = cumulativeMean(state.AggregateScore, state.RatingCount, score)
	} else {
		alpha := p.alpha(state, score, now)
		next.AggregateScore = alpha*float64(score) + (1-alpha)*state.AggregateScore
	}
	return advance(next, score, now)
}

// alpha derives the EMA weight for the newest observation.
func (p DynamicPolicy) alpha(state Snapshot, score int, now time.Time) float64 {
	if state.LastRatingTime == nil {
		return 1
	}
	dt := now.Sub(*state.LastRatingTime).Seconds()
	if dt < 0 {
		dt = 0
	}
	alpha := dt / (p.Params.DecaySeconds + dt)

	deviation := math.Abs(state.AggregateScore - float64(score))
	burst := dt <= p.Params.MinTimeWindow.Seconds()
	repeated := score == state.LastScore
	if burst && repeated && deviation > p.Params.OutlierThreshold {
		alpha /= deviation
	}
	return alpha
}

// Fixed-alpha recency tiers of the legacy variant.
const (
	tierMinWindow = 10 * time.Second
	tierMidWindow = 60 * time.Second

	tierBurstAlpha   = 0.02
	tierRecentAlpha  = 0.1
	tierSettledAlpha = 0.3
)

// TieredPolicy is the legacy aggregation variant: the same cumulative-mean
// branch below the threshold, then an EMA whose alpha is fixed per recency
// tier rather than derived from the exact elapsed time.
type TieredPolicy struct {
	CountThreshold int64
}

// Apply folds one submission into the snapshot.
func (p TieredPolicy) Apply(state Snapshot, score int, now time.Time) Snapshot {
	next := state
	if state.RatingCount < p.CountThreshold {
		next.AggregateScore = cumulativeMean(state.AggregateScore, state.RatingCount, score)
	} else {
		alpha := p.alpha(state, now)
		next.AggregateScore = alpha*float64(score) + (1-alpha)*state.AggregateScore
	}
	return advance(next, score, now)
}

func (p TieredPolicy) alpha(state Snapshot, now time.Time) float64 {
	if state.LastRatingTime == nil {
		return 1
	}
	dt := now.Sub(*state.LastRatingTime)
	switch {
	case dt <= tierMinWindow:
		return tierBurstAlpha
	case dt < tierMidWindow:
		return tierRecentAlpha
	default:
		return tierSettledAlpha
	}
}

func cumulativeMean(avg float64, count int64, score int) float64 {
	return (avg*float64(count) + float64(score)) / float64(count+1)
}

// advance applies the bookkeeping every policy shares: the count grows by
// one and the last-score/last-time markers track the submission.
func advance(next Snapshot, score int, now time.Time) Snapshot {
	next.RatingCount++
	next.LastScore = score
	t := now
	next.LastRatingTime = &t
	return next
}
