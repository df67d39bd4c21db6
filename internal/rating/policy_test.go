package rating

import (
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestDynamicPolicy_CumulativeMeanBranch(t *testing.T) {
	policy := DynamicPolicy{Params: DefaultParams()}

	state := Snapshot{LastScore: NoLastScore}
	state = policy.Apply(state, 4, t0)
	if !almostEqual(state.AggregateScore, 4.0) || state.RatingCount != 1 {
		t.Fatalf("after first rating: score = %v count = %d, want 4.0 / 1", state.AggregateScore, state.RatingCount)
	}

	state = policy.Apply(state, 2, t0.Add(time.Minute))
	if !almostEqual(state.AggregateScore, 3.0) || state.RatingCount != 2 {
		t.Fatalf("after second rating: score = %v count = %d, want 3.0 / 2", state.AggregateScore, state.RatingCount)
	}
}

func TestDynamicPolicy_CumulativeMeanMatchesClosedForm(t *testing.T) {
	policy := DynamicPolicy{Params: DefaultParams()}

	scores := []int{5, 3, 1, 4, 4, 2, 5, 3, 3, 1, 2, 4}
	state := Snapshot{LastScore: NoLastScore}
	sum := 0
	now := t0
	for _, s := range scores {
		state = policy.Apply(state, s, now)
		sum += s
		now = now.Add(time.Hour)
	}

	want := float64(sum) / float64(len(scores))
	if !almostEqual(state.AggregateScore, want) {
		t.Fatalf("aggregate = %v, want closed-form mean %v", state.AggregateScore, want)
	}
	if state.RatingCount != int64(len(scores)) {
		t.Fatalf("count = %d, want %d", state.RatingCount, len(scores))
	}
}

func TestDynamicPolicy_FirstEMARatingTakesScoreOutright(t *testing.T) {
	policy := DynamicPolicy{Params: Params{
		CountThreshold:   0, // EMA from the first submission
		DecaySeconds:     DefaultDecaySeconds,
		MinTimeWindow:    DefaultMinTimeWindow,
		OutlierThreshold: DefaultOutlierThreshold,
	}}

	state := policy.Apply(Snapshot{LastScore: NoLastScore}, 3, t0)
	if !almostEqual(state.AggregateScore, 3.0) {
		t.Fatalf("first EMA rating: aggregate = %v, want 3.0", state.AggregateScore)
	}
	if state.LastRatingTime == nil || !state.LastRatingTime.Equal(t0) {
		t.Fatalf("LastRatingTime = %v, want %v", state.LastRatingTime, t0)
	}
	if state.LastScore != 3 {
		t.Fatalf("LastScore = %d, want 3", state.LastScore)
	}
}

func TestDynamicPolicy_AlphaGrowsWithElapsedTime(t *testing.T) {
	params := DefaultParams()
	policy := DynamicPolicy{Params: params}

	last := t0
	base := Snapshot{
		RatingCount:    params.CountThreshold,
		AggregateScore: 4.0,
		LastRatingTime: &last,
		LastScore:      4,
	}

	// A rating a full decay constant after the previous one weighs 0.5.
	halfway := policy.Apply(base, 2, t0.Add(time.Duration(params.DecaySeconds)*time.Second))
	if !almostEqual(halfway.AggregateScore, 3.0) {
		t.Fatalf("aggregate at dt=K: %v, want 3.0", halfway.AggregateScore)
	}

	// Rapid-fire ratings barely move the average.
	rapid := policy.Apply(base, 2, t0.Add(time.Second))
	if math.Abs(rapid.AggregateScore-4.0) > 0.001 {
		t.Fatalf("aggregate after 1s: %v, want ~4.0", rapid.AggregateScore)
	}
}

func TestDynamicPolicy_OutlierDampening(t *testing.T) {
	params := DefaultParams()
	policy := DynamicPolicy{Params: params}

	last := t0
	state := Snapshot{
		RatingCount:    params.CountThreshold,
		AggregateScore: 4.5,
		LastRatingTime: &last,
		LastScore:      1, // previous burst submission already scored 1
	}

	now := t0.Add(5 * time.Second)
	dt := now.Sub(last).Seconds()
	baseAlpha := dt / (params.DecaySeconds + dt)
	deviation := math.Abs(state.AggregateScore - 1)

	next := policy.Apply(state, 1, now)

	dampedAlpha := baseAlpha / deviation
	want := dampedAlpha*1 + (1-dampedAlpha)*4.5
	if !almostEqual(next.AggregateScore, want) {
		t.Fatalf("aggregate = %v, want %v (damped alpha)", next.AggregateScore, want)
	}

	undamped := baseAlpha*1 + (1-baseAlpha)*4.5
	if next.AggregateScore <= undamped {
		t.Fatalf("damped aggregate %v should sit above undamped %v", next.AggregateScore, undamped)
	}
}

func TestDynamicPolicy_NoDampeningForDifferentScore(t *testing.T) {
	params := DefaultParams()
	policy := DynamicPolicy{Params: params}

	last := t0
	state := Snapshot{
		RatingCount:    params.CountThreshold,
		AggregateScore: 4.5,
		LastRatingTime: &last,
		LastScore:      5, // previous submission differs from the burst score
	}

	now := t0.Add(5 * time.Second)
	dt := now.Sub(last).Seconds()
	baseAlpha := dt / (params.DecaySeconds + dt)

	next := policy.Apply(state, 1, now)
	want := baseAlpha*1 + (1-baseAlpha)*4.5
	if !almostEqual(next.AggregateScore, want) {
		t.Fatalf("aggregate = %v, want %v (undamped alpha)", next.AggregateScore, want)
	}
}

func TestTieredPolicy_AlphaTiers(t *testing.T) {
	policy := TieredPolicy{CountThreshold: 0}
	last := t0
	state := Snapshot{
		RatingCount:    10,
		AggregateScore: 4.0,
		LastRatingTime: &last,
		LastScore:      4,
	}

	tests := []struct {
		name  string
		dt    time.Duration
		alpha float64
	}{
		{"burst", 5 * time.Second, tierBurstAlpha},
		{"recent", 30 * time.Second, tierRecentAlpha},
		{"settled", 5 * time.Minute, tierSettledAlpha},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := policy.Apply(state, 1, t0.Add(tt.dt))
			want := tt.alpha*1 + (1-tt.alpha)*4.0
			if !almostEqual(next.AggregateScore, want) {
				t.Fatalf("aggregate = %v, want %v", next.AggregateScore, want)
			}
		})
	}
}

func TestNewPolicySelection(t *testing.T) {
	if _, err := New("dynamic", DefaultParams()); err != nil {
		t.Fatalf("dynamic: %v", err)
	}
	if _, err := New("tiered", DefaultParams()); err != nil {
		t.Fatalf("tiered: %v", err)
	}
	if _, err := New("median", DefaultParams()); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	policy := DynamicPolicy{Params: DefaultParams()}
	last := t0
	state := Snapshot{RatingCount: 3, AggregateScore: 4.0, LastRatingTime: &last, LastScore: 4}

	_ = policy.Apply(state, 1, t0.Add(time.Hour))

	if state.RatingCount != 3 || !almostEqual(state.AggregateScore, 4.0) || !state.LastRatingTime.Equal(t0) {
		t.Fatalf("input snapshot mutated: %+v", state)
	}
}
