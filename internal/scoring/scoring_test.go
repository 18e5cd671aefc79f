package scoring_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/scoring"
)

func pos(n int) *int { return &n }

func TestScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		self       scoring.Positions
		competitor scoring.Positions
		want       scoring.Result
	}{
		{
			name:       "mixed presence",
			self:       scoring.Positions{"shoes": pos(3), "hats": nil},
			competitor: scoring.Positions{"shoes": pos(5), "hats": pos(2)},
			want:       scoring.Result{Better: 1, Worse: 1, Total: 2, NetScore: 0},
		},
		{
			name:       "equal position",
			self:       scoring.Positions{"x": pos(5)},
			competitor: scoring.Positions{"x": pos(5)},
			want:       scoring.Result{Total: 1},
		},
		{
			name:       "both absent",
			self:       scoring.Positions{"x": nil, "y": pos(1)},
			competitor: scoring.Positions{"x": nil},
			want:       scoring.Result{Better: 1, Total: 1, NetScore: 1},
		},
		{
			name:       "query only in competitor map",
			self:       scoring.Positions{},
			competitor: scoring.Positions{"boots": pos(9)},
			want:       scoring.Result{Worse: 1, Total: 1, NetScore: -1},
		},
		{
			name:       "self trails on rank",
			self:       scoring.Positions{"a": pos(7), "b": pos(1)},
			competitor: scoring.Positions{"a": pos(2), "b": pos(4)},
			want:       scoring.Result{Better: 1, Worse: 1, Total: 2},
		},
		{
			name: "empty",
			want: scoring.Result{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, scoring.Score(tt.self, tt.competitor))
		})
	}
}

func TestLatestPositions(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	samples := []*domain.PositionSample{
		{OwnerKey: domain.OwnerSelf, Query: "Shoes ", Position: pos(9), ObservedAt: t0},
		{OwnerKey: domain.OwnerSelf, Query: "shoes", Position: pos(3), ObservedAt: t0.Add(time.Hour)},
		{OwnerKey: domain.OwnerSelf, Query: "hats", Position: pos(4), ObservedAt: t0.Add(time.Hour)},
		{OwnerKey: domain.OwnerSelf, Query: "hats", Position: nil, ObservedAt: t0.Add(2 * time.Hour)},
		{OwnerKey: domain.OwnerSelf, Query: "socks", Position: pos(1), ObservedAt: t0},
		{OwnerKey: domain.OwnerSelf, Query: "socks", Position: pos(8), ObservedAt: t0},
		{OwnerKey: domain.CompetitorOwnerKey("c1"), Query: "shoes", Position: pos(1), ObservedAt: t0.Add(3 * time.Hour)},
	}

	got := scoring.LatestPositions(samples, domain.OwnerSelf)

	assert.Len(t, got, 3)
	assert.Equal(t, 3, *got["shoes"])
	assert.Nil(t, got["hats"])
	assert.Contains(t, got, "hats")
	assert.Equal(t, 1, *got["socks"], "equal timestamps keep the first sample")
}

func TestLatestPositions_TieGoesToNewestRecorded(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	// Store order: observed_at desc, then most recently recorded first.
	samples := []*domain.PositionSample{
		{ID: "recorded-second", OwnerKey: domain.OwnerSelf, Query: "shoes", Position: pos(2), ObservedAt: at},
		{ID: "recorded-first", OwnerKey: domain.OwnerSelf, Query: "shoes", Position: pos(9), ObservedAt: at},
		{ID: "older", OwnerKey: domain.OwnerSelf, Query: "shoes", Position: pos(1), ObservedAt: at.Add(-time.Hour)},
	}

	got := scoring.LatestPositions(samples, domain.OwnerSelf)

	require.Contains(t, got, "shoes")
	assert.Equal(t, 2, *got["shoes"])
}

func TestCompareLatest(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	comp := domain.CompetitorOwnerKey("c1")
	samples := []*domain.PositionSample{
		{OwnerKey: domain.OwnerSelf, Query: "shoes", Position: pos(3), ObservedAt: t0},
		{OwnerKey: domain.OwnerSelf, Query: "hats", Position: nil, ObservedAt: t0},
		{OwnerKey: comp, Query: "shoes", Position: pos(1), ObservedAt: t0},
		{OwnerKey: comp, Query: "shoes", Position: pos(5), ObservedAt: t0.Add(time.Minute)},
		{OwnerKey: comp, Query: "hats", Position: pos(2), ObservedAt: t0},
	}

	assert.Equal(t, scoring.Result{Better: 1, Worse: 1, Total: 2}, scoring.CompareLatest(samples, "c1"))
}
