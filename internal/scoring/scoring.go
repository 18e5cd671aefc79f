// Package scoring compares a website's search positions against a competitor's.
package scoring

import (
	"strings"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
)

// Positions maps a normalized query to a ranked position. A nil value means not ranked.
type Positions map[string]*int

// Result counts the queries where self outranks or trails the competitor.
type Result struct {
	Better   int `json:"better"`
	Worse    int `json:"worse"`
	Total    int `json:"total"`
	NetScore int `json:"net_score"`
}

// NormalizeQuery lower-cases and trims a query for use as a Positions key.
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// Score compares self against competitor over the union of their queries. Queries where
// neither side ranks are ignored. A lower position wins; equal positions count toward
// Total only.
func Score(self, competitor Positions) Result {
	var r Result

	compare := func(s, c *int) {
		switch {
		case s == nil && c == nil:
			return
		case c == nil:
			r.Better++
		case s == nil:
			r.Worse++
		case *s < *c:
			r.Better++
		case *s > *c:
			r.Worse++
		}
		r.Total++
	}

	for q, s := range self {
		compare(s, competitor[q])
	}
	for q, c := range competitor {
		if _, seen := self[q]; seen {
			continue
		}
		compare(nil, c)
	}

	r.NetScore = r.Better - r.Worse
	return r
}

// LatestPositions reduces samples for ownerKey to one position per normalized query.
// The sample with the latest ObservedAt wins; on equal timestamps the first one in
// samples is kept. Stores list samples newest first, so a tie goes to the most
// recently recorded sample.
func LatestPositions(samples []*domain.PositionSample, ownerKey string) Positions {
	chosen := make(map[string]*domain.PositionSample)

	for _, s := range samples {
		if s == nil || s.OwnerKey != ownerKey {
			continue
		}
		key := NormalizeQuery(s.Query)
		if key == "" {
			continue
		}
		cur, ok := chosen[key]
		if !ok || s.ObservedAt.After(cur.ObservedAt) {
			chosen[key] = s
		}
	}

	out := make(Positions, len(chosen))
	for key, s := range chosen {
		if s.Position == nil {
			out[key] = nil
			continue
		}
		pos := *s.Position
		out[key] = &pos
	}
	return out
}

// CompareLatest scores a competitor against self using the latest sample per query.
func CompareLatest(samples []*domain.PositionSample, competitorID string) Result {
	return Score(
		LatestPositions(samples, domain.OwnerSelf),
		LatestPositions(samples, domain.CompetitorOwnerKey(competitorID)),
	)
}
