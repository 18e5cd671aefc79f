package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/apperrors"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/logger"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/scoring"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/sitemap"
)

// RankingHandler serves the scoring and sitemap diff reads.
type RankingHandler struct {
	rankings RankingReader
	log      logger.Logger
}

// NewRankingHandler creates a new ranking handler.
func NewRankingHandler(rankings RankingReader, log logger.Logger) *RankingHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &RankingHandler{rankings: rankings, log: log}
}

// Score handles GET /api/v1/websites/:id/competitors/:competitor_id/score
func (h *RankingHandler) Score(c *gin.Context) {
	ctx := c.Request.Context()
	websiteID := c.Param("id")
	competitorID := c.Param("competitor_id")

	competitors, err := h.rankings.ListCompetitors(ctx, websiteID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	found := false
	for _, comp := range competitors {
		if comp.ID == competitorID {
			found = true
			break
		}
	}
	if !found {
		respondError(c, h.log, &apperrors.NotFoundError{Entity: "competitor", ID: competitorID})
		return
	}

	samples, err := h.rankings.ListSamples(ctx, websiteID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"website_id":    websiteID,
		"competitor_id": competitorID,
		"score":         scoring.CompareLatest(samples, competitorID),
	})
}

// SitemapDiff handles GET /api/v1/websites/:id/sitemap/diff?from=&to=
// "to" is the newer snapshot. Without both ids the latest two snapshots are compared.
func (h *RankingHandler) SitemapDiff(c *gin.Context) {
	ctx := c.Request.Context()
	websiteID := c.Param("id")
	fromID, toID := c.Query("from"), c.Query("to")

	if (fromID == "") != (toID == "") {
		respondBadRequest(c, "from and to must be given together")
		return
	}

	from, to := fromID, toID
	var fromURLs, toURLs []string

	if fromID == "" {
		snaps, err := h.rankings.LatestSnapshots(ctx, websiteID, 2)
		if err != nil {
			respondError(c, h.log, err)
			return
		}
		if len(snaps) < 2 {
			respondError(c, h.log, &apperrors.NotFoundError{Entity: "previous sitemap snapshot", ID: websiteID})
			return
		}
		to, toURLs = snaps[0].ID, snaps[0].URLs
		from, fromURLs = snaps[1].ID, snaps[1].URLs
	} else {
		fromSnap, err := h.rankings.GetSnapshot(ctx, websiteID, fromID)
		if err != nil {
			respondError(c, h.log, err)
			return
		}
		toSnap, err := h.rankings.GetSnapshot(ctx, websiteID, toID)
		if err != nil {
			respondError(c, h.log, err)
			return
		}
		fromURLs, toURLs = fromSnap.URLs, toSnap.URLs
	}

	diff := sitemap.Compare(toURLs, fromURLs)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"from":    from,
		"to":      to,
		"diff":    diff,
		"summary": diff.Summary(),
	})
}
