// Package api implements the HTTP trigger and read surface of the rank tracker.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/jobs"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/logger"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/metrics"
)

// JobService creates, reads and cancels jobs.
type JobService interface {
	Enqueue(ctx context.Context, req jobs.EnqueueRequest) (*domain.Job, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error)
	Cancel(ctx context.Context, id, reason string) (*domain.Job, error)
}

// BatchRunner runs one dispatcher pass.
type BatchRunner interface {
	RunOnce(ctx context.Context) (jobs.Summary, error)
}

// PlanRunner runs one planner pass.
type PlanRunner interface {
	Plan(ctx context.Context) (jobs.PlanSummary, error)
}

// RankingReader is the read side used by the trigger and scoring endpoints.
type RankingReader interface {
	GetWebsite(ctx context.Context, id string) (*domain.Website, error)
	GetQueries(ctx context.Context, websiteID string, ids []string) ([]*domain.TrackedQuery, error)
	ListCompetitors(ctx context.Context, websiteID string) ([]*domain.Competitor, error)
	ListSamples(ctx context.Context, websiteID string) ([]*domain.PositionSample, error)
	LatestSnapshots(ctx context.Context, websiteID string, limit int) ([]*domain.SitemapSnapshot, error)
	GetSnapshot(ctx context.Context, websiteID, id string) (*domain.SitemapSnapshot, error)
}

// Deps holds the collaborators the router serves.
type Deps struct {
	Jobs       JobService
	Dispatcher BatchRunner
	Planner    PlanRunner
	Rankings   RankingReader
	Metrics    *metrics.Metrics
	// MetricsHandler serves /metrics. Defaults to the global Prometheus registry.
	MetricsHandler http.Handler
	Logger         logger.Logger
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(deps Deps) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(deps.Metrics.GinMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.GET("/metrics", gin.WrapH(metricsHandler))

	jobsHandler := NewJobsHandler(deps.Jobs, deps.Dispatcher, deps.Planner, deps.Rankings, log)
	rankingHandler := NewRankingHandler(deps.Rankings, log)

	v1 := router.Group("/api/v1")

	websites := v1.Group("/websites/:id")
	websites.POST("/jobs", jobsHandler.CreateJob)
	websites.POST("/serp-analysis", jobsHandler.TriggerSerpAnalysis)
	websites.GET("/competitors/:competitor_id/score", rankingHandler.Score)
	websites.GET("/sitemap/diff", rankingHandler.SitemapDiff)

	jobRoutes := v1.Group("/jobs")
	jobRoutes.GET("", jobsHandler.ListJobs)
	jobRoutes.POST("/dispatch", jobsHandler.Dispatch)
	jobRoutes.POST("/plan", jobsHandler.Plan)
	jobRoutes.GET("/:id", jobsHandler.GetJob)
	jobRoutes.POST("/:id/cancel", jobsHandler.CancelJob)

	return router
}

func ginLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		log.Info("HTTP request",
			logger.String("method", method),
			logger.String("path", path),
			logger.Int("status_code", c.Writer.Status()),
			logger.String("client_ip", c.ClientIP()),
			logger.Duration("duration", time.Since(start)),
		)
	}
}
