package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/jobs"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/logger"
)

// JobsHandler handles job trigger and job read requests.
type JobsHandler struct {
	jobs       JobService
	dispatcher BatchRunner
	planner    PlanRunner
	rankings   RankingReader
	log        logger.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(svc JobService, dispatcher BatchRunner, planner PlanRunner, rankings RankingReader, log logger.Logger) *JobsHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &JobsHandler{jobs: svc, dispatcher: dispatcher, planner: planner, rankings: rankings, log: log}
}

// CreateJobRequest is the body of POST /api/v1/websites/:id/jobs.
type CreateJobRequest struct {
	Type     string          `binding:"required" json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Priority *int            `json:"priority"`
	Force    bool            `json:"force"`
}

// SerpAnalysisRequest is the body of POST /api/v1/websites/:id/serp-analysis.
type SerpAnalysisRequest struct {
	QueryIDs []string `json:"query_ids"`
	Force    bool     `json:"force"`
}

// CancelJobRequest is the optional body of POST /api/v1/jobs/:id/cancel.
type CancelJobRequest struct {
	Reason string `json:"reason"`
}

// CreateJob handles POST /api/v1/websites/:id/jobs
func (h *JobsHandler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request: "+err.Error())
		return
	}

	websiteID := c.Param("id")
	if _, err := h.rankings.GetWebsite(c.Request.Context(), websiteID); err != nil {
		respondError(c, h.log, err)
		return
	}

	payload, err := domain.DecodePayload(domain.JobType(req.Type), req.Payload)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	priority := domain.PriorityManual
	if req.Priority != nil {
		priority = *req.Priority
	}

	h.enqueue(c, jobs.EnqueueRequest{
		WebsiteID: websiteID,
		Payload:   payload,
		Priority:  priority,
		Force:     req.Force,
	})
}

// TriggerSerpAnalysis handles POST /api/v1/websites/:id/serp-analysis
func (h *JobsHandler) TriggerSerpAnalysis(c *gin.Context) {
	var req SerpAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request: "+err.Error())
		return
	}
	if len(req.QueryIDs) == 0 {
		respondBadRequest(c, "query_ids: at least one query is required")
		return
	}

	ctx := c.Request.Context()
	websiteID := c.Param("id")
	if _, err := h.rankings.GetWebsite(ctx, websiteID); err != nil {
		respondError(c, h.log, err)
		return
	}

	queries, err := h.rankings.GetQueries(ctx, websiteID, req.QueryIDs)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if len(queries) == 0 {
		respondBadRequest(c, "query_ids: no tracked queries found for this website")
		return
	}

	ids := make([]string, 0, len(queries))
	for _, q := range queries {
		ids = append(ids, q.ID)
	}

	h.enqueue(c, jobs.EnqueueRequest{
		WebsiteID: websiteID,
		Payload:   &domain.SerpAnalysisPayload{QueryIDs: ids},
		Priority:  domain.PriorityManual,
		Force:     req.Force,
	})
}

func (h *JobsHandler) enqueue(c *gin.Context, req jobs.EnqueueRequest) {
	job, err := h.jobs.Enqueue(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"job_id":  job.ID,
		"job":     job,
	})
}

// ListJobs handles GET /api/v1/jobs
func (h *JobsHandler) ListJobs(c *gin.Context) {
	limit, offset := parseLimitOffset(c, defaultLimit, defaultOffset)

	filter := domain.JobFilter{
		WebsiteID: c.Query("website_id"),
		Type:      domain.JobType(c.Query("type")),
		Status:    domain.JobStatus(c.Query("status")),
		Limit:     limit,
		Offset:    offset,
	}
	if filter.Type != "" && !filter.Type.Valid() {
		respondBadRequest(c, "unknown job type: "+string(filter.Type))
		return
	}

	list, err := h.jobs.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"jobs":    list,
		"count":   len(list),
	})
}

// GetJob handles GET /api/v1/jobs/:id
func (h *JobsHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "job": job})
}

// CancelJob handles POST /api/v1/jobs/:id/cancel
func (h *JobsHandler) CancelJob(c *gin.Context) {
	var req CancelJobRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, "Invalid request: "+err.Error())
			return
		}
	}

	job, err := h.jobs.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "job": job})
}

// Dispatch handles POST /api/v1/jobs/dispatch
func (h *JobsHandler) Dispatch(c *gin.Context) {
	summary, err := h.dispatcher.RunOnce(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "summary": summary})
}

// Plan handles POST /api/v1/jobs/plan
func (h *JobsHandler) Plan(c *gin.Context) {
	summary, err := h.planner.Plan(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "summary": summary})
}
