package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/apperrors"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/logger"
)

const (
	defaultLimit  = 50
	defaultOffset = 0
)

// parseLimitOffset parses limit and offset query params with defaults.
func parseLimitOffset(c *gin.Context, defaultLimit, defaultOffset int) (limit, offset int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", strconv.Itoa(defaultOffset)))
	if err != nil || offset < 0 {
		offset = defaultOffset
	}
	return limit, offset
}

// respondError sends a {success:false, error} body with the status mapped from err.
// A conflict also carries the existing job so the caller can retry with force.
func respondError(c *gin.Context, log logger.Logger, err error) {
	status := apperrors.HTTPStatus(err)
	body := gin.H{"success": false, "error": err.Error()}

	var conflict *apperrors.ConflictError
	if errors.As(err, &conflict) {
		body["conflict"] = gin.H{
			"job_id":     conflict.JobID,
			"status":     conflict.Status,
			"created_at": conflict.CreatedAt,
		}
	}

	if status >= http.StatusInternalServerError {
		log.Error("Request failed",
			logger.String("path", c.Request.URL.Path),
			logger.Error(err),
		)
		body["error"] = "internal server error"
	}

	c.JSON(status, body)
}

// respondBadRequest sends a 400 with message.
func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": message})
}
