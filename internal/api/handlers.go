package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hsrmk/skystack/internal/domain"
	"github.com/hsrmk/skystack/internal/lifecycle"
	"github.com/hsrmk/skystack/internal/logger"
)

type createRequest struct {
	URL string `json:"url"`
}

// createNewsletter provisions an active mirror, streaming NDJSON progress
// events as stages complete. The final event carries either the short id or
// the error.
func (r *Router) createNewsletter(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)

	enc := json.NewEncoder(c.Writer)
	emit := func(e lifecycle.Event) {
		if err := enc.Encode(e); err == nil {
			c.Writer.Flush()
		}
	}

	if _, err := r.service.CreateNewsletter(c.Request.Context(), req.URL, emit); err != nil {
		emit(lifecycle.Event{Stage: "error", Error: err.Error()})
		return
	}
}

func (r *Router) createDormantNewsletter(c *gin.Context) {
	var job domain.DormantCreateJob
	if err := c.ShouldBindJSON(&job); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	record, err := r.service.CreateDormantNewsletter(c.Request.Context(), job)
	if err != nil {
		r.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"short_id": record.ShortID, "is_dormant": record.IsDormant})
}

type activateRequest struct {
	ShortID string `json:"short_id"`
}

func (r *Router) activateNewsletter(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ShortID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "short_id is required"})
		return
	}

	if err := r.service.ActivateDormantNewsletter(c.Request.Context(), req.ShortID); err != nil {
		r.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"short_id": req.ShortID, "activated": true})
}

func (r *Router) resyncNewsletter(c *gin.Context) {
	var job domain.ResyncJob
	if err := c.ShouldBindJSON(&job); err != nil || job.ShortID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "short_id is required"})
		return
	}

	imported, err := r.service.ResyncNewsletter(c.Request.Context(), job)
	if err != nil {
		r.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"short_id": job.ShortID, "imported": imported})
}

func (r *Router) importOlderPosts(c *gin.Context) {
	var job domain.BackfillJob
	if err := c.ShouldBindJSON(&job); err != nil || job.ShortID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "short_id is required"})
		return
	}

	imported, err := r.service.ImportOlderPosts(c.Request.Context(), job)
	if err != nil {
		r.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"short_id": job.ShortID, "imported": imported})
}

func (r *Router) buildUserGraph(c *gin.Context) {
	var job domain.GraphJob
	if err := c.ShouldBindJSON(&job); err != nil || job.ShortID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "short_id is required"})
		return
	}

	if err := r.service.BuildUserGraph(c.Request.Context(), job); err != nil {
		r.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"short_id": job.ShortID, "graph_built": true})
}

func (r *Router) checkDueResyncs(c *gin.Context) {
	statuses, err := r.service.CheckDueResyncs(c.Request.Context())
	if err != nil {
		r.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"due": len(statuses), "statuses": statuses})
}

func (r *Router) checkAnnouncements(c *gin.Context) {
	statuses, err := r.service.CheckNewAnnouncements(c.Request.Context())
	if err != nil {
		r.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scheduled": len(statuses), "statuses": statuses})
}

func (r *Router) announce(c *gin.Context) {
	var job domain.AnnounceJob
	if err := c.ShouldBindJSON(&job); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := r.service.Announce(c.Request.Context(), job); err != nil {
		r.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"handle": job.Handle, "announced": true})
}

func (r *Router) followUser(c *gin.Context) {
	var job domain.FollowJob
	if err := c.ShouldBindJSON(&job); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := r.service.FollowUser(c.Request.Context(), job); err != nil {
		r.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"followed": job.User})
}

type followBatchRequest struct {
	Jobs []domain.FollowJob `json:"jobs"`
}

// followBatch runs follow jobs sequentially, collecting per-job outcomes
// instead of failing the batch.
func (r *Router) followBatch(c *gin.Context) {
	var req followBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	results := make(map[string]string, len(req.Jobs))
	for _, job := range req.Jobs {
		if err := r.service.FollowUser(c.Request.Context(), job); err != nil {
			results[job.User] = err.Error()
			continue
		}
		results[job.User] = "followed"
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (r *Router) updateList(c *gin.Context) {
	var job domain.UpdateListJob
	if err := c.ShouldBindJSON(&job); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := r.service.UpdateList(c.Request.Context(), job)
	if err != nil {
		r.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type updateAllListsRequest struct {
	Lists []domain.UpdateListJob `json:"lists"`
}

func (r *Router) updateAllLists(c *gin.Context) {
	var req updateAllListsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	statuses, err := r.service.UpdateAllLists(c.Request.Context(), req.Lists)
	if err != nil {
		r.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scheduled": len(statuses), "statuses": statuses})
}

const defaultFailureLimit = 50

// listFailures returns failure-log entries ordered for triage.
func (r *Router) listFailures(c *gin.Context) {
	limit := defaultFailureLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	entries, err := r.failures.ListByPriority(c.Request.Context(), limit)
	if err != nil {
		r.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "failures": entries})
}

// renderError maps the domain error taxonomy onto HTTP statuses.
func (r *Router) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrUpstreamFetch):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		r.logger.Error("request failed",
			logger.String("path", c.Request.URL.Path),
			logger.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
