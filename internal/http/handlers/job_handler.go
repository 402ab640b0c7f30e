// Ingestion job HTTP handlers.
//
//   - GET  /jobs             (list, filterable by subdomain/category/status)
//   - GET  /jobs/:id         (detail, including per-page error log)
//   - POST /jobs/:id/fail    (operator unstick for a wedged running job)
//   - POST /jobs/:id/resume  (restart a failed/paused job from its checkpoint)
//
// Jobs are audit history: failed runs stay inspectable here, they are never
// deleted.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/civicband/civic-observer-sub002/internal/domain"
	"github.com/civicband/civic-observer-sub002/internal/ingest"
	"github.com/civicband/civic-observer-sub002/internal/repo"
	"github.com/civicband/civic-observer-sub002/internal/utils"
)

// JobDetailResponse is a job plus its per-page error log.
type JobDetailResponse struct {
	Job        *domain.IngestionJob        `json:"job"`
	PageErrors []domain.IngestionPageError `json:"page_errors"`
}

// FailJobRequest optionally carries the operator's reason.
type FailJobRequest struct {
	Reason string `json:"reason"`
}

// ListJobs returns recent jobs, newest first, filtered by query params.
func (h *Handlers) ListJobs(c *gin.Context) {
	limit := utils.IntOrDefault(c.Query("limit"), 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	jobs, err := repo.ListJobs(c.Request.Context(), h.DB,
		c.Query("subdomain"), c.Query("category"), c.Query("status"), limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"jobs": jobs})
}

// GetJob returns one job with its page errors.
func (h *Handlers) GetJob(c *gin.Context) {
	jobID := c.Param("id")
	if _, err := uuid.Parse(jobID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "job id must be a UUID")
		return
	}

	ctx := c.Request.Context()
	job, err := repo.GetJob(ctx, h.DB, jobID)
	if err != nil {
		if repo.IsNotFound(err) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "job not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	pageErrs, err := repo.ListPageErrors(ctx, h.DB, jobID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, JobDetailResponse{Job: job, PageErrors: pageErrs})
}

// FailJob force-fails a job whose process died without releasing the claim.
// The checkpoint survives, so the job remains resumable.
func (h *Handlers) FailJob(c *gin.Context) {
	if !h.authorized(c) {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or missing bearer token")
		return
	}
	jobID := c.Param("id")
	if _, err := uuid.Parse(jobID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "job id must be a UUID")
		return
	}

	var req FailJobRequest
	_ = c.ShouldBindJSON(&req) // body optional
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "failed by operator"
	}

	ctx := c.Request.Context()
	if err := repo.FailJob(ctx, h.DB, jobID, reason); err != nil {
		if repo.IsNotFound(err) {
			fail(c, http.StatusConflict, ErrCodeConflict, "job not found or not in a failable state")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	job, err := repo.GetJob(ctx, h.DB, jobID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"job": job})
}

// ResumeJob flips a failed or paused job back to running and restarts the
// loop from its checkpoint in the background.
func (h *Handlers) ResumeJob(c *gin.Context) {
	if !h.authorized(c) {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or missing bearer token")
		return
	}
	jobID := c.Param("id")
	if _, err := uuid.Parse(jobID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "job id must be a UUID")
		return
	}

	job, err := repo.ResumeJob(c.Request.Context(), h.DB, jobID)
	if err != nil {
		var conflict *repo.ClaimConflictError
		if errors.As(err, &conflict) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"request_id":    c.Writer.Header().Get("X-Request-ID"),
				"code":          ErrCodeConflict,
				"message":       conflict.Error(),
				"active_job_id": conflict.ActiveJobID,
				"running_since": conflict.Since,
			})
			return
		}
		if repo.IsNotFound(err) {
			fail(c, http.StatusConflict, ErrCodeConflict, "job not found or not resumable")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	opts := ingest.Options{Resume: true}
	go func() {
		if _, err := h.Runner.Process(context.Background(), job, opts); err != nil {
			log.Error().
				Str("job_id", job.ID).
				Str("resource", job.Resource().String()).
				Err(err).
				Msg("resumed ingestion failed")
		}
	}()

	ok(c, http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
}
