// Ingest webhook handler.
//
// POST /webhooks/ingest is how the external platform signals that a
// resource has new documents. The handler claims the run synchronously (so
// the caller learns about conflicts immediately) and drives the ingestion
// loop in the background. Providers that retry webhooks can pass a
// delivery_id; replays of a remembered delivery are acknowledged without
// starting anything.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/civicband/civic-observer-sub002/internal/domain"
	"github.com/civicband/civic-observer-sub002/internal/ingest"
	"github.com/civicband/civic-observer-sub002/internal/repo"
)

// IngestWebhookRequest is the JSON payload delivered by the platform.
type IngestWebhookRequest struct {
	Subdomain   string `json:"subdomain" binding:"required"`
	Category    string `json:"category" binding:"required"`
	DeliveryID  string `json:"delivery_id"`
	Incremental bool   `json:"incremental"`
}

// IngestWebhook accepts an ingestion trigger. Responses:
//   - 202 with the claimed job when a run starts
//   - 200 when the delivery_id was already processed (replay)
//   - 409 with the active job when another run holds the claim
func (h *Handlers) IngestWebhook(c *gin.Context) {
	if !h.authorized(c) {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or missing bearer token")
		return
	}

	var req IngestWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body: subdomain and category required")
		return
	}
	id := domain.ResourceIdentity{
		Subdomain: strings.TrimSpace(req.Subdomain),
		Category:  strings.TrimSpace(req.Category),
	}
	if id.Subdomain == "" || id.Category == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "subdomain and category must not be blank")
		return
	}
	ctx := c.Request.Context()

	if req.DeliveryID != "" {
		_, err := repo.RecordDelivery(ctx, h.DB, req.DeliveryID, id.Subdomain, id.Category, h.WebhookTTL)
		if errors.Is(err, repo.ErrDuplicateDelivery) {
			ok(c, http.StatusOK, gin.H{"status": "replay", "delivery_id": req.DeliveryID})
			return
		}
		if err != nil {
			fail(c, http.StatusInternalServerError, ErrCodeIngestFailed, err.Error())
			return
		}
	}

	opts := ingest.Options{}
	if req.Incremental {
		opts.Mode = ingest.ModeIncremental
	}

	job, err := h.Runner.Claim(ctx, id, opts)
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
		fail(c, http.StatusInternalServerError, ErrCodeIngestFailed, err.Error())
		return
	}

	// The claim is held; the loop outlives the request.
	go func() {
		if _, err := h.Runner.Process(context.Background(), job, opts); err != nil {
			log.Error().
				Str("job_id", job.ID).
				Str("resource", id.String()).
				Err(err).
				Msg("webhook-triggered ingestion failed")
		}
	}()

	ok(c, http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
}
