package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/civicband/civic-observer-sub002/internal/domain"
	"github.com/civicband/civic-observer-sub002/internal/ingest"
	"github.com/civicband/civic-observer-sub002/internal/search"
	"github.com/civicband/civic-observer-sub002/internal/utils"
)

// JobRunner is the ingestion capability the webhook and job endpoints
// consume. Implemented by *ingest.Ingestor; tests substitute a fake.
type JobRunner interface {
	// Claim acquires the exclusive run for a resource, or returns
	// repo.ErrClaimConflict.
	Claim(ctx context.Context, id domain.ResourceIdentity, opts ingest.Options) (*domain.IngestionJob, error)
	// Process drives a claimed job to a terminal state.
	Process(ctx context.Context, job *domain.IngestionJob, opts ingest.Options) (*domain.IngestionJob, error)
}

// Handlers groups the HTTP endpoints and their dependencies.
type Handlers struct {
	DB       *gorm.DB
	Runner   JobRunner
	Searcher search.Searcher

	// IngestToken, when non-empty, is required as a bearer token on
	// mutating ingest endpoints.
	IngestToken string
	// WebhookTTL is how long a webhook delivery ID is remembered for
	// replay detection.
	WebhookTTL time.Duration
}

// New constructs a Handlers instance bound to the given dependencies.
func New(db *gorm.DB, runner JobRunner, searcher search.Searcher, ingestToken string, webhookTTL time.Duration) *Handlers {
	return &Handlers{
		DB:          db,
		Runner:      runner,
		Searcher:    searcher,
		IngestToken: ingestToken,
		WebhookTTL:  webhookTTL,
	}
}

// authorized enforces the optional ingest bearer token. With no token
// configured every caller is allowed; with one configured the Authorization
// header must carry exactly "Bearer <token>".
func (h *Handlers) authorized(c *gin.Context) bool {
	if h.IngestToken == "" {
		return true
	}
	auth := c.GetHeader("Authorization")
	token, found := strings.CutPrefix(auth, "Bearer ")
	return found && token == h.IngestToken
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.IntOrDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.IntOrDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}
