// Saved-search HTTP handlers.
//
//   - POST /searches      (create a saved search subscription)
//   - GET  /searches/:id  (inspect one subscription)
//
// Saved searches are what the notification pipeline evaluates after each
// ingestion run.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/civicband/civic-observer-sub002/internal/domain"
	"github.com/civicband/civic-observer-sub002/internal/repo"
)

// CreateSavedSearchRequest is the JSON payload for creating a subscription.
type CreateSavedSearchRequest struct {
	Owner     string `json:"owner" binding:"required"`
	Query     string `json:"query" binding:"required"`
	Subdomain string `json:"subdomain"`
	Category  string `json:"category"`
	Frequency string `json:"frequency"`
}

// CreateSavedSearch persists a new saved search. Frequency defaults to
// immediate.
func (h *Handlers) CreateSavedSearch(c *gin.Context) {
	var req CreateSavedSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body: owner and query required")
		return
	}

	freq := strings.ToLower(strings.TrimSpace(req.Frequency))
	if freq == "" {
		freq = domain.FreqImmediate
	}
	switch freq {
	case domain.FreqImmediate, domain.FreqDaily, domain.FreqWeekly:
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "frequency must be immediate, daily, or weekly")
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "query must not be blank")
		return
	}

	s := &domain.SavedSearch{
		Owner:     strings.TrimSpace(req.Owner),
		Query:     query,
		Subdomain: strings.TrimSpace(req.Subdomain),
		Category:  strings.TrimSpace(req.Category),
		Frequency: freq,
	}
	stored, err := repo.CreateSavedSearch(c.Request.Context(), h.DB, s)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, stored)
}

// GetSavedSearch returns one subscription by ID.
func (h *Handlers) GetSavedSearch(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "search id must be a UUID")
		return
	}
	s, err := repo.GetSavedSearch(c.Request.Context(), h.DB, id)
	if err != nil {
		if repo.IsNotFound(err) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "saved search not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, s)
}
