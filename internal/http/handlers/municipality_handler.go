// Municipality HTTP handlers.
//
//   - POST /municipalities  (upsert by subdomain)
//   - GET  /municipalities  (list)
//
// The upsert is the inbound replication interface: the external platform
// pushes municipality records and this endpoint makes ingestion targets of
// them. Repeating a request is safe; the subdomain is the natural key.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/civicband/civic-observer-sub002/internal/domain"
	"github.com/civicband/civic-observer-sub002/internal/repo"
)

// UpsertMunicipalityRequest is the JSON payload for the municipality upsert.
type UpsertMunicipalityRequest struct {
	Subdomain string `json:"subdomain" binding:"required"`
	Name      string `json:"name"`
	State     string `json:"state"`
	Country   string `json:"country"`
	SiteURL   string `json:"site_url"`
}

// MunicipalityResponse echoes the stored record plus whether this call
// created it.
type MunicipalityResponse struct {
	Municipality *domain.Municipality `json:"municipality"`
	Created      bool                 `json:"created"`
}

// UpsertMunicipality creates or updates a municipality keyed by subdomain.
// Returns 201 on create, 200 on update.
func (h *Handlers) UpsertMunicipality(c *gin.Context) {
	if !h.authorized(c) {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or missing bearer token")
		return
	}

	var req UpsertMunicipalityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body: subdomain required")
		return
	}
	sub := strings.TrimSpace(req.Subdomain)
	if sub == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "subdomain must not be blank")
		return
	}

	m := &domain.Municipality{
		Subdomain: sub,
		Name:      strings.TrimSpace(req.Name),
		State:     strings.TrimSpace(req.State),
		Country:   strings.TrimSpace(req.Country),
		SiteURL:   strings.TrimSpace(req.SiteURL),
	}
	stored, created, err := repo.UpsertMunicipality(c.Request.Context(), h.DB, m)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeUpsertFailed, err.Error())
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	ok(c, status, MunicipalityResponse{Municipality: stored, Created: created})
}

// ListMunicipalities returns all known municipalities.
func (h *Handlers) ListMunicipalities(c *gin.Context) {
	items, err := repo.ListMunicipalities(c.Request.Context(), h.DB)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"municipalities": items})
}
