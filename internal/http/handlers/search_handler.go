// Search HTTP handler.
//
// GET /search runs a full-text query over ingested meeting pages through the
// configured backend.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/civicband/civic-observer-sub002/internal/search"
)

// SearchResponse wraps a page of search results.
type SearchResponse struct {
	Query      string          `json:"query"`
	Results    []search.Result `json:"results"`
	Pagination Pagination      `json:"pagination"`
}

// Search executes q against the search backend, scoped by optional
// subdomain/category filters.
func (h *Handlers) Search(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "query parameter q is required")
		return
	}
	page, pageSize := clampPagination(c)

	results, err := h.Searcher.Search(c.Request.Context(), q, search.Filters{
		Subdomain: c.Query("subdomain"),
		Category:  c.Query("category"),
	}, pageSize, (page-1)*pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeSearchFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, SearchResponse{
		Query:   q,
		Results: results,
		Pagination: Pagination{
			Page:     page,
			PageSize: pageSize,
			// Total is not cheaply available from all backends; has_next is
			// inferred from a full page.
			Total:   int64(len(results)),
			HasNext: len(results) == pageSize,
		},
	})
}
