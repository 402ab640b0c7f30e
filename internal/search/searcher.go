// Package search provides the query-execution capability used by the HTTP
// search endpoint and the notification matcher. It is deliberately
// backend-agnostic: callers depend on the single Searcher interface, and the
// concrete matching strategy (relational LIKE matching vs in-memory
// token-set scoring) is selected by configuration, not by conditional
// branching in calling code.
package search

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Backend names accepted by New.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Filters scope a query structurally. Empty strings mean "no filter".
// Since, when set, restricts results to records ingested or updated after
// that instant; the notification matcher uses it to detect genuinely new
// matches since the last notification.
type Filters struct {
	Subdomain string
	Category  string
	Since     *time.Time
}

// Result is one matched page with a highlighted text fragment.
type Result struct {
	MeetingKey string  `json:"meeting_key"`
	Title      string  `json:"title"`
	Date       string  `json:"date"`
	Subdomain  string  `json:"subdomain"`
	Category   string  `json:"category"`
	PageNumber int     `json:"page_number"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

// Searcher is the minimal interface implemented by all search backends.
type Searcher interface {
	Search(ctx context.Context, query string, f Filters, limit, offset int) ([]Result, error)
}

// New selects a backend by name. Both backends read the same stored pages;
// they differ only in matching and ranking strategy.
func New(backend string, db *gorm.DB) (Searcher, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendSQLite, "":
		return &sqliteSearcher{db: db}, nil
	case BackendMemory:
		return &memorySearcher{db: db}, nil
	default:
		return nil, fmt.Errorf("unknown search backend %q", backend)
	}
}

// ----------------------------------------------------------------------------
// Shared helpers

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

// terms lowercases and tokenizes a query into unique word tokens.
func terms(query string) []string {
	words := wordRE.FindAllString(strings.ToLower(query), -1)
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// snippetAround returns a bounded window of text centered on the first
// occurrence of any term, the matched fragment a notification or search
// response shows to the user.
func snippetAround(text string, queryTerms []string, radius int) string {
	lower := strings.ToLower(text)
	pos := -1
	for _, t := range queryTerms {
		if i := strings.Index(lower, t); i >= 0 && (pos < 0 || i < pos) {
			pos = i
		}
	}
	if pos < 0 {
		if len(text) <= 2*radius {
			return text
		}
		return strings.TrimSpace(text[:2*radius]) + "…"
	}

	start := pos - radius
	if start < 0 {
		start = 0
	}
	end := pos + radius
	if end > len(text) {
		end = len(text)
	}
	snippet := strings.TrimSpace(text[start:end])
	if start > 0 {
		snippet = "…" + snippet
	}
	if end < len(text) {
		snippet += "…"
	}
	return snippet
}
