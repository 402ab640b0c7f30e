// Package source is the thin HTTP client for the external meeting-document
// provider. It exposes exactly two operations: a cursor-paginated fetch and
// a lightweight authoritative-count request, both bounded by a fixed request
// timeout. Retry policy is deliberately not implemented here; the ingestor
// layers backoff on top. The client does classify every failure as transient
// or permanent so callers can decide.
//
// The pagination cursor is opaque outside this package. Internally it is
// "page:N"; NextCursor advances it without a server round-trip, which is
// what lets the ingestor skip a page that keeps failing after retries.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/civicband/civic-observer-sub002/internal/domain"
)

// DefaultTimeout bounds every provider request when no override is given.
const DefaultTimeout = 120 * time.Second

const cursorPrefix = "page:"

// Record is one page of one meeting document as delivered by the provider.
type Record struct {
	MeetingID    string `json:"meeting_id"`
	MeetingTitle string `json:"meeting_title"`
	MeetingDate  string `json:"meeting_date"` // YYYY-MM-DD
	PageNumber   int    `json:"page_number"`
	Text         string `json:"text"`
}

// Page is the result of one paginated fetch.
type Page struct {
	Records    []Record
	Number     int    // 1-based page number decoded from the cursor
	NextCursor string // cursor for the following page; empty when exhausted
	HasMore    bool
}

// pageEnvelope is the provider's wire shape for the documents endpoint.
type pageEnvelope struct {
	Records []Record `json:"records"`
	HasMore bool     `json:"has_more"`
}

// countEnvelope is the provider's wire shape for the count endpoint.
type countEnvelope struct {
	Count int `json:"count"`
}

// Client talks to the external provider over HTTP with a fixed timeout.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client for the provider at baseURL. A non-positive timeout
// falls back to DefaultTimeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// FirstCursor returns the cursor for the first page of a resource.
func FirstCursor() string { return cursorPrefix + "1" }

// NextCursor advances the cursor past the page it currently points at.
// Used both for normal pagination and to skip a poisoned page.
func (c *Client) NextCursor(cursor string) string {
	n, err := parseCursor(cursor)
	if err != nil {
		return FirstCursor()
	}
	return cursorPrefix + strconv.Itoa(n+1)
}

// FetchPage requests one page of records for the resource identity. A nil
// since fetches everything; otherwise only records newer than since are
// returned (incremental mode). Failures are classified: network errors,
// timeouts, 429 and 5xx are *TransientError; auth failures, other 4xx, and
// malformed response bodies are *PermanentError.
func (c *Client) FetchPage(ctx context.Context, id domain.ResourceIdentity, cursor string, limit int, since *time.Time) (*Page, error) {
	number, err := parseCursor(cursor)
	if err != nil {
		return nil, &PermanentError{Op: "fetch", Err: err}
	}
	if limit <= 0 {
		limit = 100
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(number))
	q.Set("per_page", strconv.Itoa(limit))
	if since != nil {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	endpoint := fmt.Sprintf("%s/api/%s/%s/documents?%s", c.baseURL, id.Subdomain, id.Category, q.Encode())

	var env pageEnvelope
	if err := c.getJSON(ctx, "fetch", endpoint, &env); err != nil {
		return nil, err
	}

	page := &Page{
		Records: env.Records,
		Number:  number,
		HasMore: env.HasMore,
	}
	if env.HasMore {
		page.NextCursor = cursorPrefix + strconv.Itoa(number+1)
	}
	return page, nil
}

// Count fetches the provider's authoritative record count for the resource.
// It is a separate, lightweight request distinct from paginated fetch.
func (c *Client) Count(ctx context.Context, id domain.ResourceIdentity) (int, error) {
	endpoint := fmt.Sprintf("%s/api/%s/%s/count", c.baseURL, id.Subdomain, id.Category)
	var env countEnvelope
	if err := c.getJSON(ctx, "count", endpoint, &env); err != nil {
		return 0, err
	}
	return env.Count, nil
}

// getJSON performs one GET and decodes the JSON body into out, mapping
// failures onto the transient/permanent taxonomy.
func (c *Client) getJSON(ctx context.Context, op, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &PermanentError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Includes client timeouts and connection failures.
		return &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &TransientError{Op: op, Err: fmt.Errorf("provider returned status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &PermanentError{Op: op, Err: fmt.Errorf("provider rejected credentials (status %d)", resp.StatusCode)}
	default:
		return &PermanentError{Op: op, Err: fmt.Errorf("provider returned status %d", resp.StatusCode)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// Malformed response schema stops the job, not just the page.
		return &PermanentError{Op: op, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}

func parseCursor(cursor string) (int, error) {
	if cursor == "" {
		return 1, nil
	}
	raw, ok := strings.CutPrefix(cursor, cursorPrefix)
	if !ok {
		return 0, fmt.Errorf("unrecognized cursor %q", cursor)
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("unrecognized cursor %q", cursor)
	}
	return n, nil
}
