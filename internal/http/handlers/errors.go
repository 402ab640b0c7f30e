// HTTP-layer error codes. Codes are lowercase snake_case and stable;
// clients branch on them programmatically while messages stay human-facing.
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeUpsertFailed     = "upsert_failed"
	ErrCodeIngestFailed     = "ingest_failed"
	ErrCodeSearchFailed     = "search_failed"
	ErrCodeCreateFailed     = "create_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
