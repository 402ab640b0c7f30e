// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file centralizes repo-level error values and the
// claim-conflict error carrying details about the already-active job.
package repo

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the pipeline and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrClaimConflict is the sentinel matched by errors.Is when an ingestion
// claim is denied because another job already holds the resource.
var ErrClaimConflict = errors.New("ingestion already running for resource")

// ErrDuplicateDelivery indicates that a webhook delivery ID was already
// recorded, i.e. the trigger is a provider redelivery.
var ErrDuplicateDelivery = errors.New("webhook delivery already processed")

// ClaimConflictError is returned when ClaimJob or ResumeJob loses the race
// for a resource identity. It tells the caller which job is active and since
// when, so the conflict can be surfaced without mutating any state.
type ClaimConflictError struct {
	Subdomain   string
	Category    string
	ActiveJobID string
	Since       time.Time
}

// Error implements the error interface.
func (e *ClaimConflictError) Error() string {
	return fmt.Sprintf("ingestion already running for %s/%s (job %s since %s)",
		e.Subdomain, e.Category, e.ActiveJobID, e.Since.UTC().Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrClaimConflict) succeed for this type.
func (e *ClaimConflictError) Is(target error) bool { return target == ErrClaimConflict }

// isUniqueViolation attempts to detect unique-constraint violations across
// drivers that may not map to gorm.ErrDuplicatedKey.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}
