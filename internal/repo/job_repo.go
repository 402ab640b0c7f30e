// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the ingestion job store: the claim
// primitive that serializes the two trigger paths, checkpoint persistence,
// status transitions, and the per-page error log.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no orchestration logic, only CRUD
// persistence and the conditional transitions the concurrency design needs.
//
// Claim semantics:
//
//	Claiming is a single atomic conditional transition ("insert or flip a
//	row to status running") guarded by the partial unique index
//	ux_jobs_running. Two simultaneous claim attempts against the same
//	(subdomain, category) deterministically yield exactly one winner; the
//	loser receives a *ClaimConflictError naming the active job. There is no
//	lease or heartbeat: a wedged running job must be marked failed by an
//	operator (MarkJobFailed) before a new claim can succeed.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/civicband/civic-observer-sub002/internal/domain"
)

// ClaimJob creates a new IngestionJob in status running for the resource,
// claiming exclusive ingestion rights. If another job already holds the
// resource, it returns a *ClaimConflictError (matching ErrClaimConflict)
// and mutates nothing.
func ClaimJob(ctx context.Context, db *gorm.DB, id domain.ResourceIdentity) (*domain.IngestionJob, error) {
	now := time.Now().UTC()
	job := &domain.IngestionJob{
		ID:        uuid.NewString(),
		Subdomain: id.Subdomain,
		Category:  id.Category,
		Status:    domain.JobRunning,
		StartedAt: now,
		CreatedAt: now,
	}
	if err := db.WithContext(ctx).Create(job).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, claimConflict(ctx, db, id)
		}
		return nil, err
	}
	return job, nil
}

// ResumeJob flips an existing pending, paused, or failed job back to running,
// restoring its checkpointed cursor and counters for the caller. The flip is
// a conditional update guarded by the same partial unique index as ClaimJob,
// so resuming also loses deterministically to a concurrent claim.
//
// Returns ErrNotFound when the job does not exist or is not in a resumable
// status (completed and running jobs cannot be resumed).
func ResumeJob(ctx context.Context, db *gorm.DB, jobID string) (*domain.IngestionJob, error) {
	res := db.WithContext(ctx).
		Model(&domain.IngestionJob{}).
		Where("id = ? AND status IN ?", jobID, []string{domain.JobPending, domain.JobPaused, domain.JobFailed}).
		Updates(map[string]any{
			"status":     domain.JobRunning,
			"last_error": nil,
			"started_at": time.Now().UTC(),
		})
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			job, err := GetJob(ctx, db, jobID)
			if err != nil {
				return nil, err
			}
			return nil, claimConflict(ctx, db, job.Resource())
		}
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return GetJob(ctx, db, jobID)
}

// claimConflict loads the currently active job for the resource and wraps it
// in a ClaimConflictError. If the winner finished in the meantime the
// conflict is still reported, with the job fields zeroed.
func claimConflict(ctx context.Context, db *gorm.DB, id domain.ResourceIdentity) error {
	conflict := &ClaimConflictError{Subdomain: id.Subdomain, Category: id.Category}
	if active, err := ActiveJob(ctx, db, id); err == nil {
		conflict.ActiveJobID = active.ID
		conflict.Since = active.StartedAt
	}
	return conflict
}

// ActiveJob returns the running job for the resource, or ErrNotFound.
func ActiveJob(ctx context.Context, db *gorm.DB, id domain.ResourceIdentity) (*domain.IngestionJob, error) {
	var job domain.IngestionJob
	err := db.WithContext(ctx).
		Where("subdomain = ? AND category = ? AND status = ?", id.Subdomain, id.Category, domain.JobRunning).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob fetches a single job by ID, or ErrNotFound if missing.
func GetJob(ctx context.Context, db *gorm.DB, jobID string) (*domain.IngestionJob, error) {
	var job domain.IngestionJob
	if err := db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns jobs for inspection, newest first, optionally filtered by
// subdomain, category, and status (empty strings mean no filter).
func ListJobs(ctx context.Context, db *gorm.DB, subdomain, category, status string, limit int) ([]domain.IngestionJob, error) {
	q := db.WithContext(ctx).Model(&domain.IngestionJob{}).Order("started_at desc")
	if subdomain != "" {
		q = q.Where("subdomain = ?", subdomain)
	}
	if category != "" {
		q = q.Where("category = ?", category)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []domain.IngestionJob
	err := q.Find(&out).Error
	return out, err
}

// LatestJob returns the most recent job for the resource regardless of
// status, or ErrNotFound when the resource was never ingested.
func LatestJob(ctx context.Context, db *gorm.DB, id domain.ResourceIdentity) (*domain.IngestionJob, error) {
	var job domain.IngestionJob
	err := db.WithContext(ctx).
		Where("subdomain = ? AND category = ?", id.Subdomain, id.Category).
		Order("started_at desc").
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// LastCompletedAt returns the CompletedAt of the most recent completed job
// for the resource. Used as the incremental-mode boundary. Returns
// ErrNotFound when the resource has no completed run yet.
func LastCompletedAt(ctx context.Context, db *gorm.DB, id domain.ResourceIdentity) (time.Time, error) {
	var job domain.IngestionJob
	err := db.WithContext(ctx).
		Where("subdomain = ? AND category = ? AND status = ?", id.Subdomain, id.Category, domain.JobCompleted).
		Order("completed_at desc").
		First(&job).Error
	if err != nil {
		return time.Time{}, err
	}
	if job.CompletedAt == nil {
		return time.Time{}, ErrNotFound
	}
	return *job.CompletedAt, nil
}

// Checkpoint is the persisted {cursor, counters} snapshot written every
// checkpoint interval so an interrupted run resumes from this point rather
// than from the start.
type Checkpoint struct {
	Cursor         *string
	PagesFetched   int
	RecordsCreated int
	RecordsUpdated int
	RecordsSkipped int
}

// SaveCheckpoint persists the current cursor and counters on the job row in
// a single UPDATE. It does not change the job status.
func SaveCheckpoint(ctx context.Context, db *gorm.DB, jobID string, cp Checkpoint) error {
	res := db.WithContext(ctx).
		Model(&domain.IngestionJob{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"cursor":          cp.Cursor,
			"pages_fetched":   cp.PagesFetched,
			"records_created": cp.RecordsCreated,
			"records_updated": cp.RecordsUpdated,
			"records_skipped": cp.RecordsSkipped,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteJob marks a running job completed, committing the final counters.
// Completion releases the resource claim (the partial unique index only
// covers status = running).
func CompleteJob(ctx context.Context, db *gorm.DB, jobID string, cp Checkpoint) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.IngestionJob{}).
		Where("id = ? AND status = ?", jobID, domain.JobRunning).
		Updates(map[string]any{
			"status":          domain.JobCompleted,
			"cursor":          cp.Cursor,
			"pages_fetched":   cp.PagesFetched,
			"records_created": cp.RecordsCreated,
			"records_updated": cp.RecordsUpdated,
			"records_skipped": cp.RecordsSkipped,
			"completed_at":    now,
			"last_error":      nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob marks a job failed with the error retained and the last checkpoint
// preserved for resume. Also the operator unstick path for a wedged running
// job: failing it releases the claim so a future ClaimJob can succeed.
func FailJob(ctx context.Context, db *gorm.DB, jobID, lastError string) error {
	res := db.WithContext(ctx).
		Model(&domain.IngestionJob{}).
		Where("id = ? AND status IN ?", jobID, []string{domain.JobRunning, domain.JobPending, domain.JobPaused}).
		Updates(map[string]any{
			"status":     domain.JobFailed,
			"last_error": lastError,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AnnotateVerification stores the reconciliation result on the job. It never
// touches ingested data; discrepancy is reported, not auto-corrected.
func AnnotateVerification(ctx context.Context, db *gorm.DB, jobID string, expected, actual int) error {
	res := db.WithContext(ctx).
		Model(&domain.IngestionJob{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"expected_count": expected,
			"actual_count":   actual,
			"verified_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordPageError appends one per-page (or per-record) error to the job's
// error log. Errors here never abort the run.
func RecordPageError(ctx context.Context, db *gorm.DB, jobID, cursor string, pageNumber int, message string) error {
	rec := &domain.IngestionPageError{
		ID:         uuid.NewString(),
		JobID:      jobID,
		Cursor:     cursor,
		PageNumber: pageNumber,
		Message:    message,
		CreatedAt:  time.Now().UTC(),
	}
	return db.WithContext(ctx).Create(rec).Error
}

// ListPageErrors returns the error log for a job, oldest first.
func ListPageErrors(ctx context.Context, db *gorm.DB, jobID string) ([]domain.IngestionPageError, error) {
	var out []domain.IngestionPageError
	err := db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// CountJobs returns the number of jobs matching the optional status filter.
func CountJobs(ctx context.Context, db *gorm.DB, status string) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.IngestionJob{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	err := q.Count(&total).Error
	return total, err
}

// IsNotFound reports whether err is the repo's not-found sentinel in a
// driver-agnostic way.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}
