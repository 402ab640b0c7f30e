// Package ingest – Ingestor
//
// This file implements the resilient ingestion loop that synchronizes one
// resource identity (municipality subdomain + document category) from the
// external provider into local storage. The loop is checkpointed and
// resumable: every checkpoint interval the current cursor and counters are
// persisted on the job row, so an interruption resumes from that point
// instead of from the start. Upserts are keyed by deterministic natural
// identifiers, so a resumed run never replays committed records
// destructively.
//
// Failure policy:
//   - Transient fetch failures (network, timeout, 5xx) are retried with
//     exponential backoff; a page that still fails after the retry budget is
//     recorded as a per-page error and skipped — it never aborts the run.
//   - Permanent failures (auth rejection, malformed response schema) mark
//     the job failed with the last checkpoint preserved for resume.
//   - A malformed record is skipped and counted; the page continues.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/civicband/civic-observer-sub002/internal/domain"
	"github.com/civicband/civic-observer-sub002/internal/metrics"
	"github.com/civicband/civic-observer-sub002/internal/repo"
	"github.com/civicband/civic-observer-sub002/internal/source"
)

// Ingestion modes.
const (
	// ModeFull re-synchronizes the whole resource.
	ModeFull = "full"
	// ModeIncremental fetches only records newer than the last successful
	// completion for the resource.
	ModeIncremental = "incremental"
)

// Defaults for the loop knobs.
const (
	DefaultCheckpointInterval = 1000
	DefaultBatchSize          = 100
	DefaultMaxAttempts        = 3
	DefaultRetryInitial       = 1 * time.Second

	// maxConsecutivePageFailures bounds how many pages in a row may be
	// skipped before the run is declared unrecoverable. Without this cap, a
	// provider outage would walk the cursor to infinity while recording a
	// page error per step.
	maxConsecutivePageFailures = 5
)

// Source is the provider capability the ingestor depends on. Implemented by
// *source.Client; tests substitute an in-memory fake.
type Source interface {
	FetchPage(ctx context.Context, id domain.ResourceIdentity, cursor string, limit int, since *time.Time) (*source.Page, error)
	Count(ctx context.Context, id domain.ResourceIdentity) (int, error)
	NextCursor(cursor string) string
}

// Notifier is invoked once a run transitions to completed. Implemented by
// notify.Matcher.
type Notifier interface {
	Dispatch(ctx context.Context, id domain.ResourceIdentity) error
}

// Options selects the behavior of one Run.
type Options struct {
	// Mode is ModeFull (default) or ModeIncremental.
	Mode string
	// Resume restarts the most recent resumable job for the resource from
	// its checkpoint instead of claiming a fresh job.
	Resume bool
	// BatchSize overrides the per-page record count requested from the
	// source. Zero means the ingestor default.
	BatchSize int
	// SkipVerify suppresses the post-completion reconciliation pass.
	SkipVerify bool
	// SkipNotify suppresses the post-completion notification pass.
	SkipNotify bool
}

// Ingestor orchestrates the paginate/retry/checkpoint/verify loop per
// resource. All blocking waits (source requests, backoff delays) honor the
// caller's context; a canceled run marks the job failed with the checkpoint
// intact so it can be resumed.
type Ingestor struct {
	// DB is the database handle used for all job, upsert, and checkpoint
	// operations.
	DB *gorm.DB
	// Source is the external provider client.
	Source Source

	// CheckpointInterval is the number of processed records between
	// checkpoint writes. Zero means DefaultCheckpointInterval.
	CheckpointInterval int
	// BatchSize is the default per-page record count. Zero means
	// DefaultBatchSize.
	BatchSize int
	// MaxAttempts is the per-page fetch attempt budget, including the first
	// try. Zero means DefaultMaxAttempts.
	MaxAttempts int
	// RetryInitial is the first backoff delay; subsequent delays double.
	// Zero means DefaultRetryInitial. Tests shrink this to microseconds.
	RetryInitial time.Duration

	// Verifier, when set, reconciles counts after a completed run.
	Verifier *Verifier
	// Notifier, when set, is dispatched after a completed (and verified)
	// run.
	Notifier Notifier
}

// Run executes one ingestion job for the resource identity and returns the
// job in its terminal state. The claim (or resume) is atomic with respect to
// concurrent claimants; losing the race returns a repo.ErrClaimConflict
// without mutating any state.
func (ing *Ingestor) Run(ctx context.Context, id domain.ResourceIdentity, opts Options) (*domain.IngestionJob, error) {
	job, err := ing.Claim(ctx, id, opts)
	if err != nil {
		return nil, err
	}
	return ing.Process(ctx, job, opts)
}

// Process drives an already-claimed job to a terminal state. Split from Run
// so callers that need the claim outcome synchronously (the webhook handler)
// can claim first and run the loop in the background.
func (ing *Ingestor) Process(ctx context.Context, job *domain.IngestionJob, opts Options) (*domain.IngestionJob, error) {
	id := job.Resource()

	lg := log.With().
		Str("job_id", job.ID).
		Str("resource", id.String()).
		Str("mode", mode(opts)).
		Logger()
	lg.Info().Bool("resume", opts.Resume).Msg("ingestion started")

	since, err := ing.sinceBoundary(ctx, id, opts)
	if err != nil {
		return ing.fail(ctx, job, err)
	}

	cp := repo.Checkpoint{
		Cursor:         job.Cursor,
		PagesFetched:   job.PagesFetched,
		RecordsCreated: job.RecordsCreated,
		RecordsUpdated: job.RecordsUpdated,
		RecordsSkipped: job.RecordsSkipped,
	}
	cursor := source.FirstCursor()
	if job.Cursor != nil && *job.Cursor != "" {
		cursor = *job.Cursor
	}

	batch := opts.BatchSize
	if batch <= 0 {
		batch = ing.batchSize()
	}

	sinceCheckpoint := 0
	consecutiveFailures := 0

	for {
		if err := ctx.Err(); err != nil {
			return ing.fail(ctx, job, fmt.Errorf("ingestion interrupted: %w", err))
		}

		page, err := ing.fetchWithRetry(ctx, id, cursor, batch, since)
		if err != nil {
			if source.IsPermanent(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ing.fail(ctx, job, err)
			}

			// Transient even after retries: log the page, skip it, move on.
			consecutiveFailures++
			metrics.PageFailures.WithLabelValues(id.Category).Inc()
			lg.Warn().Str("cursor", cursor).Err(err).Msg("page skipped after retries")
			if recErr := repo.RecordPageError(ctx, ing.DB, job.ID, cursor, 0, err.Error()); recErr != nil {
				return ing.fail(ctx, job, recErr)
			}
			if consecutiveFailures >= maxConsecutivePageFailures {
				return ing.fail(ctx, job, fmt.Errorf("%d consecutive pages failed, source unreachable: %w", consecutiveFailures, err))
			}
			cursor = ing.Source.NextCursor(cursor)
			continue
		}
		consecutiveFailures = 0

		processed, err := ing.processPage(ctx, job, id, page, &cp)
		if err != nil {
			return ing.fail(ctx, job, err)
		}
		cp.PagesFetched++
		metrics.PagesFetched.WithLabelValues(id.Category).Inc()

		sinceCheckpoint += processed
		nextCursor := page.NextCursor
		if page.HasMore {
			cp.Cursor = &nextCursor
		}
		if sinceCheckpoint >= ing.checkpointInterval() {
			if err := repo.SaveCheckpoint(ctx, ing.DB, job.ID, cp); err != nil {
				return ing.fail(ctx, job, err)
			}
			lg.Debug().
				Str("cursor", cursorString(cp.Cursor)).
				Int("created", cp.RecordsCreated).
				Int("updated", cp.RecordsUpdated).
				Msg("checkpoint persisted")
			sinceCheckpoint = 0
		}

		if !page.HasMore {
			break
		}
		cursor = nextCursor
	}

	// Source exhausted: commit the final counters and release the claim.
	if err := repo.CompleteJob(ctx, ing.DB, job.ID, cp); err != nil {
		return ing.fail(ctx, job, err)
	}
	metrics.JobsFinished.WithLabelValues(domain.JobCompleted).Inc()

	job, err = repo.GetJob(ctx, ing.DB, job.ID)
	if err != nil {
		return nil, err
	}
	lg.Info().
		Int("pages", job.PagesFetched).
		Int("created", job.RecordsCreated).
		Int("updated", job.RecordsUpdated).
		Int("skipped", job.RecordsSkipped).
		Msg("ingestion completed")

	if ing.Verifier != nil && !opts.SkipVerify {
		if rec, err := ing.Verifier.Verify(ctx, id); err != nil {
			lg.Warn().Err(err).Msg("reconciliation unavailable")
		} else if rec.Discrepancy != 0 {
			lg.Warn().
				Int("expected", rec.Expected).
				Int("actual", rec.Actual).
				Int("discrepancy", rec.Discrepancy).
				Msg("reconciliation discrepancy")
		}
	}
	if ing.Notifier != nil && !opts.SkipNotify {
		if err := ing.Notifier.Dispatch(ctx, id); err != nil {
			lg.Error().Err(err).Msg("notification dispatch failed")
		}
	}

	return repo.GetJob(ctx, ing.DB, job.ID)
}

// Claim acquires the exclusive right to run ingestion for the resource,
// either by creating a fresh running job or by resuming the most recent
// resumable one. Losing the race returns repo.ErrClaimConflict without
// mutating any state.
func (ing *Ingestor) Claim(ctx context.Context, id domain.ResourceIdentity, opts Options) (*domain.IngestionJob, error) {
	if !opts.Resume {
		return repo.ClaimJob(ctx, ing.DB, id)
	}
	latest, err := repo.LatestJob(ctx, ing.DB, id)
	if err != nil {
		if repo.IsNotFound(err) {
			// Nothing to resume; fall back to a fresh claim.
			return repo.ClaimJob(ctx, ing.DB, id)
		}
		return nil, err
	}
	if latest.Status == domain.JobCompleted || latest.Status == domain.JobRunning {
		// Nothing resumable: a fresh claim either wins or surfaces the
		// conflict with the running job.
		return repo.ClaimJob(ctx, ing.DB, id)
	}
	return repo.ResumeJob(ctx, ing.DB, latest.ID)
}

// sinceBoundary resolves the incremental-mode lower bound: the CompletedAt
// of the last completed job for the resource, or nil for a first full pass.
func (ing *Ingestor) sinceBoundary(ctx context.Context, id domain.ResourceIdentity, opts Options) (*time.Time, error) {
	if mode(opts) != ModeIncremental {
		return nil, nil
	}
	at, err := repo.LastCompletedAt(ctx, ing.DB, id)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &at, nil
}

// fetchWithRetry requests one page, retrying transient failures with
// exponential backoff (1s, 2s, ... by default) up to the attempt budget.
// Permanent source errors stop retrying immediately.
func (ing *Ingestor) fetchWithRetry(ctx context.Context, id domain.ResourceIdentity, cursor string, limit int, since *time.Time) (*source.Page, error) {
	operation := func() (*source.Page, error) {
		page, err := ing.Source.FetchPage(ctx, id, cursor, limit, since)
		if err != nil {
			if source.IsPermanent(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return page, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = ing.retryInitial()
	bo.RandomizationFactor = 0
	bo.Multiplier = 2

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(ing.maxAttempts())),
	)
}

// processPage upserts every record in the page, accumulating counters in cp.
// A record that fails validation is skipped and logged per-record; it never
// stops the page. Returns the number of records processed (including
// skipped) for checkpoint accounting.
func (ing *Ingestor) processPage(ctx context.Context, job *domain.IngestionJob, id domain.ResourceIdentity, page *source.Page, cp *repo.Checkpoint) (int, error) {
	seenMeetings := make(map[string]struct{})

	for _, rec := range page.Records {
		if err := validateRecord(rec); err != nil {
			cp.RecordsSkipped++
			metrics.RecordsUpserted.WithLabelValues("skipped").Inc()
			if recErr := repo.RecordPageError(ctx, ing.DB, job.ID, cursorFor(page), page.Number, err.Error()); recErr != nil {
				return 0, recErr
			}
			continue
		}

		key := domain.MeetingKey(id.Subdomain, id.Category, rec.MeetingID)
		if _, done := seenMeetings[key]; !done {
			meeting := &domain.Meeting{
				Key:       key,
				Subdomain: id.Subdomain,
				Category:  id.Category,
				Date:      rec.MeetingDate,
				Title:     rec.MeetingTitle,
			}
			if _, err := repo.UpsertMeeting(ctx, ing.DB, meeting); err != nil {
				return 0, err
			}
			seenMeetings[key] = struct{}{}
		}

		outcome, err := repo.UpsertPage(ctx, ing.DB, &domain.MeetingPage{
			MeetingKey: key,
			PageNumber: rec.PageNumber,
			Text:       rec.Text,
		})
		if err != nil {
			return 0, err
		}
		switch outcome {
		case repo.UpsertCreated:
			cp.RecordsCreated++
			metrics.RecordsUpserted.WithLabelValues("created").Inc()
		case repo.UpsertUpdated:
			cp.RecordsUpdated++
			metrics.RecordsUpserted.WithLabelValues("updated").Inc()
		default:
			metrics.RecordsUpserted.WithLabelValues("unchanged").Inc()
		}
	}

	// page_count is derived from stored pages; recount once per meeting
	// touched by this page.
	for key := range seenMeetings {
		if err := repo.RefreshMeetingPageCount(ctx, ing.DB, key); err != nil {
			return 0, err
		}
	}
	return len(page.Records), nil
}

// fail marks the job failed with the last checkpoint preserved and returns
// the job alongside the causing error. The status write uses a context that
// survives cancellation so an interrupted run still lands in a resumable
// state.
func (ing *Ingestor) fail(ctx context.Context, job *domain.IngestionJob, cause error) (*domain.IngestionJob, error) {
	writeCtx := context.WithoutCancel(ctx)
	if err := repo.FailJob(writeCtx, ing.DB, job.ID, cause.Error()); err != nil && !repo.IsNotFound(err) {
		log.Error().Str("job_id", job.ID).Err(err).Msg("could not mark job failed")
	}
	metrics.JobsFinished.WithLabelValues(domain.JobFailed).Inc()

	failed, err := repo.GetJob(writeCtx, ing.DB, job.ID)
	if err != nil {
		failed = job
	}
	log.Error().
		Str("job_id", job.ID).
		Str("resource", job.Resource().String()).
		Err(cause).
		Msg("ingestion failed")
	return failed, cause
}

// validateRecord rejects records missing their identity fields. One
// malformed record is skipped; the job continues.
func validateRecord(rec source.Record) error {
	if rec.MeetingID == "" {
		return errors.New("record rejected: missing meeting_id")
	}
	if rec.PageNumber < 1 {
		return fmt.Errorf("record rejected: invalid page_number %d for meeting %s", rec.PageNumber, rec.MeetingID)
	}
	return nil
}

func mode(opts Options) string {
	if opts.Mode == ModeIncremental {
		return ModeIncremental
	}
	return ModeFull
}

func (ing *Ingestor) checkpointInterval() int {
	if ing.CheckpointInterval > 0 {
		return ing.CheckpointInterval
	}
	return DefaultCheckpointInterval
}

func (ing *Ingestor) batchSize() int {
	if ing.BatchSize > 0 {
		return ing.BatchSize
	}
	return DefaultBatchSize
}

func (ing *Ingestor) maxAttempts() int {
	if ing.MaxAttempts > 0 {
		return ing.MaxAttempts
	}
	return DefaultMaxAttempts
}

func (ing *Ingestor) retryInitial() time.Duration {
	if ing.RetryInitial > 0 {
		return ing.RetryInitial
	}
	return DefaultRetryInitial
}

func cursorFor(page *source.Page) string {
	return fmt.Sprintf("page:%d", page.Number)
}

func cursorString(c *string) string {
	if c == nil {
		return ""
	}
	return *c
}
