package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/civicband/civic-observer-sub002/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// OpenSQLite applies the busy_timeout pragma, which the concurrency
	// tests rely on.
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("repo_test_%d.db", time.Now().UnixNano()))
	db, err := OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Logger = logger.Default.LogMode(logger.Silent)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testResource() domain.ResourceIdentity {
	return domain.ResourceIdentity{Subdomain: "oakland-ca", Category: "minutes"}
}

func TestClaimJob_CreatesRunningJob(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	job, err := ClaimJob(ctx, db, testResource())
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if job.ID == "" || job.Status != domain.JobRunning {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.Subdomain != "oakland-ca" || job.Category != "minutes" {
		t.Fatalf("resource fields not persisted: %+v", job)
	}
}

func TestClaimJob_SecondClaimConflicts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	winner, err := ClaimJob(ctx, db, testResource())
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}

	_, err = ClaimJob(ctx, db, testResource())
	if err == nil {
		t.Fatalf("expected conflict on second claim")
	}
	if !errors.Is(err, ErrClaimConflict) {
		t.Fatalf("expected ErrClaimConflict, got %v", err)
	}
	var conflict *ClaimConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *ClaimConflictError, got %T", err)
	}
	if conflict.ActiveJobID != winner.ID {
		t.Fatalf("conflict should reference the winning job: got %q want %q", conflict.ActiveJobID, winner.ID)
	}
}

func TestClaimJob_DistinctResourcesDoNotConflict(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := ClaimJob(ctx, db, testResource()); err != nil {
		t.Fatalf("claim minutes: %v", err)
	}
	if _, err := ClaimJob(ctx, db, domain.ResourceIdentity{Subdomain: "oakland-ca", Category: "agendas"}); err != nil {
		t.Fatalf("claim agendas should not conflict: %v", err)
	}
	if _, err := ClaimJob(ctx, db, domain.ResourceIdentity{Subdomain: "berkeley-ca", Category: "minutes"}); err != nil {
		t.Fatalf("claim other subdomain should not conflict: %v", err)
	}
}

func TestClaimJob_ConcurrentClaimants_ExactlyOneWins(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const claimants = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ClaimJob(ctx, db, testResource())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrClaimConflict):
				conflicts++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d (conflicts=%d)", wins, conflicts)
	}
	if conflicts != claimants-1 {
		t.Fatalf("expected %d conflicts, got %d", claimants-1, conflicts)
	}
}

func TestClaimJob_ClaimableAgainAfterCompletion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	job, err := ClaimJob(ctx, db, testResource())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := CompleteJob(ctx, db, job.ID, Checkpoint{}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := ClaimJob(ctx, db, testResource()); err != nil {
		t.Fatalf("claim after completion should succeed: %v", err)
	}
}

func TestSaveCheckpoint_PersistsCursorAndCounters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	job, err := ClaimJob(ctx, db, testResource())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	cursor := "page:3"
	cp := Checkpoint{
		Cursor:         &cursor,
		PagesFetched:   2,
		RecordsCreated: 150,
		RecordsUpdated: 25,
		RecordsSkipped: 1,
	}
	if err := SaveCheckpoint(ctx, db, job.ID, cp); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	got, err := GetJob(ctx, db, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Cursor == nil || *got.Cursor != "page:3" {
		t.Fatalf("cursor not persisted: %+v", got)
	}
	if got.PagesFetched != 2 || got.RecordsCreated != 150 || got.RecordsUpdated != 25 || got.RecordsSkipped != 1 {
		t.Fatalf("counters not persisted: %+v", got)
	}
	if got.Status != domain.JobRunning {
		t.Fatalf("checkpoint must not change status: %s", got.Status)
	}
}

func TestFailJob_PreservesCheckpointAndIsResumable(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	job, err := ClaimJob(ctx, db, testResource())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	cursor := "page:7"
	if err := SaveCheckpoint(ctx, db, job.ID, Checkpoint{Cursor: &cursor, PagesFetched: 6, RecordsCreated: 600}); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	if err := FailJob(ctx, db, job.ID, "source unreachable"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	failed, err := GetJob(ctx, db, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if failed.Status != domain.JobFailed {
		t.Fatalf("status = %s, want failed", failed.Status)
	}
	if failed.LastError == nil || *failed.LastError != "source unreachable" {
		t.Fatalf("last_error not recorded: %+v", failed)
	}
	if failed.Cursor == nil || *failed.Cursor != "page:7" {
		t.Fatalf("failure must preserve the checkpoint cursor: %+v", failed)
	}

	resumed, err := ResumeJob(ctx, db, job.ID)
	if err != nil {
		t.Fatalf("ResumeJob: %v", err)
	}
	if resumed.Status != domain.JobRunning {
		t.Fatalf("resumed status = %s, want running", resumed.Status)
	}
	if resumed.Cursor == nil || *resumed.Cursor != "page:7" {
		t.Fatalf("resume must keep the cursor: %+v", resumed)
	}
	if resumed.RecordsCreated != 600 {
		t.Fatalf("resume must keep the counters: %+v", resumed)
	}
	if resumed.LastError != nil {
		t.Fatalf("resume must clear last_error: %+v", resumed)
	}
}

func TestResumeJob_CompletedJobNotResumable(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	job, err := ClaimJob(ctx, db, testResource())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := CompleteJob(ctx, db, job.ID, Checkpoint{}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := ResumeJob(ctx, db, job.ID); !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound resuming completed job, got %v", err)
	}
}

func TestCompleteJob_OnlyFromRunning(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	job, err := ClaimJob(ctx, db, testResource())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := FailJob(ctx, db, job.ID, "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := CompleteJob(ctx, db, job.ID, Checkpoint{}); !IsNotFound(err) {
		t.Fatalf("completing a failed job should be ErrNotFound, got %v", err)
	}
}

func TestLastCompletedAt_ReturnsLatestCompletion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := LastCompletedAt(ctx, db, testResource()); !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound with no history, got %v", err)
	}

	job, err := ClaimJob(ctx, db, testResource())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := CompleteJob(ctx, db, job.ID, Checkpoint{}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	at, err := LastCompletedAt(ctx, db, testResource())
	if err != nil {
		t.Fatalf("LastCompletedAt: %v", err)
	}
	if time.Since(at) > time.Minute {
		t.Fatalf("completion timestamp looks wrong: %v", at)
	}
}

func TestRecordPageError_AndList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	job, err := ClaimJob(ctx, db, testResource())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := RecordPageError(ctx, db, job.ID, "page:3", 3, "503 from source"); err != nil {
		t.Fatalf("RecordPageError: %v", err)
	}
	if err := RecordPageError(ctx, db, job.ID, "page:9", 9, "timeout"); err != nil {
		t.Fatalf("RecordPageError: %v", err)
	}

	errsList, err := ListPageErrors(ctx, db, job.ID)
	if err != nil {
		t.Fatalf("ListPageErrors: %v", err)
	}
	if len(errsList) != 2 {
		t.Fatalf("expected 2 page errors, got %d", len(errsList))
	}
	seen := map[string]string{}
	for _, pe := range errsList {
		seen[pe.Cursor] = pe.Message
	}
	if seen["page:3"] != "503 from source" || seen["page:9"] != "timeout" {
		t.Fatalf("unexpected page errors: %+v", errsList)
	}
}

func TestListJobs_Filters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a, err := ClaimJob(ctx, db, testResource())
	if err != nil {
		t.Fatalf("claim a: %v", err)
	}
	if err := CompleteJob(ctx, db, a.ID, Checkpoint{}); err != nil {
		t.Fatalf("complete a: %v", err)
	}
	if _, err := ClaimJob(ctx, db, domain.ResourceIdentity{Subdomain: "berkeley-ca", Category: "minutes"}); err != nil {
		t.Fatalf("claim b: %v", err)
	}

	all, err := ListJobs(ctx, db, "", "", "", 10)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(all))
	}

	completed, err := ListJobs(ctx, db, "", "", domain.JobCompleted, 10)
	if err != nil {
		t.Fatalf("ListJobs completed: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != a.ID {
		t.Fatalf("status filter wrong: %+v", completed)
	}

	oakland, err := ListJobs(ctx, db, "oakland-ca", "minutes", "", 10)
	if err != nil {
		t.Fatalf("ListJobs oakland: %v", err)
	}
	if len(oakland) != 1 || oakland[0].Subdomain != "oakland-ca" {
		t.Fatalf("resource filter wrong: %+v", oakland)
	}
}

func TestAnnotateVerification(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	job, err := ClaimJob(ctx, db, testResource())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := AnnotateVerification(ctx, db, job.ID, 1000, 962); err != nil {
		t.Fatalf("AnnotateVerification: %v", err)
	}

	got, err := GetJob(ctx, db, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ExpectedCount == nil || *got.ExpectedCount != 1000 || got.ActualCount != 962 {
		t.Fatalf("verification not recorded: %+v", got)
	}
	if got.VerifiedAt == nil {
		t.Fatalf("verified_at not stamped: %+v", got)
	}
}
