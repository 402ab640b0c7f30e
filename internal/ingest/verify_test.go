package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/civicband/civic-observer-sub002/internal/domain"
	"github.com/civicband/civic-observer-sub002/internal/repo"
	"github.com/civicband/civic-observer-sub002/internal/source"
)

func TestVerify_MatchingCountsReportZeroDiscrepancy(t *testing.T) {
	db := newTestDB(t)
	src := newFakeSource()
	src.addPages(1000, 500)
	src.count = 1000

	ing := newIngestor(db, src)
	job, err := ing.Run(context.Background(), testResource(), Options{SkipVerify: true, SkipNotify: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	v := &Verifier{DB: db, Source: src}
	rec, err := v.Verify(context.Background(), testResource())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if rec.Expected != 1000 || rec.Actual != 1000 || rec.Discrepancy != 0 {
		t.Fatalf("reconciliation = %+v, want 1000/1000/0", rec)
	}

	got, err := repo.GetJob(context.Background(), db, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ExpectedCount == nil || *got.ExpectedCount != 1000 || got.ActualCount != 1000 {
		t.Fatalf("annotation expected=%v actual=%d", got.ExpectedCount, got.ActualCount)
	}
	if got.VerifiedAt == nil {
		t.Fatal("verified_at not stamped")
	}
}

func TestVerify_ReportsDiscrepancyWithoutMutatingData(t *testing.T) {
	db := newTestDB(t)
	src := newFakeSource()
	src.addPages(962, 500)
	src.count = 1000 // the provider claims 38 more than we hold

	ing := newIngestor(db, src)
	if _, err := ing.Run(context.Background(), testResource(), Options{SkipVerify: true, SkipNotify: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	v := &Verifier{DB: db, Source: src}
	rec, err := v.Verify(context.Background(), testResource())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if rec.Discrepancy != 38 {
		t.Fatalf("discrepancy = %d, want 38", rec.Discrepancy)
	}

	stored, err := repo.CountPages(context.Background(), db, testResource())
	if err != nil {
		t.Fatalf("CountPages: %v", err)
	}
	if stored != 962 {
		t.Fatalf("verify mutated local data: %d pages, want 962", stored)
	}
}

func TestVerify_NoJobHistoryStillComputes(t *testing.T) {
	db := newTestDB(t)
	src := newFakeSource()
	src.count = 7

	v := &Verifier{DB: db, Source: src}
	rec, err := v.Verify(context.Background(), testResource())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if rec.Expected != 7 || rec.Actual != 0 || rec.Discrepancy != 7 {
		t.Fatalf("reconciliation = %+v, want 7/0/7", rec)
	}
}

func TestVerify_SourceFailureSurfaces(t *testing.T) {
	db := newTestDB(t)

	v := &Verifier{DB: db, Source: countFailer{}}
	if _, err := v.Verify(context.Background(), testResource()); err == nil {
		t.Fatal("expected error when the authoritative count is unavailable")
	}
}

type countFailer struct{}

func (countFailer) Count(ctx context.Context, id domain.ResourceIdentity) (int, error) {
	return 0, &source.TransientError{Op: "count", Err: errors.New("status 503")}
}
