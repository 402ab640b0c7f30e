// Package ingest – Verifier
//
// Reconciliation compares the locally stored record count for a resource
// against the provider's authoritative count. It is always computable,
// independent of whether the most recent ingestion run succeeded, and it
// never mutates ingested data: a nonzero discrepancy is reported and
// annotated on the latest job, not auto-corrected. Re-ingestion is a
// separate explicit action.
package ingest

import (
	"context"

	"gorm.io/gorm"

	"github.com/civicband/civic-observer-sub002/internal/domain"
	"github.com/civicband/civic-observer-sub002/internal/metrics"
	"github.com/civicband/civic-observer-sub002/internal/repo"
)

// CountSource is the single provider capability the verifier needs: the
// lightweight authoritative-count request.
type CountSource interface {
	Count(ctx context.Context, id domain.ResourceIdentity) (int, error)
}

// Reconciliation is the result of one verify pass.
type Reconciliation struct {
	Expected    int `json:"expected_count"`
	Actual      int `json:"actual_count"`
	Discrepancy int `json:"discrepancy"`
}

// Verifier compares local counts against the source of truth.
type Verifier struct {
	// DB is the database handle used for local counting and job annotation.
	DB *gorm.DB
	// Source provides the authoritative count.
	Source CountSource
}

// Verify fetches the authoritative count, counts locally stored pages for
// the resource, and annotates the most recent job with
// {expected_count, actual_count, verified_at}. When the resource has no job
// history the reconciliation is still returned, just not recorded anywhere.
func (v *Verifier) Verify(ctx context.Context, id domain.ResourceIdentity) (*Reconciliation, error) {
	expected, err := v.Source.Count(ctx, id)
	if err != nil {
		return nil, err
	}
	actual, err := repo.CountPages(ctx, v.DB, id)
	if err != nil {
		return nil, err
	}

	rec := &Reconciliation{
		Expected:    expected,
		Actual:      int(actual),
		Discrepancy: expected - int(actual),
	}
	metrics.ReconciliationDiscrepancy.WithLabelValues(id.Category).Set(float64(rec.Discrepancy))

	latest, err := repo.LatestJob(ctx, v.DB, id)
	if err != nil {
		if repo.IsNotFound(err) {
			return rec, nil
		}
		return nil, err
	}
	if err := repo.AnnotateVerification(ctx, v.DB, latest.ID, rec.Expected, rec.Actual); err != nil {
		return nil, err
	}
	return rec, nil
}
