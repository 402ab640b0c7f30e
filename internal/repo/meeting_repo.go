// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file is the upsert store for meetings and pages:
// idempotent create-or-update operations keyed by stable natural identifiers,
// plus the local counts the reconciliation verifier compares against the
// source of truth.
//
// Idempotency: running the same page of source records through the upsert
// step twice produces the same stored state as running it once. Records are
// keyed by Meeting.Key and (meeting_key, page_number), deterministic keys
// derived from source identifiers rather than surrogates, so retries and resumed
// runs overwrite in place instead of duplicating.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/civicband/civic-observer-sub002/internal/domain"
)

// UpsertOutcome describes what an upsert did to the stored record.
type UpsertOutcome int

const (
	// UpsertUnchanged means the record existed with identical content.
	UpsertUnchanged UpsertOutcome = iota
	// UpsertCreated means the record was inserted.
	UpsertCreated
	// UpsertUpdated means the record existed and its content changed.
	UpsertUpdated
)

// UpsertMeeting inserts the meeting if absent or updates it if present and
// changed. Only one ingestion run writes a given resource at a time (the
// claim guard), so the read-compare-write below is race-free per resource.
// PageCount is derived from stored pages, not delivered by the source, so it
// is never compared or overwritten here; see RefreshMeetingPageCount.
func UpsertMeeting(ctx context.Context, db *gorm.DB, m *domain.Meeting) (UpsertOutcome, error) {
	var existing domain.Meeting
	err := db.WithContext(ctx).Where("key = ?", m.Key).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		m.CreatedAt = time.Now().UTC()
		if err := db.WithContext(ctx).Create(m).Error; err != nil {
			return UpsertUnchanged, err
		}
		return UpsertCreated, nil
	case err != nil:
		return UpsertUnchanged, err
	}

	if existing.Date == m.Date && existing.Title == m.Title {
		return UpsertUnchanged, nil
	}
	res := db.WithContext(ctx).
		Model(&domain.Meeting{}).
		Where("key = ?", m.Key).
		Updates(map[string]any{
			"date":  m.Date,
			"title": m.Title,
		})
	if res.Error != nil {
		return UpsertUnchanged, res.Error
	}
	return UpsertUpdated, nil
}

// UpsertPage inserts or updates one page of text keyed by
// (meeting_key, page_number). Unchanged text is left untouched so repeated
// passes over the same source data are no-ops.
func UpsertPage(ctx context.Context, db *gorm.DB, p *domain.MeetingPage) (UpsertOutcome, error) {
	var existing domain.MeetingPage
	err := db.WithContext(ctx).
		Where("meeting_key = ? AND page_number = ?", p.MeetingKey, p.PageNumber).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		p.CreatedAt = time.Now().UTC()
		if err := db.WithContext(ctx).Create(p).Error; err != nil {
			// A concurrent retry of the same page can slip in between the
			// read and the insert; fold the unique violation into an update.
			if isUniqueViolation(err) {
				return updatePageText(ctx, db, p)
			}
			return UpsertUnchanged, err
		}
		return UpsertCreated, nil
	case err != nil:
		return UpsertUnchanged, err
	}

	if existing.Text == p.Text {
		return UpsertUnchanged, nil
	}
	return updatePageText(ctx, db, p)
}

func updatePageText(ctx context.Context, db *gorm.DB, p *domain.MeetingPage) (UpsertOutcome, error) {
	res := db.WithContext(ctx).
		Model(&domain.MeetingPage{}).
		Where("meeting_key = ? AND page_number = ?", p.MeetingKey, p.PageNumber).
		Update("text", p.Text)
	if res.Error != nil {
		return UpsertUnchanged, res.Error
	}
	return UpsertUpdated, nil
}

// RefreshMeetingPageCount recomputes a meeting's page_count from its stored
// pages. Recounting instead of incrementing keeps the value correct across
// retried and resumed runs that replay pages already committed.
func RefreshMeetingPageCount(ctx context.Context, db *gorm.DB, meetingKey string) error {
	return db.WithContext(ctx).
		Model(&domain.Meeting{}).
		Where("key = ?", meetingKey).
		Update("page_count", gorm.Expr(
			"(SELECT COUNT(*) FROM meeting_pages WHERE meeting_key = ?)", meetingKey,
		)).Error
}

// CountPages returns the number of locally stored pages for a resource
// identity. This is the "actual" side of reconciliation.
func CountPages(ctx context.Context, db *gorm.DB, id domain.ResourceIdentity) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.MeetingPage{}).
		Joins("JOIN meetings ON meetings.key = meeting_pages.meeting_key").
		Where("meetings.subdomain = ? AND meetings.category = ?", id.Subdomain, id.Category).
		Count(&total).Error
	return total, err
}

// CountMeetings returns the number of stored meetings for a resource.
func CountMeetings(ctx context.Context, db *gorm.DB, id domain.ResourceIdentity) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Meeting{}).
		Where("subdomain = ? AND category = ?", id.Subdomain, id.Category).
		Count(&total).Error
	return total, err
}
