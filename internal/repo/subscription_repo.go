// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the saved-search subscription store.
//
// The pending flag is mutated by two independent actors: the notification
// matcher sets it when new matches are detected, and the digest dispatcher
// clears it after sending. Both use per-subscription atomic updates. Every
// detection stamps pending_since, and clearing is conditional on the
// pending_since value the dispatcher read, so a detection landing during an
// in-flight digest run is never silently dropped.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/civicband/civic-observer-sub002/internal/domain"
)

// CreateSavedSearch persists a new subscription owned by owner.
func CreateSavedSearch(ctx context.Context, db *gorm.DB, s *domain.SavedSearch) (*domain.SavedSearch, error) {
	s.ID = uuid.NewString()
	s.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// GetSavedSearch fetches a subscription by ID, or ErrNotFound.
func GetSavedSearch(ctx context.Context, db *gorm.DB, id string) (*domain.SavedSearch, error) {
	var s domain.SavedSearch
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListCandidates returns subscriptions whose structural filters could
// plausibly include records from the given resource identity: an empty
// subdomain or category filter matches everything. Free-text matching is not
// evaluated here; the matcher re-executes each stored query afterwards.
func ListCandidates(ctx context.Context, db *gorm.DB, id domain.ResourceIdentity) ([]domain.SavedSearch, error) {
	var out []domain.SavedSearch
	err := db.WithContext(ctx).
		Where("(subdomain = '' OR subdomain = ?) AND (category = '' OR category = ?)", id.Subdomain, id.Category).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// ListPending returns subscriptions flagged pending for the given frequency,
// ordered by owner so the dispatcher can group them into one message per
// recipient. The caller must capture each row's PendingSince: ClearPending
// only clears flags whose PendingSince was read by this run.
func ListPending(ctx context.Context, db *gorm.DB, frequency string) ([]domain.SavedSearch, error) {
	var out []domain.SavedSearch
	err := db.WithContext(ctx).
		Where("has_pending_results = ? AND frequency = ?", true, frequency).
		Order("owner asc, created_at asc").
		Find(&out).Error
	return out, err
}

// MarkPending atomically sets has_pending_results and stamps pending_since.
// Every detection advances the timestamp, even when the flag is already set:
// a detection landing while a digest is in flight pushes pending_since past
// the value the dispatcher read, so the dispatcher's conditional clear misses
// and the new pending state survives for the next run.
func MarkPending(ctx context.Context, db *gorm.DB, subscriptionID string, now time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.SavedSearch{}).
		Where("id = ?", subscriptionID).
		Updates(map[string]any{
			"has_pending_results": true,
			"pending_since":       now.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearPending clears the pending flag and records the notification send
// time, but only if the row's pending_since still matches what the dispatch
// run read (readPendingSince). A detection that re-flagged the subscription
// mid-send advances pending_since, the conditional update misses, and the
// new pending state survives for the next run.
//
// Returns true when the flag was cleared by this call.
func ClearPending(ctx context.Context, db *gorm.DB, subscriptionID string, readPendingSince time.Time, sentAt time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.SavedSearch{}).
		Where("id = ? AND has_pending_results = ? AND pending_since <= ?", subscriptionID, true, readPendingSince.UTC()).
		Updates(map[string]any{
			"has_pending_results":    false,
			"pending_since":          nil,
			"last_notification_sent": sentAt.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkNotified stamps last_notification_sent after an immediate dispatch,
// leaving the pending flag untouched (it was never set on this path).
func MarkNotified(ctx context.Context, db *gorm.DB, subscriptionID string, sentAt time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.SavedSearch{}).
		Where("id = ?", subscriptionID).
		Update("last_notification_sent", sentAt.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
