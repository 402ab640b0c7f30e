// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the
// WebhookDelivery model used to deduplicate redelivered ingestion webhooks.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/civicband/civic-observer-sub002/internal/domain"
)

// RecordDelivery inserts a webhook delivery record and returns
// ErrDuplicateDelivery when the delivery ID was already seen (and has not
// expired). Expired duplicates are reclaimed so providers that recycle
// delivery IDs do not wedge the trigger path forever.
func RecordDelivery(ctx context.Context, db *gorm.DB, deliveryID, subdomain, category string, ttl time.Duration) (*domain.WebhookDelivery, error) {
	now := time.Now().UTC()
	rec := &domain.WebhookDelivery{
		ID:         uuid.NewString(),
		DeliveryID: deliveryID,
		Subdomain:  subdomain,
		Category:   category,
		ReceivedAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if !isUniqueViolation(err) {
			return nil, err
		}
		// Reclaim the slot if the previous delivery record expired.
		res := db.WithContext(ctx).
			Model(&domain.WebhookDelivery{}).
			Where("delivery_id = ? AND expires_at <= ?", deliveryID, now).
			Updates(map[string]any{
				"id":          rec.ID,
				"subdomain":   subdomain,
				"category":    category,
				"received_at": now,
				"expires_at":  now.Add(ttl),
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, ErrDuplicateDelivery
		}
	}
	return rec, nil
}
