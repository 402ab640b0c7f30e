// Package domain defines the core persistence models for the application.
// This file holds the webhook delivery record used to deduplicate the
// automated ingestion trigger path.
package domain

import "time"

// WebhookDelivery records an inbound webhook that requested ingestion, keyed
// by the provider's delivery ID. Providers redeliver webhooks on timeouts;
// the unique index lets a replayed delivery be acknowledged without claiming
// a second ingestion run.
type WebhookDelivery struct {
	ID         string    `gorm:"type:char(36);primaryKey"`
	DeliveryID string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_webhook_delivery"`
	Subdomain  string    `gorm:"type:varchar(128);not null"`
	Category   string    `gorm:"type:varchar(64);not null"`
	ReceivedAt time.Time `gorm:"not null"`
	ExpiresAt  time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (WebhookDelivery) TableName() string { return "webhook_deliveries" }
