package repo

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRecordDelivery_DeduplicatesWithinTTL(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec, err := RecordDelivery(ctx, db, "delivery-123", "oakland-ca", "minutes", 24*time.Hour)
	if err != nil {
		t.Fatalf("RecordDelivery: %v", err)
	}
	if rec.DeliveryID != "delivery-123" {
		t.Fatalf("delivery_id = %q", rec.DeliveryID)
	}

	_, err = RecordDelivery(ctx, db, "delivery-123", "oakland-ca", "minutes", 24*time.Hour)
	if !errors.Is(err, ErrDuplicateDelivery) {
		t.Fatalf("expected ErrDuplicateDelivery, got %v", err)
	}

	// Distinct delivery IDs never collide.
	if _, err := RecordDelivery(ctx, db, "delivery-456", "oakland-ca", "minutes", 24*time.Hour); err != nil {
		t.Fatalf("RecordDelivery distinct id: %v", err)
	}
}

func TestRecordDelivery_ExpiredSlotIsReclaimed(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Negative TTL: the record is expired the moment it lands.
	if _, err := RecordDelivery(ctx, db, "recycled-id", "oakland-ca", "minutes", -time.Minute); err != nil {
		t.Fatalf("RecordDelivery (expired seed): %v", err)
	}

	rec, err := RecordDelivery(ctx, db, "recycled-id", "berkeley-ca", "agendas", 24*time.Hour)
	if err != nil {
		t.Fatalf("expected expired slot to be reclaimed, got %v", err)
	}
	if rec.Subdomain != "berkeley-ca" || rec.Category != "agendas" {
		t.Fatalf("reclaimed record carries stale resource: %s/%s", rec.Subdomain, rec.Category)
	}
}
