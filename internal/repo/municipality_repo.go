// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Municipality model, including the upsert used by the inbound creation/
// update interface.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/civicband/civic-observer-sub002/internal/domain"
)

// UpsertMunicipality inserts or updates a municipality keyed by its
// subdomain. It returns the resulting record and whether it was newly
// created, which the HTTP layer maps to 201 vs 200.
func UpsertMunicipality(ctx context.Context, db *gorm.DB, m *domain.Municipality) (*domain.Municipality, bool, error) {
	var existing domain.Municipality
	err := db.WithContext(ctx).Where("subdomain = ?", m.Subdomain).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		m.ID = uuid.NewString()
		m.CreatedAt = time.Now().UTC()
		if err := db.WithContext(ctx).Create(m).Error; err != nil {
			return nil, false, err
		}
		return m, true, nil
	case err != nil:
		return nil, false, err
	}

	res := db.WithContext(ctx).
		Model(&domain.Municipality{}).
		Where("subdomain = ?", m.Subdomain).
		Updates(map[string]any{
			"name":     m.Name,
			"state":    m.State,
			"country":  m.Country,
			"site_url": m.SiteURL,
		})
	if res.Error != nil {
		return nil, false, res.Error
	}
	updated, err := GetMunicipality(ctx, db, m.Subdomain)
	return updated, false, err
}

// GetMunicipality fetches a municipality by subdomain, or ErrNotFound.
func GetMunicipality(ctx context.Context, db *gorm.DB, subdomain string) (*domain.Municipality, error) {
	var m domain.Municipality
	if err := db.WithContext(ctx).Where("subdomain = ?", subdomain).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMunicipalities returns all municipalities ordered by subdomain. Used by
// the operator --all fan-out to enumerate ingestible resources.
func ListMunicipalities(ctx context.Context, db *gorm.DB) ([]domain.Municipality, error) {
	var out []domain.Municipality
	err := db.WithContext(ctx).Order("subdomain asc").Find(&out).Error
	return out, err
}
