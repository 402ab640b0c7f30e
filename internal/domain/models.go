// Package domain defines the persistence models for municipalities, meetings,
// ingestion jobs, and saved searches. These types are mapped with GORM and
// form the core data layer of the civic-observer pipeline.
package domain

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Ingestion job statuses. At most one job per (subdomain, category) may be
// JobRunning at any time; the constraint is enforced at the storage layer by
// a partial unique index (see repo.AutoMigrate).
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobPaused    = "paused"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Notification frequencies for saved searches.
const (
	FreqImmediate = "immediate"
	FreqDaily     = "daily"
	FreqWeekly    = "weekly"
)

// Municipality represents one civic entity whose meeting documents are
// ingested. The subdomain is the stable natural key used by the external
// source and by the inbound upsert interface.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Subdomain: unique natural key (e.g. "oakland-ca").
//   - Name / State / Country: descriptive fields.
//   - SiteURL: public site of the municipality.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker (retains row for audit/history).
type Municipality struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	Subdomain string         `json:"subdomain"  gorm:"type:varchar(128);not null;uniqueIndex:ux_municipality_subdomain"`
	Name      string         `json:"name"       gorm:"type:varchar(255);not null"`
	State     string         `json:"state"      gorm:"type:varchar(64)"`
	Country   string         `json:"country"    gorm:"type:varchar(64)"`
	SiteURL   string         `json:"site_url"   gorm:"type:varchar(512)"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Municipality.
func (Municipality) TableName() string { return "municipalities" }

// ResourceIdentity is the composite key identifying one ingestible unit:
// one municipality subdomain plus one document category (e.g. "minutes").
// Stable for the lifetime of the source entity; never reused across
// unrelated resources. It is a value type, never persisted on its own.
type ResourceIdentity struct {
	Subdomain string `json:"subdomain"`
	Category  string `json:"category"`
}

// String renders the identity as "subdomain/category" for logs and errors.
func (r ResourceIdentity) String() string {
	return r.Subdomain + "/" + r.Category
}

// IngestionJob records one attempt (or resumable sequence of attempts) to
// synchronize a resource identity. Jobs are never deleted; they are retained
// as audit history. A failed job keeps its cursor so the run can resume from
// the last checkpoint instead of from the start.
//
// Invariants:
//   - At most one row per (subdomain, category) has status "running"
//     (partial unique index ux_jobs_running).
//   - ActualCount is only meaningful after a verified full pass; partial runs
//     report PagesFetched and the record counters only.
type IngestionJob struct {
	ID             string     `json:"id"              gorm:"type:char(36);primaryKey"`
	Subdomain      string     `json:"subdomain"       gorm:"type:varchar(128);not null;index:idx_jobs_resource,priority:1"`
	Category       string     `json:"category"        gorm:"type:varchar(64);not null;index:idx_jobs_resource,priority:2"`
	Status         string     `json:"status"          gorm:"type:varchar(16);not null;check:status IN ('pending','running','paused','completed','failed')"`
	Cursor         *string    `json:"cursor,omitempty" gorm:"type:varchar(255)"`
	PagesFetched   int        `json:"pages_fetched"   gorm:"not null;default:0"`
	RecordsCreated int        `json:"records_created" gorm:"not null;default:0"`
	RecordsUpdated int        `json:"records_updated" gorm:"not null;default:0"`
	RecordsSkipped int        `json:"records_skipped" gorm:"not null;default:0"`
	ExpectedCount  *int       `json:"expected_count,omitempty"`
	ActualCount    int        `json:"actual_count"    gorm:"not null;default:0"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
	LastError      *string    `json:"last_error,omitempty" gorm:"type:text"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name for IngestionJob.
func (IngestionJob) TableName() string { return "ingestion_jobs" }

// Resource returns the identity this job synchronizes.
func (j *IngestionJob) Resource() ResourceIdentity {
	return ResourceIdentity{Subdomain: j.Subdomain, Category: j.Category}
}

// IngestionPageError is the per-page error log for a job. A page that still
// fails after retries, or a record that fails validation, is recorded here
// and skipped; it never aborts the whole run.
type IngestionPageError struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	JobID      string    `json:"job_id"      gorm:"type:char(36);not null;index"`
	Cursor     string    `json:"cursor"      gorm:"type:varchar(255)"`
	PageNumber int       `json:"page_number" gorm:"not null;default:0"`
	Message    string    `json:"message"     gorm:"type:text;not null"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for IngestionPageError.
func (IngestionPageError) TableName() string { return "ingestion_page_errors" }

// Meeting is the parent document record: one meeting of one municipality in
// one category, grouping ordered pages of text. Its Key is deterministic,
// derived from source identifiers, which is what makes upserts idempotent
// across retries and resumed runs.
type Meeting struct {
	Key       string    `json:"key"        gorm:"type:varchar(512);primaryKey"`
	Subdomain string    `json:"subdomain"  gorm:"type:varchar(128);not null;index:idx_meetings_resource,priority:1"`
	Category  string    `json:"category"   gorm:"type:varchar(64);not null;index:idx_meetings_resource,priority:2"`
	Date      string    `json:"date"       gorm:"type:varchar(10);not null"` // YYYY-MM-DD
	Title     string    `json:"title"      gorm:"type:varchar(512);not null"`
	PageCount int       `json:"page_count" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Meeting.
func (Meeting) TableName() string { return "meetings" }

// MeetingKey derives the deterministic natural key for a meeting from its
// source identifiers. Never an auto-incrementing surrogate.
func MeetingKey(subdomain, category, sourceID string) string {
	return fmt.Sprintf("%s/%s/%s", subdomain, category, sourceID)
}

// MeetingPage is one ordered page of text within a meeting document,
// uniquely identified by (meeting_key, page_number).
type MeetingPage struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	MeetingKey string    `json:"meeting_key" gorm:"type:varchar(512);not null;uniqueIndex:ux_pages_meeting_number,priority:1"`
	PageNumber int       `json:"page_number" gorm:"not null;uniqueIndex:ux_pages_meeting_number,priority:2"`
	Text       string    `json:"text"        gorm:"type:text;not null"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Meeting is the parent document. Pages are cascade-deleted if their
	// meeting is removed.
	Meeting Meeting `json:"-" gorm:"foreignKey:MeetingKey;references:Key;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for MeetingPage.
func (MeetingPage) TableName() string { return "meeting_pages" }

// SavedSearch is a persisted query definition plus delivery preference.
//
// HasPendingResults is true only between the moment new matching records are
// detected and the moment a notification (immediate or digest) goes out for
// them. PendingSince is stamped on every detection and acts as the
// compare-and-clear token: a digest run only clears flags whose PendingSince
// it actually read, so a detection landing mid-dispatch advances the token
// and is never lost.
type SavedSearch struct {
	ID                   string         `json:"id"         gorm:"type:char(36);primaryKey"`
	Owner                string         `json:"owner"      gorm:"type:varchar(255);not null;index"`
	Query                string         `json:"query"      gorm:"type:varchar(512);not null"`
	Subdomain            string         `json:"subdomain"  gorm:"type:varchar(128);index"` // empty = all municipalities
	Category             string         `json:"category"   gorm:"type:varchar(64)"`        // empty = all categories
	Frequency            string         `json:"frequency"  gorm:"type:varchar(16);not null;check:frequency IN ('immediate','daily','weekly')"`
	HasPendingResults    bool           `json:"has_pending_results" gorm:"not null;default:false;index"`
	PendingSince         *time.Time     `json:"pending_since,omitempty"`
	LastNotificationSent *time.Time     `json:"last_notification_sent,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	DeletedAt            gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for SavedSearch.
func (SavedSearch) TableName() string { return "saved_searches" }

// MatchesResource reports whether records from the given resource identity
// could plausibly satisfy this search's structural filters. Used to scope
// notification matching to the just-ingested resource without scanning
// unrelated subscriptions.
func (s *SavedSearch) MatchesResource(id ResourceIdentity) bool {
	if s.Subdomain != "" && s.Subdomain != id.Subdomain {
		return false
	}
	if s.Category != "" && s.Category != id.Category {
		return false
	}
	return true
}
