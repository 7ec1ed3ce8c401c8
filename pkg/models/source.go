package models

import (
	"time"

	"github.com/google/uuid"
)

// SourceStatus is the lifecycle state of a monitored source.
type SourceStatus string

const (
	SourceStatusTrial    SourceStatus = "trial"
	SourceStatusActive   SourceStatus = "active"
	SourceStatusInactive SourceStatus = "inactive"
	SourceStatusArchived SourceStatus = "archived"
)

// ScrapeCadence controls how often a source is scraped.
type ScrapeCadence string

const (
	CadenceDaily   ScrapeCadence = "daily"
	CadenceWeekly  ScrapeCadence = "weekly"
	CadenceMonthly ScrapeCadence = "monthly"
)

// SourceKind distinguishes index pages (many items) from single-article pages.
type SourceKind string

const (
	SourceKindIndex   SourceKind = "index"
	SourceKindArticle SourceKind = "article"
)

// Contact is best-effort, non-authoritative contact metadata for a source.
type Contact struct {
	Organization string `json:"organization,omitempty"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
}

// Source is a monitored content origin. Sources are never hard-deleted;
// the terminal state is archived.
type Source struct {
	ID       uuid.UUID    `json:"id"`
	TenantID uuid.UUID    `json:"tenant_id"`
	URL      string       `json:"url"` // canonical, unique per tenant
	Kind     SourceKind   `json:"kind"`
	Status   SourceStatus `json:"status"`

	TrialEndsAt    *time.Time `json:"trial_ends_at,omitempty"`
	ArchivedReason *string    `json:"archived_reason,omitempty"`

	// Metrics, mutated only by the lifecycle manager and the ingestion pipeline.
	UsageCount             int        `json:"usage_count"`
	LastUsedAt             *time.Time `json:"last_used_at,omitempty"`
	ContentCount           int        `json:"content_count"`
	LastContentAt          *time.Time `json:"last_content_at,omitempty"`
	AvgContentIntervalDays float64    `json:"avg_content_interval_days"`
	AvgQualityScore        float64    `json:"avg_quality_score"`
	QualitySampleCount     int        `json:"quality_sample_count"`

	RelevanceScore float64       `json:"relevance_score"`
	ScrapeCadence  ScrapeCadence `json:"scrape_cadence"`

	Contact Contact `json:"contact"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DaysSinceLastContent returns the age of the last observed content in days.
// A source that has never produced content reports the age of the source itself.
func (s *Source) DaysSinceLastContent(now time.Time) float64 {
	ref := s.CreatedAt
	if s.LastContentAt != nil {
		ref = *s.LastContentAt
	}
	return now.Sub(ref).Hours() / 24
}

// DueForScrape reports whether the source's cadence makes it due relative to
// its last scrape-driven content observation.
func (s *Source) DueForScrape(now time.Time) bool {
	if s.LastContentAt == nil {
		return true
	}
	elapsed := now.Sub(*s.LastContentAt)
	switch s.ScrapeCadence {
	case CadenceDaily:
		return elapsed >= 24*time.Hour
	case CadenceWeekly:
		return elapsed >= 7*24*time.Hour
	case CadenceMonthly:
		return elapsed >= 30*24*time.Hour
	default:
		return true
	}
}
