package models

import (
	"time"

	"github.com/google/uuid"
)

// SourceType identifies the connector a context unit arrived through.
type SourceType string

const (
	SourceTypeScraping SourceType = "scraping"
	SourceTypeEmail    SourceType = "email"
	SourceTypeFeed     SourceType = "feed"
	SourceTypeManual   SourceType = "manual"
)

// StatementType classifies an atomic statement.
type StatementType string

const (
	StatementTypeFact    StatementType = "fact"
	StatementTypeQuote   StatementType = "quote"
	StatementTypeContext StatementType = "context"
)

// AtomicStatement is one ordered, typed extracted assertion within a context
// unit. Order is 1-based and contiguous.
type AtomicStatement struct {
	Order   int           `json:"order"`
	Type    StatementType `json:"type"`
	Speaker *string       `json:"speaker"`
	Text    string        `json:"text"`
}

// ContextUnit is the canonical ingested content record. Exactly one unit
// exists per semantically-distinct content item per tenant; the dedup step of
// the ingestion pipeline enforces this, not a uniqueness constraint on text.
type ContextUnit struct {
	ID       uuid.UUID  `json:"id"`
	TenantID uuid.UUID  `json:"tenant_id"`
	SourceID *uuid.UUID `json:"source_id,omitempty"` // nil for manual submissions

	SourceType SourceType `json:"source_type"`

	Title    string   `json:"title"`
	Summary  string   `json:"summary"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`

	AtomicStatements []AtomicStatement `json:"atomic_statements"`

	RawText     string  `json:"raw_text"`
	ContentHash string  `json:"content_hash"` // md5 of normalized raw text, for race-safe idempotence
	Embedding   []float32 `json:"-"`
	QualityScore float64 `json:"quality_score"`

	SourceMetadata map[string]any `json:"source_metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
