package models

import (
	"time"

	"github.com/google/uuid"
)

// NoveltyResult is the outcome of a novelty check. It is an expected business
// outcome, never an error.
type NoveltyResult struct {
	IsNovel      bool       `json:"is_novel"`
	Reason       string     `json:"reason"`
	DuplicateRef *uuid.UUID `json:"duplicate_ref,omitempty"`
}

// ChangeClass classifies the outcome of the multi-tier change detector.
type ChangeClass string

const (
	ChangeClassNew         ChangeClass = "new"       // no prior snapshot
	ChangeClassIdentical   ChangeClass = "identical" // exact hash match
	ChangeClassTrivial     ChangeClass = "trivial"   // cosmetic change, skip
	ChangeClassMinorUpdate ChangeClass = "minor_update"
	ChangeClassMajorUpdate ChangeClass = "major_update"
)

// ShouldIngest reports whether this classification proceeds to ingestion.
func (c ChangeClass) ShouldIngest() bool {
	return c == ChangeClassNew || c == ChangeClassMinorUpdate || c == ChangeClassMajorUpdate
}

// ChangeResult is the change detector's verdict for one page or item.
type ChangeResult struct {
	Class      ChangeClass `json:"class"`
	Similarity float64     `json:"similarity"` // similarity of the deciding tier
	Tier       int         `json:"tier"`       // 1 exact hash, 2 simhash, 3 embedding
}

// IngestResult is the outcome of one ingestion call.
type IngestResult struct {
	Success         bool       `json:"success"`
	ContextUnitID   *uuid.UUID `json:"context_unit_id,omitempty"`
	Duplicate       bool       `json:"duplicate"`
	DuplicateID     *uuid.UUID `json:"duplicate_id,omitempty"`
	Similarity      float64    `json:"similarity,omitempty"`
	RejectedQuality bool       `json:"rejected_quality"`
	QualityScore    float64    `json:"quality_score"`
	GeneratedFields []string   `json:"generated_fields,omitempty"`
}

// MetricReport carries one ingestion outcome back to the owning source.
// It is applied transactionally to that source's row; metrics are never
// incremented ambiently from call sites.
type MetricReport struct {
	SourceID     uuid.UUID
	TenantID     uuid.UUID
	QualityScore float64
	ObservedAt   time.Time
	Admitted     bool // false for quality-gate rejections
}

// BatchReport aggregates per-unit outcomes of one scheduled batch run.
type BatchReport struct {
	Processed int `json:"processed"`
	Admitted  int `json:"admitted"`
	Skipped   int `json:"skipped"` // non-novel, duplicate, rejected
	Failed    int `json:"failed"`  // transient errors, retried next cycle
}
