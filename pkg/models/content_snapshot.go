package models

import (
	"time"

	"github.com/google/uuid"
)

// WholePageItemKey is the item key used for a source's page-level snapshot.
// Index sources additionally track one snapshot per discovered item.
const WholePageItemKey = "page"

// ContentSnapshot records the last known fingerprint for a source (or for one
// tracked item on an index source). Exactly one current snapshot exists per
// (source, item key).
type ContentSnapshot struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	SourceID uuid.UUID `json:"source_id"`
	ItemKey  string    `json:"item_key"`

	ContentHash     string  `json:"content_hash"` // md5 of normalized text
	Simhash         uint64  `json:"simhash"`
	EmbeddingDigest *string `json:"embedding_digest,omitempty"`

	ObservedAt time.Time `json:"observed_at"`
}
