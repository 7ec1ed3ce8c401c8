package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/contexta-ai/contexta-engine/pkg/apperrors"
	"github.com/contexta-ai/contexta-engine/pkg/database"
	"github.com/contexta-ai/contexta-engine/pkg/models"
)

// SnapshotRepository provides data access for content fingerprints.
type SnapshotRepository interface {
	// GetCurrent returns the current snapshot for (source, item key), or nil
	// when the source has never been fingerprinted.
	GetCurrent(ctx context.Context, sourceID uuid.UUID, itemKey string) (*models.ContentSnapshot, error)

	// Upsert replaces the current snapshot for (source, item key) so the next
	// comparison always runs against the freshest fingerprint.
	Upsert(ctx context.Context, snapshot *models.ContentSnapshot) error
}

type snapshotRepository struct{}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository() SnapshotRepository {
	return &snapshotRepository{}
}

var _ SnapshotRepository = (*snapshotRepository)(nil)

func (r *snapshotRepository) GetCurrent(ctx context.Context, sourceID uuid.UUID, itemKey string) (*models.ContentSnapshot, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	query := `
		SELECT id, tenant_id, source_id, item_key, content_hash, simhash, embedding_digest, observed_at
		FROM content_snapshots
		WHERE source_id = $1 AND item_key = $2`

	var s models.ContentSnapshot
	var simhash int64
	err := scope.Conn.QueryRow(ctx, query, sourceID, itemKey).Scan(
		&s.ID, &s.TenantID, &s.SourceID, &s.ItemKey,
		&s.ContentHash, &simhash, &s.EmbeddingDigest, &s.ObservedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil // Never fingerprinted
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	s.Simhash = uint64(simhash)
	return &s, nil
}

func (r *snapshotRepository) Upsert(ctx context.Context, snapshot *models.ContentSnapshot) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	if snapshot.ID == uuid.Nil {
		snapshot.ID = uuid.New()
	}
	if snapshot.ObservedAt.IsZero() {
		snapshot.ObservedAt = time.Now()
	}

	query := `
		INSERT INTO content_snapshots (
			id, tenant_id, source_id, item_key, content_hash, simhash, embedding_digest, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_id, item_key)
		DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			simhash = EXCLUDED.simhash,
			embedding_digest = EXCLUDED.embedding_digest,
			observed_at = EXCLUDED.observed_at`

	// Simhash is stored as signed BIGINT; the bit pattern is what matters.
	_, err := scope.Conn.Exec(ctx, query,
		snapshot.ID, snapshot.TenantID, snapshot.SourceID, snapshot.ItemKey,
		snapshot.ContentHash, int64(snapshot.Simhash), snapshot.EmbeddingDigest, snapshot.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}
