package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/contexta-ai/contexta-engine/pkg/apperrors"
	"github.com/contexta-ai/contexta-engine/pkg/database"
	"github.com/contexta-ai/contexta-engine/pkg/models"
)

// EmbeddingRef pairs a context unit id with its stored embedding, for
// nearest-neighbour scoring in the dedup step.
type EmbeddingRef struct {
	ID        uuid.UUID
	Embedding []float32
}

// TitleRef pairs a context unit id with its title, for feed novelty checks.
type TitleRef struct {
	ID    uuid.UUID
	Title string
}

// ContextUnitRepository provides data access for ingested context units.
type ContextUnitRepository interface {
	// Insert persists a unit. Returns false without error when a unit with
	// the same (tenant, content hash) already exists; the existing id is
	// returned so racing callers report the surviving record.
	Insert(ctx context.Context, unit *models.ContextUnit) (bool, *uuid.UUID, error)

	Get(ctx context.Context, tenantID, id uuid.UUID) (*models.ContextUnit, error)

	// ListEmbeddings returns the most recent tenant embeddings for
	// nearest-neighbour dedup scoring.
	ListEmbeddings(ctx context.Context, tenantID uuid.UUID, limit int) ([]EmbeddingRef, error)

	// RecentTitles returns titles ingested for the tenant since the cutoff.
	RecentTitles(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]TitleRef, error)

	// LatestEmbeddingBySource returns the embedding of the most recent unit
	// ingested from the source, or nil when the source has none.
	LatestEmbeddingBySource(ctx context.Context, sourceID uuid.UUID) ([]float32, error)
}

type contextUnitRepository struct{}

// NewContextUnitRepository creates a new ContextUnitRepository.
func NewContextUnitRepository() ContextUnitRepository {
	return &contextUnitRepository{}
}

var _ ContextUnitRepository = (*contextUnitRepository)(nil)

func (r *contextUnitRepository) Insert(ctx context.Context, unit *models.ContextUnit) (bool, *uuid.UUID, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return false, nil, apperrors.ErrNoTenantScope
	}

	if unit.ID == uuid.Nil {
		unit.ID = uuid.New()
	}
	if unit.CreatedAt.IsZero() {
		unit.CreatedAt = time.Now()
	}

	tags, err := json.Marshal(emptyIfNil(unit.Tags))
	if err != nil {
		return false, nil, fmt.Errorf("failed to marshal tags: %w", err)
	}
	statements, err := json.Marshal(unit.AtomicStatements)
	if err != nil {
		return false, nil, fmt.Errorf("failed to marshal atomic statements: %w", err)
	}
	metadata, err := json.Marshal(unit.SourceMetadata)
	if err != nil {
		return false, nil, fmt.Errorf("failed to marshal source metadata: %w", err)
	}

	query := `
		INSERT INTO context_units (
			id, tenant_id, source_id, source_type, title, summary, category,
			tags, atomic_statements, raw_text, content_hash, embedding,
			quality_score, source_metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (tenant_id, content_hash) DO NOTHING`

	tag, err := scope.Conn.Exec(ctx, query,
		unit.ID, unit.TenantID, unit.SourceID, unit.SourceType,
		unit.Title, unit.Summary, unit.Category,
		tags, statements, unit.RawText, unit.ContentHash, unit.Embedding,
		unit.QualityScore, metadata, unit.CreatedAt,
	)
	if err != nil {
		return false, nil, fmt.Errorf("failed to insert context unit: %w", err)
	}

	if tag.RowsAffected() > 0 {
		return true, nil, nil
	}

	// Lost a race (or exact re-submission): surface the surviving record.
	var existingID uuid.UUID
	err = scope.Conn.QueryRow(ctx,
		`SELECT id FROM context_units WHERE tenant_id = $1 AND content_hash = $2`,
		unit.TenantID, unit.ContentHash,
	).Scan(&existingID)
	if err != nil {
		return false, nil, fmt.Errorf("failed to look up conflicting context unit: %w", err)
	}
	return false, &existingID, nil
}

func (r *contextUnitRepository) Get(ctx context.Context, tenantID, id uuid.UUID) (*models.ContextUnit, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	query := `
		SELECT id, tenant_id, source_id, source_type, title, summary, category,
			tags, atomic_statements, raw_text, content_hash, embedding,
			quality_score, source_metadata, created_at
		FROM context_units
		WHERE tenant_id = $1 AND id = $2`

	var u models.ContextUnit
	var tags, statements, metadata []byte
	err := scope.Conn.QueryRow(ctx, query, tenantID, id).Scan(
		&u.ID, &u.TenantID, &u.SourceID, &u.SourceType, &u.Title, &u.Summary, &u.Category,
		&tags, &statements, &u.RawText, &u.ContentHash, &u.Embedding,
		&u.QualityScore, &metadata, &u.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get context unit: %w", err)
	}

	if err := json.Unmarshal(tags, &u.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if err := json.Unmarshal(statements, &u.AtomicStatements); err != nil {
		return nil, fmt.Errorf("failed to unmarshal atomic statements: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &u.SourceMetadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source metadata: %w", err)
		}
	}

	return &u, nil
}

func (r *contextUnitRepository) ListEmbeddings(ctx context.Context, tenantID uuid.UUID, limit int) ([]EmbeddingRef, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	query := `
		SELECT id, embedding
		FROM context_units
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := scope.Conn.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	defer rows.Close()

	refs := make([]EmbeddingRef, 0)
	for rows.Next() {
		var ref EmbeddingRef
		if err := rows.Scan(&ref.ID, &ref.Embedding); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embeddings: %w", err)
	}

	return refs, nil
}

func (r *contextUnitRepository) RecentTitles(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]TitleRef, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	query := `
		SELECT id, title
		FROM context_units
		WHERE tenant_id = $1 AND created_at >= $2`

	rows, err := scope.Conn.Query(ctx, query, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent titles: %w", err)
	}
	defer rows.Close()

	refs := make([]TitleRef, 0)
	for rows.Next() {
		var ref TitleRef
		if err := rows.Scan(&ref.ID, &ref.Title); err != nil {
			return nil, fmt.Errorf("failed to scan title: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating titles: %w", err)
	}

	return refs, nil
}

func (r *contextUnitRepository) LatestEmbeddingBySource(ctx context.Context, sourceID uuid.UUID) ([]float32, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	query := `
		SELECT embedding
		FROM context_units
		WHERE source_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	var embedding []float32
	err := scope.Conn.QueryRow(ctx, query, sourceID).Scan(&embedding)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest source embedding: %w", err)
	}
	return embedding, nil
}

func emptyIfNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
