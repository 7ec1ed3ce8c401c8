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

// SourceRepository provides data access for monitored sources.
type SourceRepository interface {
	// Create inserts a new source. Returns false without error when a source
	// with the same (tenant, url) already exists, making discovery idempotent.
	Create(ctx context.Context, source *models.Source) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Source, error)
	GetByURL(ctx context.Context, tenantID uuid.UUID, url string) (*models.Source, error)

	// ListNonArchived returns all trial/active/inactive sources across tenants,
	// for the lifecycle pass.
	ListNonArchived(ctx context.Context) ([]*models.Source, error)

	// ListScrapable returns trial and active sources, for the ingestion batch.
	ListScrapable(ctx context.Context) ([]*models.Source, error)

	// ApplyMetricReport folds one ingestion outcome into the source's rolling
	// metrics as a single atomic row update.
	ApplyMetricReport(ctx context.Context, report *models.MetricReport) error

	// UpdateLifecycle writes the outcome of one lifecycle evaluation.
	UpdateLifecycle(ctx context.Context, id uuid.UUID, status models.SourceStatus,
		relevance float64, cadence models.ScrapeCadence, archivedReason *string) error

	// RecordUsage increments usage_count when a downstream publication cites
	// the source.
	RecordUsage(ctx context.Context, id uuid.UUID, usedAt time.Time) error
}

type sourceRepository struct{}

// NewSourceRepository creates a new SourceRepository.
func NewSourceRepository() SourceRepository {
	return &sourceRepository{}
}

var _ SourceRepository = (*sourceRepository)(nil)

const sourceColumns = `
	id, tenant_id, url, kind, status, trial_ends_at, archived_reason,
	usage_count, last_used_at, content_count, last_content_at,
	avg_content_interval_days, avg_quality_score, quality_sample_count,
	relevance_score, scrape_cadence, contact, created_at, updated_at`

func (r *sourceRepository) Create(ctx context.Context, source *models.Source) (bool, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return false, apperrors.ErrNoTenantScope
	}

	now := time.Now()
	if source.ID == uuid.Nil {
		source.ID = uuid.New()
	}
	source.CreatedAt = now
	source.UpdatedAt = now

	contact, err := json.Marshal(source.Contact)
	if err != nil {
		return false, fmt.Errorf("failed to marshal contact: %w", err)
	}

	query := `
		INSERT INTO sources (
			id, tenant_id, url, kind, status, trial_ends_at,
			relevance_score, scrape_cadence, contact, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tenant_id, url) DO NOTHING`

	tag, err := scope.Conn.Exec(ctx, query,
		source.ID, source.TenantID, source.URL, source.Kind, source.Status,
		source.TrialEndsAt, source.RelevanceScore, source.ScrapeCadence,
		contact, source.CreatedAt, source.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create source: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *sourceRepository) Get(ctx context.Context, id uuid.UUID) (*models.Source, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	query := `SELECT ` + sourceColumns + ` FROM sources WHERE id = $1`
	source, err := scanSource(scope.Conn.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return source, nil
}

func (r *sourceRepository) GetByURL(ctx context.Context, tenantID uuid.UUID, url string) (*models.Source, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	query := `SELECT ` + sourceColumns + ` FROM sources WHERE tenant_id = $1 AND url = $2`
	source, err := scanSource(scope.Conn.QueryRow(ctx, query, tenantID, url))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, err
	}
	return source, nil
}

func (r *sourceRepository) ListNonArchived(ctx context.Context) ([]*models.Source, error) {
	return r.listByStatuses(ctx,
		models.SourceStatusTrial, models.SourceStatusActive, models.SourceStatusInactive)
}

func (r *sourceRepository) ListScrapable(ctx context.Context) ([]*models.Source, error) {
	return r.listByStatuses(ctx, models.SourceStatusTrial, models.SourceStatusActive)
}

func (r *sourceRepository) listByStatuses(ctx context.Context, statuses ...models.SourceStatus) ([]*models.Source, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	query := `SELECT ` + sourceColumns + ` FROM sources WHERE status = ANY($1) ORDER BY created_at`

	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	rows, err := scope.Conn.Query(ctx, query, names)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	sources := make([]*models.Source, 0)
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sources: %w", err)
	}

	return sources, nil
}

func (r *sourceRepository) ApplyMetricReport(ctx context.Context, report *models.MetricReport) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	// Single-statement read-modify-write; no locking across sources needed.
	// Rejected attempts count into the quality average but not into the
	// content frequency metrics.
	query := `
		UPDATE sources SET
			avg_quality_score = (avg_quality_score * quality_sample_count + $2)
				/ (quality_sample_count + 1),
			quality_sample_count = quality_sample_count + 1,
			avg_content_interval_days = CASE
				WHEN $4 AND last_content_at IS NOT NULL THEN
					((avg_content_interval_days * content_count)
						+ EXTRACT(EPOCH FROM ($3::timestamptz - last_content_at)) / 86400.0)
					/ (content_count + 1)
				ELSE avg_content_interval_days
			END,
			content_count = CASE WHEN $4 THEN content_count + 1 ELSE content_count END,
			last_content_at = CASE WHEN $4 THEN $3::timestamptz ELSE last_content_at END,
			updated_at = now()
		WHERE id = $1 AND tenant_id = $5`

	tag, err := scope.Conn.Exec(ctx, query,
		report.SourceID, report.QualityScore, report.ObservedAt, report.Admitted, report.TenantID)
	if err != nil {
		return fmt.Errorf("failed to apply metric report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *sourceRepository) UpdateLifecycle(ctx context.Context, id uuid.UUID, status models.SourceStatus,
	relevance float64, cadence models.ScrapeCadence, archivedReason *string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	query := `
		UPDATE sources SET
			status = $2,
			relevance_score = $3,
			scrape_cadence = $4,
			archived_reason = $5,
			updated_at = now()
		WHERE id = $1`

	tag, err := scope.Conn.Exec(ctx, query, id, status, relevance, cadence, archivedReason)
	if err != nil {
		return fmt.Errorf("failed to update source lifecycle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *sourceRepository) RecordUsage(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	query := `
		UPDATE sources SET
			usage_count = usage_count + 1,
			last_used_at = $2,
			updated_at = now()
		WHERE id = $1`

	tag, err := scope.Conn.Exec(ctx, query, id, usedAt)
	if err != nil {
		return fmt.Errorf("failed to record source usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanSource(row pgx.Row) (*models.Source, error) {
	var s models.Source
	var contact []byte

	err := row.Scan(
		&s.ID, &s.TenantID, &s.URL, &s.Kind, &s.Status, &s.TrialEndsAt, &s.ArchivedReason,
		&s.UsageCount, &s.LastUsedAt, &s.ContentCount, &s.LastContentAt,
		&s.AvgContentIntervalDays, &s.AvgQualityScore, &s.QualitySampleCount,
		&s.RelevanceScore, &s.ScrapeCadence, &contact, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan source: %w", err)
	}

	if len(contact) > 0 {
		if err := json.Unmarshal(contact, &s.Contact); err != nil {
			return nil, fmt.Errorf("failed to unmarshal contact: %w", err)
		}
	}

	return &s, nil
}
