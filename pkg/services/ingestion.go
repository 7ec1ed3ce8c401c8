package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contexta-ai/contexta-engine/pkg/apperrors"
	"github.com/contexta-ai/contexta-engine/pkg/config"
	"github.com/contexta-ai/contexta-engine/pkg/fetch"
	"github.com/contexta-ai/contexta-engine/pkg/llm"
	"github.com/contexta-ai/contexta-engine/pkg/models"
	"github.com/contexta-ai/contexta-engine/pkg/repositories"
	"github.com/contexta-ai/contexta-engine/pkg/similarity"
)

// IngestInput is one item submitted to the ingestion pipeline. All connectors
// and manual submissions funnel through the same struct.
type IngestInput struct {
	TenantID   uuid.UUID
	SourceID   *uuid.UUID
	SourceType models.SourceType

	RawText string

	// URL is fetched and parsed when RawText is absent.
	URL string

	// Pre-provided fields. Empty fields are generated; provided ones are kept.
	Title      string
	Summary    string
	Category   string
	Tags       []string
	Statements any // accepted shapes documented on NormalizeStatements

	SourceMetadata map[string]any
	ObservedAt     time.Time
}

// IngestionService is the single write path for context units. Every admitted
// unit is enriched, embedded, deduplicated and quality-gated here; metric
// reports flow back to the owning source for every attempt.
type IngestionService interface {
	Ingest(ctx context.Context, input *IngestInput) (*models.IngestResult, error)
}

type ingestionService struct {
	contextUnits repositories.ContextUnitRepository
	sources      repositories.SourceRepository
	enricher     Enricher
	embedder     llm.LLMClient
	fetcher      fetch.Fetcher
	config       *config.IngestionConfig
	embedModel   string
	embedDim     int
	logger       *zap.Logger
}

var _ IngestionService = (*ingestionService)(nil)

// NewIngestionService creates a new IngestionService. The fetcher resolves
// URL-only submissions; nil disables them.
func NewIngestionService(
	contextUnits repositories.ContextUnitRepository,
	sources repositories.SourceRepository,
	enricher Enricher,
	embedder llm.LLMClient,
	fetcher fetch.Fetcher,
	cfg *config.IngestionConfig,
	embedModel string,
	embedDim int,
	logger *zap.Logger,
) IngestionService {
	return &ingestionService{
		contextUnits: contextUnits,
		sources:      sources,
		enricher:     enricher,
		embedder:     embedder,
		fetcher:      fetcher,
		config:       cfg,
		embedModel:   embedModel,
		embedDim:     embedDim,
		logger:       logger.Named("ingestion"),
	}
}

func (s *ingestionService) Ingest(ctx context.Context, input *IngestInput) (*models.IngestResult, error) {
	if input.RawText == "" && input.URL != "" {
		if err := s.resolveRawText(ctx, input); err != nil {
			return nil, err
		}
	}
	if input.RawText == "" {
		return nil, fmt.Errorf("ingest: raw text or url is required")
	}
	observedAt := input.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now()
	}

	unit, generatedFields, quality, err := s.buildUnit(ctx, input)
	if err != nil {
		return nil, err
	}

	embedding, err := s.embed(ctx, unit)
	if err != nil {
		return nil, err
	}
	unit.Embedding = embedding

	// Dedup runs before the quality gate: a resubmission of already-admitted
	// content surfaces as a duplicate instead of re-entering the gate.
	if dup, err := s.findDuplicate(ctx, input.TenantID, embedding); err != nil {
		return nil, err
	} else if dup != nil {
		s.logger.Info("content deduplicated",
			zap.String("tenant_id", input.TenantID.String()),
			zap.String("duplicate_id", dup.ID.String()),
			zap.Float64("similarity", dup.sim))
		return &models.IngestResult{
			Duplicate:       true,
			DuplicateID:     &dup.ID,
			Similarity:      dup.sim,
			QualityScore:    quality,
			GeneratedFields: generatedFields,
		}, nil
	}

	if quality < s.config.QualityMinimum {
		// Rejections still feed the source's quality average so thin sources
		// score down over time.
		s.reportMetrics(ctx, input, quality, observedAt, false)
		s.logger.Info("content rejected by quality gate",
			zap.String("tenant_id", input.TenantID.String()),
			zap.Float64("quality", quality))
		return &models.IngestResult{
			RejectedQuality: true,
			QualityScore:    quality,
			GeneratedFields: generatedFields,
		}, nil
	}

	inserted, existingID, err := s.contextUnits.Insert(ctx, unit)
	if err != nil {
		return nil, fmt.Errorf("failed to persist context unit: %w", err)
	}
	if !inserted {
		// Lost a race or exact re-submission: the first writer's record stands.
		return &models.IngestResult{
			Duplicate:       true,
			DuplicateID:     existingID,
			Similarity:      1.0,
			QualityScore:    quality,
			GeneratedFields: generatedFields,
		}, nil
	}

	s.reportMetrics(ctx, input, quality, observedAt, true)

	s.logger.Info("context unit ingested",
		zap.String("tenant_id", input.TenantID.String()),
		zap.String("context_unit_id", unit.ID.String()),
		zap.Strings("generated_fields", generatedFields),
		zap.Float64("quality", quality))

	return &models.IngestResult{
		Success:         true,
		ContextUnitID:   &unit.ID,
		QualityScore:    quality,
		GeneratedFields: generatedFields,
	}, nil
}

// resolveRawText fetches and parses the submitted URL in place of missing
// raw text. The page title fills a missing title so enrichment does not have
// to regenerate it.
func (s *ingestionService) resolveRawText(ctx context.Context, input *IngestInput) error {
	if s.fetcher == nil {
		return fmt.Errorf("no fetcher configured for url submissions")
	}

	result, err := s.fetcher.Fetch(ctx, input.URL)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", input.URL, err)
	}
	if !result.IsSuccess() {
		return fmt.Errorf("url %s returned status %d", input.URL, result.StatusCode)
	}

	page, err := fetch.ParsePage(result.Body, result.FinalURL)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", input.URL, err)
	}
	if page.Text == "" {
		return fmt.Errorf("url %s yielded no text", input.URL)
	}

	input.RawText = page.Text
	if input.Title == "" {
		input.Title = page.Title
	}
	return nil
}

// buildUnit assembles the context unit, generating only the fields the
// submitter did not provide.
func (s *ingestionService) buildUnit(ctx context.Context, input *IngestInput) (*models.ContextUnit, []string, float64, error) {
	known := KnownFields{
		Title:         input.Title,
		Summary:       input.Summary,
		Category:      input.Category,
		Tags:          input.Tags,
		HasStatements: input.Statements != nil,
	}

	generated, err := s.enricher.Enrich(ctx, input.RawText, known)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("enrichment failed: %w", err)
	}

	unit := &models.ContextUnit{
		TenantID:       input.TenantID,
		SourceID:       input.SourceID,
		SourceType:     input.SourceType,
		Title:          input.Title,
		Summary:        input.Summary,
		Category:       input.Category,
		Tags:           input.Tags,
		RawText:        input.RawText,
		ContentHash:    ContentHash(input.RawText),
		SourceMetadata: input.SourceMetadata,
	}

	var generatedFields []string
	if unit.Title == "" && generated.Title != "" {
		unit.Title = generated.Title
		generatedFields = append(generatedFields, "title")
	}
	if unit.Summary == "" && generated.Summary != "" {
		unit.Summary = generated.Summary
		generatedFields = append(generatedFields, "summary")
	}
	if unit.Category == "" && generated.Category != "" {
		unit.Category = generated.Category
		generatedFields = append(generatedFields, "category")
	}
	if len(unit.Tags) == 0 && len(generated.Tags) > 0 {
		unit.Tags = generated.Tags
		generatedFields = append(generatedFields, "tags")
	}

	rawStatements := input.Statements
	if rawStatements == nil && generated.RawStatements != nil {
		rawStatements = generated.RawStatements
		generatedFields = append(generatedFields, "atomic_statements")
	}
	statements, err := NormalizeStatements(rawStatements)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("invalid atomic statements: %w", err)
	}
	unit.AtomicStatements = statements

	quality := HeuristicQuality(input.RawText, len(statements))
	if generated.QualityScore != nil {
		quality = *generated.QualityScore
	}
	unit.QualityScore = quality

	return unit, generatedFields, quality, nil
}

func (s *ingestionService) embed(ctx context.Context, unit *models.ContextUnit) ([]float32, error) {
	text := unit.Title
	if unit.Summary != "" {
		text += "\n" + unit.Summary
	} else {
		text += "\n" + truncateForPrompt(unit.RawText, 2000)
	}

	embedding, err := s.embedder.CreateEmbedding(ctx, text, s.embedModel)
	if err != nil {
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}
	if len(embedding) != s.embedDim {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d: %w",
			len(embedding), s.embedDim, apperrors.ErrDimensionMismatch)
	}
	return embedding, nil
}

type duplicateMatch struct {
	ID  uuid.UUID
	sim float64
}

// findDuplicate scores the embedding against the tenant's recent units and
// returns the best match at or above the duplicate threshold.
func (s *ingestionService) findDuplicate(ctx context.Context, tenantID uuid.UUID, embedding []float32) (*duplicateMatch, error) {
	refs, err := s.contextUnits.ListEmbeddings(ctx, tenantID, s.config.DedupCandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load dedup candidates: %w", err)
	}

	var best *duplicateMatch
	for _, ref := range refs {
		cos, err := similarity.Cosine(embedding, ref.Embedding)
		if err != nil {
			// Dimension drift from an older embedding model; skip the candidate.
			continue
		}
		if cos >= s.config.DuplicateThreshold && (best == nil || cos > best.sim) {
			best = &duplicateMatch{ID: ref.ID, sim: cos}
		}
	}
	return best, nil
}

// reportMetrics folds the attempt into the owning source's rolling metrics.
// Metric write failures are logged, not fatal: the unit outcome stands.
func (s *ingestionService) reportMetrics(ctx context.Context, input *IngestInput, quality float64, observedAt time.Time, admitted bool) {
	if input.SourceID == nil {
		return
	}
	report := &models.MetricReport{
		SourceID:     *input.SourceID,
		TenantID:     input.TenantID,
		QualityScore: quality,
		ObservedAt:   observedAt,
		Admitted:     admitted,
	}
	if err := s.sources.ApplyMetricReport(ctx, report); err != nil {
		s.logger.Warn("failed to apply metric report",
			zap.String("source_id", input.SourceID.String()),
			zap.Error(err))
	}
}
