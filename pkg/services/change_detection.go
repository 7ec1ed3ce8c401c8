package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contexta-ai/contexta-engine/pkg/config"
	"github.com/contexta-ai/contexta-engine/pkg/llm"
	"github.com/contexta-ai/contexta-engine/pkg/models"
	"github.com/contexta-ai/contexta-engine/pkg/repositories"
	"github.com/contexta-ai/contexta-engine/pkg/similarity"
)

// ChangeDetector classifies how a source's content changed since the last
// observation, escalating through cheaper tiers first: exact hash, then
// simhash, then embeddings only for the inconclusive band.
type ChangeDetector interface {
	// Detect compares text against the stored fingerprint for
	// (source, itemKey) and records the new fingerprint.
	Detect(ctx context.Context, tenantID, sourceID uuid.UUID, itemKey, text string) (*models.ChangeResult, error)
}

type changeDetector struct {
	snapshots    repositories.SnapshotRepository
	contextUnits repositories.ContextUnitRepository
	embedder     llm.LLMClient
	config       *config.DetectorConfig
	embedModel   string
	logger       *zap.Logger
}

var _ ChangeDetector = (*changeDetector)(nil)

// NewChangeDetector creates a multi-tier change detector.
func NewChangeDetector(
	snapshots repositories.SnapshotRepository,
	contextUnits repositories.ContextUnitRepository,
	embedder llm.LLMClient,
	cfg *config.DetectorConfig,
	embedModel string,
	logger *zap.Logger,
) ChangeDetector {
	return &changeDetector{
		snapshots:    snapshots,
		contextUnits: contextUnits,
		embedder:     embedder,
		config:       cfg,
		embedModel:   embedModel,
		logger:       logger.Named("change_detector"),
	}
}

func (d *changeDetector) Detect(ctx context.Context, tenantID, sourceID uuid.UUID, itemKey, text string) (*models.ChangeResult, error) {
	normalized := similarity.NormalizeText(text)
	hash := ContentHash(text)
	simhash, hasSimhash := similarity.Simhash64(text)

	previous, err := d.snapshots.GetCurrent(ctx, sourceID, itemKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	result := d.classify(ctx, previous, hash, simhash, hasSimhash, normalized, sourceID)

	// The snapshot always moves to the freshest observation so the next run
	// compares against what was actually last seen.
	snapshot := &models.ContentSnapshot{
		TenantID:    tenantID,
		SourceID:    sourceID,
		ItemKey:     itemKey,
		ContentHash: hash,
		Simhash:     simhash,
	}
	if previous != nil {
		snapshot.ID = previous.ID
	}
	if err := d.snapshots.Upsert(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("failed to record snapshot: %w", err)
	}

	d.logger.Debug("change detected",
		zap.String("source_id", sourceID.String()),
		zap.String("item_key", itemKey),
		zap.String("class", string(result.Class)),
		zap.Int("tier", result.Tier),
		zap.Float64("similarity", result.Similarity))

	return result, nil
}

func (d *changeDetector) classify(
	ctx context.Context,
	previous *models.ContentSnapshot,
	hash string,
	simhash uint64,
	hasSimhash bool,
	normalized string,
	sourceID uuid.UUID,
) *models.ChangeResult {
	if previous == nil {
		return &models.ChangeResult{Class: models.ChangeClassNew, Tier: 1}
	}

	if hash == previous.ContentHash {
		return &models.ChangeResult{Class: models.ChangeClassIdentical, Similarity: 1.0, Tier: 1}
	}

	if !hasSimhash {
		// Empty or unhashable text with a differing hash: treat as a real change.
		return &models.ChangeResult{Class: models.ChangeClassMajorUpdate, Tier: 2}
	}

	sim := similarity.HammingSimilarity(simhash, previous.Simhash)
	switch {
	case sim >= d.config.TrivialThreshold:
		return &models.ChangeResult{Class: models.ChangeClassTrivial, Similarity: sim, Tier: 2}
	case sim < d.config.GrayBandFloor:
		return &models.ChangeResult{Class: models.ChangeClassMajorUpdate, Similarity: sim, Tier: 2}
	}

	// Inconclusive simhash band: consult embeddings.
	return d.classifyByEmbedding(ctx, normalized, sourceID, sim)
}

func (d *changeDetector) classifyByEmbedding(ctx context.Context, normalized string, sourceID uuid.UUID, simhashSim float64) *models.ChangeResult {
	prior, err := d.contextUnits.LatestEmbeddingBySource(ctx, sourceID)
	if err != nil || prior == nil {
		// No prior embedding to compare against; the simhash band already
		// ruled out trivial, so admit as a substantive change.
		if err != nil {
			d.logger.Warn("embedding tier unavailable, falling back to simhash verdict", zap.Error(err))
		}
		return &models.ChangeResult{Class: models.ChangeClassMajorUpdate, Similarity: simhashSim, Tier: 2}
	}

	embedding, err := d.embedder.CreateEmbedding(ctx, normalized, d.embedModel)
	if err != nil {
		d.logger.Warn("failed to embed changed content, falling back to simhash verdict", zap.Error(err))
		return &models.ChangeResult{Class: models.ChangeClassMajorUpdate, Similarity: simhashSim, Tier: 2}
	}

	cos, err := similarity.Cosine(embedding, prior)
	if err != nil {
		d.logger.Warn("embedding comparison failed, falling back to simhash verdict", zap.Error(err))
		return &models.ChangeResult{Class: models.ChangeClassMajorUpdate, Similarity: simhashSim, Tier: 2}
	}

	switch {
	case cos >= d.config.DuplicateCosine:
		return &models.ChangeResult{Class: models.ChangeClassTrivial, Similarity: cos, Tier: 3}
	case cos >= d.config.MinorUpdateCosine:
		return &models.ChangeResult{Class: models.ChangeClassMinorUpdate, Similarity: cos, Tier: 3}
	default:
		return &models.ChangeResult{Class: models.ChangeClassMajorUpdate, Similarity: cos, Tier: 3}
	}
}

// ContentHash returns the md5 hex digest of the normalized text. The same
// digest backs change detection and ingestion idempotence, so both layers
// agree on what "identical" means.
func ContentHash(text string) string {
	sum := md5.Sum([]byte(similarity.NormalizeText(text)))
	return hex.EncodeToString(sum[:])
}
