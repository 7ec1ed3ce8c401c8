package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contexta-ai/contexta-engine/pkg/config"
	"github.com/contexta-ai/contexta-engine/pkg/models"
	"github.com/contexta-ai/contexta-engine/pkg/repositories"
	"github.com/contexta-ai/contexta-engine/pkg/similarity"
)

// NoveltyInput is what the verifier needs to judge one incoming item.
type NoveltyInput struct {
	TenantID   uuid.UUID
	SourceID   *uuid.UUID
	SourceType models.SourceType

	Title   string
	RawText string

	// MessageID identifies email items.
	MessageID string

	// ItemKey addresses the fingerprint slot for scraped items; empty means
	// the whole page.
	ItemKey string
}

// NoveltyService decides whether an incoming item has been seen before,
// using the cheapest check each source type allows. Non-novel is a normal
// outcome, never an error; lookup failures are errors so callers retry
// instead of double-ingesting.
type NoveltyService interface {
	Verify(ctx context.Context, input *NoveltyInput) (*models.NoveltyResult, error)
}

type noveltyService struct {
	detector     ChangeDetector
	seenMessages repositories.SeenMessageRepository
	contextUnits repositories.ContextUnitRepository
	config       *config.IngestionConfig
	logger       *zap.Logger
}

var _ NoveltyService = (*noveltyService)(nil)

// NewNoveltyService creates a new NoveltyService.
func NewNoveltyService(
	detector ChangeDetector,
	seenMessages repositories.SeenMessageRepository,
	contextUnits repositories.ContextUnitRepository,
	cfg *config.IngestionConfig,
	logger *zap.Logger,
) NoveltyService {
	return &noveltyService{
		detector:     detector,
		seenMessages: seenMessages,
		contextUnits: contextUnits,
		config:       cfg,
		logger:       logger.Named("novelty"),
	}
}

func (s *noveltyService) Verify(ctx context.Context, input *NoveltyInput) (*models.NoveltyResult, error) {
	switch input.SourceType {
	case models.SourceTypeEmail:
		return s.verifyEmail(ctx, input)
	case models.SourceTypeFeed:
		return s.verifyFeed(ctx, input)
	case models.SourceTypeScraping:
		return s.verifyScraped(ctx, input)
	case models.SourceTypeManual:
		// Manual submissions always pass; the ingestion dedup step still
		// catches semantic duplicates.
		return &models.NoveltyResult{IsNovel: true, Reason: "manual submission"}, nil
	default:
		return nil, fmt.Errorf("unknown source type %q", input.SourceType)
	}
}

func (s *noveltyService) verifyEmail(ctx context.Context, input *NoveltyInput) (*models.NoveltyResult, error) {
	if input.MessageID == "" {
		return nil, fmt.Errorf("email item missing message id")
	}

	seen, err := s.seenMessages.IsSeen(ctx, input.TenantID, input.MessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to check message id: %w", err)
	}
	if seen {
		return &models.NoveltyResult{IsNovel: false, Reason: "message id already processed"}, nil
	}
	return &models.NoveltyResult{IsNovel: true, Reason: "message id not seen"}, nil
}

func (s *noveltyService) verifyFeed(ctx context.Context, input *NoveltyInput) (*models.NoveltyResult, error) {
	window := time.Duration(s.config.FeedWindowHours) * time.Hour
	since := time.Now().Add(-window)

	titles, err := s.contextUnits.RecentTitles(ctx, input.TenantID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent titles: %w", err)
	}

	for _, ref := range titles {
		if similarity.TokenJaccard(input.Title, ref.Title) >= s.config.FeedTitleSimilarity {
			id := ref.ID
			return &models.NoveltyResult{
				IsNovel:      false,
				Reason:       "recent_duplicate",
				DuplicateRef: &id,
			}, nil
		}
	}
	return &models.NoveltyResult{IsNovel: true, Reason: "no similar recent title"}, nil
}

func (s *noveltyService) verifyScraped(ctx context.Context, input *NoveltyInput) (*models.NoveltyResult, error) {
	if input.SourceID == nil {
		return nil, fmt.Errorf("scraped item missing source id")
	}

	itemKey := input.ItemKey
	if itemKey == "" {
		itemKey = models.WholePageItemKey
	}

	change, err := s.detector.Detect(ctx, input.TenantID, *input.SourceID, itemKey, input.RawText)
	if err != nil {
		return nil, fmt.Errorf("change detection failed: %w", err)
	}

	if !change.Class.ShouldIngest() {
		return &models.NoveltyResult{
			IsNovel: false,
			Reason:  fmt.Sprintf("content %s since last observation", change.Class),
		}, nil
	}
	return &models.NoveltyResult{
		IsNovel: true,
		Reason:  fmt.Sprintf("content classified as %s", change.Class),
	}, nil
}
