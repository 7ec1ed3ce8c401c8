package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/contexta-ai/contexta-engine/pkg/models"
	"github.com/contexta-ai/contexta-engine/pkg/repositories"
	"github.com/contexta-ai/contexta-engine/pkg/retry"
	"github.com/contexta-ai/contexta-engine/pkg/workpool"
)

// BatchService runs the scheduled scrape-and-ingest cycle over all scrapable
// sources.
type BatchService interface {
	RunIngestionBatch(ctx context.Context) (*models.BatchReport, error)
}

type batchService struct {
	sources repositories.SourceRepository
	scraper *ScrapeConnector
	pool    *workpool.Pool
	scope   ScopeBinder
	logger  *zap.Logger
}

var _ BatchService = (*batchService)(nil)

// NewBatchService creates a new BatchService. The scope binder gives each
// concurrent source its own database connection; nil means the caller's
// context is used as-is.
func NewBatchService(sources repositories.SourceRepository, scraper *ScrapeConnector, pool *workpool.Pool, scope ScopeBinder, logger *zap.Logger) BatchService {
	if scope == nil {
		scope = NoScope
	}
	return &batchService{
		sources: sources,
		scraper: scraper,
		pool:    pool,
		scope:   scope,
		logger:  logger.Named("batch"),
	}
}

// RunIngestionBatch scrapes every trial/active source that is due under its
// cadence. Per-source failures are logged and retried on the next cycle;
// they never abort the batch.
func (s *batchService) RunIngestionBatch(ctx context.Context) (*models.BatchReport, error) {
	sources, err := s.sources.ListScrapable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scrapable sources: %w", err)
	}

	now := time.Now()
	items := make([]workpool.Item[*models.BatchReport], 0, len(sources))
	skippedNotDue := 0

	for _, source := range sources {
		if !source.DueForScrape(now) {
			skippedNotDue++
			continue
		}

		source := source
		items = append(items, workpool.Item[*models.BatchReport]{
			ID: source.ID.String(),
			Execute: func(ctx context.Context) (*models.BatchReport, error) {
				ctx, release, err := s.scope(ctx)
				if err != nil {
					return nil, fmt.Errorf("failed to bind database scope: %w", err)
				}
				defer release()
				return s.scraper.Scrape(ctx, source)
			},
		})
	}

	total := &models.BatchReport{}
	for _, result := range workpool.Process(ctx, s.pool, items) {
		if result.Err != nil {
			s.logger.Warn("source scrape failed",
				zap.String("source_id", result.ID),
				zap.Bool("transient", retry.IsRetryable(result.Err)),
				zap.Error(result.Err))
			total.Failed++
			continue
		}
		total.Processed += result.Result.Processed
		total.Admitted += result.Result.Admitted
		total.Skipped += result.Result.Skipped
		total.Failed += result.Result.Failed
	}

	s.logger.Info("ingestion batch complete",
		zap.Int("sources_due", len(items)),
		zap.Int("sources_not_due", skippedNotDue),
		zap.Int("items_processed", total.Processed),
		zap.Int("items_admitted", total.Admitted),
		zap.Int("items_skipped", total.Skipped),
		zap.Int("failed", total.Failed))

	return total, nil
}
