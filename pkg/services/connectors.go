package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contexta-ai/contexta-engine/pkg/fetch"
	"github.com/contexta-ai/contexta-engine/pkg/models"
	"github.com/contexta-ai/contexta-engine/pkg/repositories"
)

// Connectors are thin adapters that prepare IngestInput and call the
// ingestion pipeline. None of them writes to storage directly; the pipeline
// is the only path by which context units are created.

// ScrapeConnector pulls a monitored source's current content through the
// novelty check and into ingestion.
type ScrapeConnector struct {
	fetcher   fetch.Fetcher
	novelty   NoveltyService
	ingestion IngestionService
	logger    *zap.Logger
}

// NewScrapeConnector creates a new ScrapeConnector.
func NewScrapeConnector(fetcher fetch.Fetcher, novelty NoveltyService, ingestion IngestionService, logger *zap.Logger) *ScrapeConnector {
	return &ScrapeConnector{
		fetcher:   fetcher,
		novelty:   novelty,
		ingestion: ingestion,
		logger:    logger.Named("scrape_connector"),
	}
}

// Scrape fetches the source and ingests whatever passed novelty. Index
// sources are checked per discovered item so a few new items inside an
// otherwise unchanged page still come through.
func (c *ScrapeConnector) Scrape(ctx context.Context, source *models.Source) (*models.BatchReport, error) {
	result, err := c.fetcher.Fetch(ctx, source.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch source %s: %w", source.URL, err)
	}
	if !result.IsSuccess() {
		return nil, fmt.Errorf("source %s returned status %d", source.URL, result.StatusCode)
	}

	page, err := fetch.ParsePage(result.Body, result.FinalURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source %s: %w", source.URL, err)
	}

	report := &models.BatchReport{}

	if source.Kind == models.SourceKindIndex && len(page.Items) > 0 {
		for _, item := range page.Items {
			c.processScraped(ctx, source, item.URL, item.Title, item.Text, report)
		}
		return report, nil
	}

	c.processScraped(ctx, source, models.WholePageItemKey, page.Title, page.Text, report)
	return report, nil
}

func (c *ScrapeConnector) processScraped(ctx context.Context, source *models.Source, itemKey, title, text string, report *models.BatchReport) {
	report.Processed++

	novelty, err := c.novelty.Verify(ctx, &NoveltyInput{
		TenantID:   source.TenantID,
		SourceID:   &source.ID,
		SourceType: models.SourceTypeScraping,
		Title:      title,
		RawText:    text,
		ItemKey:    itemKey,
	})
	if err != nil {
		c.logger.Warn("novelty check failed",
			zap.String("source_id", source.ID.String()),
			zap.String("item_key", itemKey),
			zap.Error(err))
		report.Failed++
		return
	}
	if !novelty.IsNovel {
		report.Skipped++
		return
	}

	result, err := c.ingestion.Ingest(ctx, &IngestInput{
		TenantID:   source.TenantID,
		SourceID:   &source.ID,
		SourceType: models.SourceTypeScraping,
		RawText:    text,
		Title:      title,
		SourceMetadata: map[string]any{
			"url":      source.URL,
			"item_key": itemKey,
		},
	})
	if err != nil {
		c.logger.Warn("ingestion failed",
			zap.String("source_id", source.ID.String()),
			zap.String("item_key", itemKey),
			zap.Error(err))
		report.Failed++
		return
	}

	if result.Success {
		report.Admitted++
	} else {
		report.Skipped++
	}
}

// EmailMessage is one inbound email handed to the email connector.
type EmailMessage struct {
	MessageID  string
	From       string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// EmailConnector ingests inbound email content, using message ids as the
// cheap novelty key.
type EmailConnector struct {
	novelty      NoveltyService
	ingestion    IngestionService
	seenMessages repositories.SeenMessageRepository
	logger       *zap.Logger
}

// NewEmailConnector creates a new EmailConnector.
func NewEmailConnector(novelty NoveltyService, ingestion IngestionService, seenMessages repositories.SeenMessageRepository, logger *zap.Logger) *EmailConnector {
	return &EmailConnector{
		novelty:      novelty,
		ingestion:    ingestion,
		seenMessages: seenMessages,
		logger:       logger.Named("email_connector"),
	}
}

// Process ingests one email. The message id is marked seen only after the
// pipeline ran to a definite outcome, so transient failures are retried on
// the next delivery attempt.
func (c *EmailConnector) Process(ctx context.Context, tenantID uuid.UUID, msg *EmailMessage) (*models.IngestResult, error) {
	novelty, err := c.novelty.Verify(ctx, &NoveltyInput{
		TenantID:   tenantID,
		SourceType: models.SourceTypeEmail,
		Title:      msg.Subject,
		RawText:    msg.Body,
		MessageID:  msg.MessageID,
	})
	if err != nil {
		return nil, fmt.Errorf("email novelty check failed: %w", err)
	}
	if !novelty.IsNovel {
		return &models.IngestResult{Duplicate: true}, nil
	}

	result, err := c.ingestion.Ingest(ctx, &IngestInput{
		TenantID:   tenantID,
		SourceType: models.SourceTypeEmail,
		RawText:    msg.Body,
		Title:      msg.Subject,
		SourceMetadata: map[string]any{
			"message_id": msg.MessageID,
			"from":       msg.From,
		},
		ObservedAt: msg.ReceivedAt,
	})
	if err != nil {
		return nil, err
	}

	if err := c.seenMessages.MarkSeen(ctx, tenantID, msg.MessageID); err != nil {
		c.logger.Warn("failed to mark message seen",
			zap.String("message_id", msg.MessageID),
			zap.Error(err))
	}
	return result, nil
}

// FeedItem is one item from an external feed.
type FeedItem struct {
	Title       string
	Summary     string
	Link        string
	PublishedAt time.Time
}

// FeedConnector ingests feed items, using recent-title similarity as the
// cheap novelty check.
type FeedConnector struct {
	novelty   NoveltyService
	ingestion IngestionService
	logger    *zap.Logger
}

// NewFeedConnector creates a new FeedConnector.
func NewFeedConnector(novelty NoveltyService, ingestion IngestionService, logger *zap.Logger) *FeedConnector {
	return &FeedConnector{
		novelty:   novelty,
		ingestion: ingestion,
		logger:    logger.Named("feed_connector"),
	}
}

// Process ingests one feed item.
func (c *FeedConnector) Process(ctx context.Context, tenantID uuid.UUID, item *FeedItem) (*models.IngestResult, error) {
	rawText := item.Title
	if item.Summary != "" {
		rawText += "\n\n" + item.Summary
	}

	novelty, err := c.novelty.Verify(ctx, &NoveltyInput{
		TenantID:   tenantID,
		SourceType: models.SourceTypeFeed,
		Title:      item.Title,
		RawText:    rawText,
	})
	if err != nil {
		return nil, fmt.Errorf("feed novelty check failed: %w", err)
	}
	if !novelty.IsNovel {
		return &models.IngestResult{Duplicate: true, DuplicateID: novelty.DuplicateRef}, nil
	}

	return c.ingestion.Ingest(ctx, &IngestInput{
		TenantID:   tenantID,
		SourceType: models.SourceTypeFeed,
		RawText:    rawText,
		Title:      item.Title,
		Summary:    item.Summary,
		SourceMetadata: map[string]any{
			"link": item.Link,
		},
		ObservedAt: item.PublishedAt,
	})
}

// ManualSubmission is content submitted directly by a user. Either RawText
// or URL must be set; a URL-only submission is fetched by the pipeline.
type ManualSubmission struct {
	RawText    string
	URL        string
	Title      string
	Summary    string
	Category   string
	Tags       []string
	Statements any
}

// ManualConnector ingests user-submitted content. Manual submissions always
// pass novelty; the pipeline's dedup step still catches semantic duplicates.
type ManualConnector struct {
	ingestion IngestionService
}

// NewManualConnector creates a new ManualConnector.
func NewManualConnector(ingestion IngestionService) *ManualConnector {
	return &ManualConnector{ingestion: ingestion}
}

// Process ingests one manual submission.
func (c *ManualConnector) Process(ctx context.Context, tenantID uuid.UUID, sub *ManualSubmission) (*models.IngestResult, error) {
	return c.ingestion.Ingest(ctx, &IngestInput{
		TenantID:   tenantID,
		SourceType: models.SourceTypeManual,
		RawText:    sub.RawText,
		URL:        sub.URL,
		Title:      sub.Title,
		Summary:    sub.Summary,
		Category:   sub.Category,
		Tags:       sub.Tags,
		Statements: sub.Statements,
	})
}
