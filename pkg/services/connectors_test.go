package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/contexta-ai/contexta-engine/pkg/models"
	"github.com/contexta-ai/contexta-engine/pkg/workpool"
)

const indexPageHTML = `<html><head><title>Press releases</title></head><body>
<article><h2><a href="/press/one">First announcement of the season</a></h2>
<p>The organization published its first announcement with extensive detail about the upcoming programme.</p></article>
<article><h2><a href="/press/two">Second announcement with budget figures</a></h2>
<p>The second announcement covers budget figures, timelines and responsible departments in depth.</p></article>
</body></html>`

type connectorFixture struct {
	scraper  *ScrapeConnector
	batch    BatchService
	fetcher  *mockFetcher
	enricher *mockEnricher
	units    *mockContextUnitRepo
	sources  *mockSourceRepo
	seen     *mockSeenMessageRepo
	email    *EmailConnector
	feed     *FeedConnector
}

func newConnectorFixture() *connectorFixture {
	f := &connectorFixture{
		fetcher:  newMockFetcher(),
		enricher: &mockEnricher{},
		units:    newMockContextUnitRepo(),
		sources:  newMockSourceRepo(),
		seen:     newMockSeenMessageRepo(),
	}

	quality := 0.9
	f.enricher.generated = &Generated{QualityScore: &quality}

	embedder := newAxisEmbedder()
	detector := NewChangeDetector(newMockSnapshotRepo(), f.units, embedder,
		defaultDetectorConfig(), "test-embed", zap.NewNop())
	novelty := NewNoveltyService(detector, f.seen, f.units, defaultIngestionConfig(), zap.NewNop())
	ingestion := NewIngestionService(f.units, f.sources, f.enricher, embedder, f.fetcher,
		defaultIngestionConfig(), "test-embed", testEmbedDim, zap.NewNop())

	f.scraper = NewScrapeConnector(f.fetcher, novelty, ingestion, zap.NewNop())
	f.batch = NewBatchService(f.sources, f.scraper,
		workpool.New(workpool.Config{MaxConcurrent: 2}, zap.NewNop()), nil, zap.NewNop())
	f.email = NewEmailConnector(novelty, ingestion, f.seen, zap.NewNop())
	f.feed = NewFeedConnector(novelty, ingestion, zap.NewNop())
	return f
}

func TestScrape_IndexSourceIngestsPerItem(t *testing.T) {
	f := newConnectorFixture()
	source := &models.Source{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		URL:      "https://example.org/press",
		Kind:     models.SourceKindIndex,
		Status:   models.SourceStatusActive,
	}
	f.sources.add(source)
	f.fetcher.respond(source.URL, 200, indexPageHTML)

	report, err := f.scraper.Scrape(context.Background(), source)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 2, report.Admitted)
	assert.Equal(t, 2, f.units.count())
}

func TestScrape_UnchangedPageMakesZeroEnrichmentCalls(t *testing.T) {
	f := newConnectorFixture()
	source := &models.Source{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		URL:      "https://example.org/press",
		Kind:     models.SourceKindIndex,
		Status:   models.SourceStatusActive,
	}
	f.sources.add(source)
	f.fetcher.respond(source.URL, 200, indexPageHTML)

	_, err := f.scraper.Scrape(context.Background(), source)
	require.NoError(t, err)
	callsAfterFirst := f.enricher.enrichCalls
	assert.Equal(t, 2, callsAfterFirst)

	// Byte-identical HTML on the second run: novelty stops everything before
	// any enrichment spend.
	report, err := f.scraper.Scrape(context.Background(), source)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 0, report.Admitted)
	assert.Equal(t, callsAfterFirst, f.enricher.enrichCalls)
	assert.Equal(t, 2, f.units.count())
}

func TestEmailConnector_MarksSeenAfterIngest(t *testing.T) {
	f := newConnectorFixture()
	tenantID := uuid.New()
	msg := &EmailMessage{
		MessageID:  "<rel-1@example.org>",
		From:       "press@example.org",
		Subject:    "New programme announced",
		Body:       "The organization announced its yearly programme with dates and venues.",
		ReceivedAt: time.Now(),
	}

	result, err := f.email.Process(context.Background(), tenantID, msg)
	require.NoError(t, err)
	assert.True(t, result.Success)

	seen, err := f.seen.IsSeen(context.Background(), tenantID, msg.MessageID)
	require.NoError(t, err)
	assert.True(t, seen)

	// Redelivery of the same message is dropped by the message-id gate.
	again, err := f.email.Process(context.Background(), tenantID, msg)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, 1, f.units.count())
}

func TestFeedConnector_RecentTitleDuplicateSkipped(t *testing.T) {
	f := newConnectorFixture()
	tenantID := uuid.New()
	item := &FeedItem{
		Title:       "Council approves mobility plan for the northern districts",
		Summary:     "The plan includes new bus lines and park-and-ride facilities.",
		Link:        "https://feeds.example.org/1",
		PublishedAt: time.Now(),
	}

	first, err := f.feed.Process(context.Background(), tenantID, item)
	require.NoError(t, err)
	assert.True(t, first.Success)

	second, err := f.feed.Process(context.Background(), tenantID, item)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 1, f.units.count())
}

func TestRunIngestionBatch_CadenceGating(t *testing.T) {
	f := newConnectorFixture()
	tenantID := uuid.New()

	recent := time.Now().Add(-1 * time.Hour)
	notDue := &models.Source{
		ID:            uuid.New(),
		TenantID:      tenantID,
		URL:           "https://example.org/fresh",
		Kind:          models.SourceKindIndex,
		Status:        models.SourceStatusActive,
		ScrapeCadence: models.CadenceDaily,
		LastContentAt: &recent,
	}
	due := &models.Source{
		ID:            uuid.New(),
		TenantID:      tenantID,
		URL:           "https://example.org/stale",
		Kind:          models.SourceKindIndex,
		Status:        models.SourceStatusActive,
		ScrapeCadence: models.CadenceDaily,
	}
	f.sources.add(notDue)
	f.sources.add(due)
	f.fetcher.respond(due.URL, 200, indexPageHTML)

	report, err := f.batch.RunIngestionBatch(context.Background())
	require.NoError(t, err)

	// Only the due source was fetched.
	assert.Equal(t, []string{due.URL}, f.fetcher.calls)
	assert.Equal(t, 2, report.Processed)
}

func TestRunIngestionBatch_BindsScopePerSource(t *testing.T) {
	f := newConnectorFixture()
	tenantID := uuid.New()

	for _, url := range []string{"https://example.org/a", "https://example.org/b"} {
		f.sources.add(&models.Source{
			ID:       uuid.New(),
			TenantID: tenantID,
			URL:      url,
			Kind:     models.SourceKindIndex,
			Status:   models.SourceStatusActive,
		})
		f.fetcher.respond(url, 200, indexPageHTML)
	}

	var mu sync.Mutex
	binds, releases := 0, 0
	binder := func(ctx context.Context) (context.Context, func(), error) {
		mu.Lock()
		binds++
		mu.Unlock()
		return ctx, func() {
			mu.Lock()
			releases++
			mu.Unlock()
		}, nil
	}

	batch := NewBatchService(f.sources, f.scraper,
		workpool.New(workpool.Config{MaxConcurrent: 2}, zap.NewNop()), binder, zap.NewNop())

	_, err := batch.RunIngestionBatch(context.Background())
	require.NoError(t, err)

	// Every concurrent source got its own scope, and every scope was released.
	assert.Equal(t, 2, binds)
	assert.Equal(t, 2, releases)
}

func TestRunIngestionBatch_FailureLoggedWithTransientClassification(t *testing.T) {
	f := newConnectorFixture()
	broken := &models.Source{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		URL:      "https://example.org/broken",
		Kind:     models.SourceKindIndex,
		Status:   models.SourceStatusActive,
	}
	f.sources.add(broken)

	core, logs := observer.New(zap.WarnLevel)
	batch := NewBatchService(f.sources, f.scraper,
		workpool.New(workpool.Config{MaxConcurrent: 2}, zap.NewNop()), nil, zap.New(core))

	report, err := batch.RunIngestionBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	// The mock fetcher's connection-refused error classifies as transient.
	entries := logs.FilterMessage("source scrape failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, true, entries[0].ContextMap()["transient"])
}

func TestRunIngestionBatch_SourceFailureDoesNotAbort(t *testing.T) {
	f := newConnectorFixture()
	tenantID := uuid.New()

	broken := &models.Source{
		ID:       uuid.New(),
		TenantID: tenantID,
		URL:      "https://example.org/broken",
		Kind:     models.SourceKindIndex,
		Status:   models.SourceStatusActive,
	}
	healthy := &models.Source{
		ID:       uuid.New(),
		TenantID: tenantID,
		URL:      "https://example.org/healthy",
		Kind:     models.SourceKindIndex,
		Status:   models.SourceStatusActive,
	}
	f.sources.add(broken)
	f.sources.add(healthy)
	f.fetcher.respond(healthy.URL, 200, indexPageHTML)

	report, err := f.batch.RunIngestionBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Admitted)
}
