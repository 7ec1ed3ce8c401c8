package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contexta-ai/contexta-engine/pkg/llm"
	"github.com/contexta-ai/contexta-engine/pkg/models"
)

type noveltyFixture struct {
	service  NoveltyService
	seen     *mockSeenMessageRepo
	units    *mockContextUnitRepo
	embedder *llm.MockLLMClient
}

func newNoveltyFixture() *noveltyFixture {
	f := &noveltyFixture{
		seen:     newMockSeenMessageRepo(),
		units:    newMockContextUnitRepo(),
		embedder: llm.NewMockLLMClient(),
	}
	detector := NewChangeDetector(newMockSnapshotRepo(), f.units, f.embedder,
		defaultDetectorConfig(), "test-embed", zap.NewNop())
	f.service = NewNoveltyService(detector, f.seen, f.units, defaultIngestionConfig(), zap.NewNop())
	return f
}

func TestVerify_EmailMessageIDGate(t *testing.T) {
	f := newNoveltyFixture()
	tenantID := uuid.New()

	result, err := f.service.Verify(context.Background(), &NoveltyInput{
		TenantID:   tenantID,
		SourceType: models.SourceTypeEmail,
		MessageID:  "<msg-1@example.org>",
	})
	require.NoError(t, err)
	assert.True(t, result.IsNovel)

	require.NoError(t, f.seen.MarkSeen(context.Background(), tenantID, "<msg-1@example.org>"))

	result, err = f.service.Verify(context.Background(), &NoveltyInput{
		TenantID:   tenantID,
		SourceType: models.SourceTypeEmail,
		MessageID:  "<msg-1@example.org>",
	})
	require.NoError(t, err)
	assert.False(t, result.IsNovel)
}

func TestVerify_EmailMissingMessageIDErrors(t *testing.T) {
	f := newNoveltyFixture()
	_, err := f.service.Verify(context.Background(), &NoveltyInput{
		TenantID:   uuid.New(),
		SourceType: models.SourceTypeEmail,
	})
	assert.Error(t, err)
}

func TestVerify_FeedTitleSimilarityWithinWindow(t *testing.T) {
	f := newNoveltyFixture()
	tenantID := uuid.New()

	inserted, _, err := f.units.Insert(context.Background(), &models.ContextUnit{
		TenantID:    tenantID,
		Title:       "Mayor announces new transport plan for northern districts",
		ContentHash: "h1",
		CreatedAt:   time.Now().Add(-1 * time.Hour),
	})
	require.NoError(t, err)
	require.True(t, inserted)

	// Same title, different casing: token overlap is 1.0.
	result, err := f.service.Verify(context.Background(), &NoveltyInput{
		TenantID:   tenantID,
		SourceType: models.SourceTypeFeed,
		Title:      "MAYOR ANNOUNCES NEW TRANSPORT PLAN FOR NORTHERN DISTRICTS",
	})
	require.NoError(t, err)
	assert.False(t, result.IsNovel)
	assert.Equal(t, "recent_duplicate", result.Reason)
	assert.NotNil(t, result.DuplicateRef)

	result, err = f.service.Verify(context.Background(), &NoveltyInput{
		TenantID:   tenantID,
		SourceType: models.SourceTypeFeed,
		Title:      "Quarterly results exceed expectations in export markets",
	})
	require.NoError(t, err)
	assert.True(t, result.IsNovel)
}

func TestVerify_FeedIgnoresTitlesOutsideWindow(t *testing.T) {
	f := newNoveltyFixture()
	tenantID := uuid.New()

	_, _, err := f.units.Insert(context.Background(), &models.ContextUnit{
		TenantID:    tenantID,
		Title:       "Mayor announces new transport plan",
		ContentHash: "h1",
		CreatedAt:   time.Now().Add(-48 * time.Hour),
	})
	require.NoError(t, err)

	result, err := f.service.Verify(context.Background(), &NoveltyInput{
		TenantID:   tenantID,
		SourceType: models.SourceTypeFeed,
		Title:      "Mayor announces new transport plan",
	})
	require.NoError(t, err)
	assert.True(t, result.IsNovel)
}

func TestVerify_ScrapedDelegatesToChangeDetection(t *testing.T) {
	f := newNoveltyFixture()
	tenantID := uuid.New()
	sourceID := uuid.New()

	input := &NoveltyInput{
		TenantID:   tenantID,
		SourceID:   &sourceID,
		SourceType: models.SourceTypeScraping,
		RawText:    pressReleaseText,
	}

	result, err := f.service.Verify(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, result.IsNovel)

	result, err = f.service.Verify(context.Background(), input)
	require.NoError(t, err)
	assert.False(t, result.IsNovel)
}

func TestVerify_ManualAlwaysNovel(t *testing.T) {
	f := newNoveltyFixture()
	result, err := f.service.Verify(context.Background(), &NoveltyInput{
		TenantID:   uuid.New(),
		SourceType: models.SourceTypeManual,
		RawText:    "anything",
	})
	require.NoError(t, err)
	assert.True(t, result.IsNovel)
}

func TestVerify_UnknownSourceTypeErrors(t *testing.T) {
	f := newNoveltyFixture()
	_, err := f.service.Verify(context.Background(), &NoveltyInput{
		TenantID:   uuid.New(),
		SourceType: "carrier_pigeon",
	})
	assert.Error(t, err)
}
