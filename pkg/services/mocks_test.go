package services

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/contexta-ai/contexta-engine/pkg/fetch"
	"github.com/contexta-ai/contexta-engine/pkg/llm"
	"github.com/contexta-ai/contexta-engine/pkg/models"
	"github.com/contexta-ai/contexta-engine/pkg/repositories"
	"github.com/contexta-ai/contexta-engine/pkg/seedfeed"
)

// mockSourceRepo is an in-memory SourceRepository keyed by (tenant, url).
type mockSourceRepo struct {
	mu      sync.Mutex
	sources map[string]*models.Source
	reports []*models.MetricReport
}

var _ repositories.SourceRepository = (*mockSourceRepo)(nil)

func newMockSourceRepo() *mockSourceRepo {
	return &mockSourceRepo{sources: make(map[string]*models.Source)}
}

func sourceKey(tenantID uuid.UUID, url string) string {
	return tenantID.String() + "|" + url
}

func (m *mockSourceRepo) Create(ctx context.Context, source *models.Source) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sourceKey(source.TenantID, source.URL)
	if _, exists := m.sources[key]; exists {
		return false, nil
	}
	if source.ID == uuid.Nil {
		source.ID = uuid.New()
	}
	copied := *source
	m.sources[key] = &copied
	return true, nil
}

func (m *mockSourceRepo) Get(ctx context.Context, id uuid.UUID) (*models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sources {
		if s.ID == id {
			copied := *s
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("source %s not found", id)
}

func (m *mockSourceRepo) GetByURL(ctx context.Context, tenantID uuid.UUID, url string) (*models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sources[sourceKey(tenantID, url)]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, nil
}

func (m *mockSourceRepo) ListNonArchived(ctx context.Context) ([]*models.Source, error) {
	return m.listByStatus(models.SourceStatusTrial, models.SourceStatusActive, models.SourceStatusInactive)
}

func (m *mockSourceRepo) ListScrapable(ctx context.Context) ([]*models.Source, error) {
	return m.listByStatus(models.SourceStatusTrial, models.SourceStatusActive)
}

func (m *mockSourceRepo) listByStatus(statuses ...models.SourceStatus) ([]*models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Source
	for _, s := range m.sources {
		for _, status := range statuses {
			if s.Status == status {
				copied := *s
				out = append(out, &copied)
				break
			}
		}
	}
	return out, nil
}

func (m *mockSourceRepo) ApplyMetricReport(ctx context.Context, report *models.MetricReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, report)
	for _, s := range m.sources {
		if s.ID == report.SourceID {
			s.AvgQualityScore = (s.AvgQualityScore*float64(s.QualitySampleCount) + report.QualityScore) /
				float64(s.QualitySampleCount+1)
			s.QualitySampleCount++
			if report.Admitted {
				s.ContentCount++
				at := report.ObservedAt
				s.LastContentAt = &at
			}
			return nil
		}
	}
	return nil
}

func (m *mockSourceRepo) UpdateLifecycle(ctx context.Context, id uuid.UUID, status models.SourceStatus,
	relevance float64, cadence models.ScrapeCadence, archivedReason *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sources {
		if s.ID == id {
			s.Status = status
			s.RelevanceScore = relevance
			s.ScrapeCadence = cadence
			s.ArchivedReason = archivedReason
			return nil
		}
	}
	return fmt.Errorf("source %s not found", id)
}

func (m *mockSourceRepo) RecordUsage(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sources {
		if s.ID == id {
			s.UsageCount++
			s.LastUsedAt = &usedAt
			return nil
		}
	}
	return fmt.Errorf("source %s not found", id)
}

func (m *mockSourceRepo) add(source *models.Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if source.ID == uuid.Nil {
		source.ID = uuid.New()
	}
	m.sources[sourceKey(source.TenantID, source.URL)] = source
}

// mockSnapshotRepo is an in-memory SnapshotRepository keyed by (source, item).
type mockSnapshotRepo struct {
	mu        sync.Mutex
	snapshots map[string]*models.ContentSnapshot
}

var _ repositories.SnapshotRepository = (*mockSnapshotRepo)(nil)

func newMockSnapshotRepo() *mockSnapshotRepo {
	return &mockSnapshotRepo{snapshots: make(map[string]*models.ContentSnapshot)}
}

func snapshotKey(sourceID uuid.UUID, itemKey string) string {
	return sourceID.String() + "|" + itemKey
}

func (m *mockSnapshotRepo) GetCurrent(ctx context.Context, sourceID uuid.UUID, itemKey string) (*models.ContentSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.snapshots[snapshotKey(sourceID, itemKey)]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, nil
}

func (m *mockSnapshotRepo) Upsert(ctx context.Context, snapshot *models.ContentSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snapshot.ID == uuid.Nil {
		snapshot.ID = uuid.New()
	}
	copied := *snapshot
	m.snapshots[snapshotKey(snapshot.SourceID, snapshot.ItemKey)] = &copied
	return nil
}

// mockContextUnitRepo is an in-memory ContextUnitRepository with the same
// (tenant, content hash) conflict behavior as the real one.
type mockContextUnitRepo struct {
	mu    sync.Mutex
	units []*models.ContextUnit
}

var _ repositories.ContextUnitRepository = (*mockContextUnitRepo)(nil)

func newMockContextUnitRepo() *mockContextUnitRepo {
	return &mockContextUnitRepo{}
}

func (m *mockContextUnitRepo) Insert(ctx context.Context, unit *models.ContextUnit) (bool, *uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.units {
		if existing.TenantID == unit.TenantID && existing.ContentHash == unit.ContentHash {
			id := existing.ID
			return false, &id, nil
		}
	}
	if unit.ID == uuid.Nil {
		unit.ID = uuid.New()
	}
	if unit.CreatedAt.IsZero() {
		unit.CreatedAt = time.Now()
	}
	copied := *unit
	m.units = append(m.units, &copied)
	return true, nil, nil
}

func (m *mockContextUnitRepo) Get(ctx context.Context, tenantID, id uuid.UUID) (*models.ContextUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.units {
		if u.TenantID == tenantID && u.ID == id {
			copied := *u
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("context unit %s not found", id)
}

func (m *mockContextUnitRepo) ListEmbeddings(ctx context.Context, tenantID uuid.UUID, limit int) ([]repositories.EmbeddingRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var refs []repositories.EmbeddingRef
	for _, u := range m.units {
		if u.TenantID == tenantID && u.Embedding != nil {
			refs = append(refs, repositories.EmbeddingRef{ID: u.ID, Embedding: u.Embedding})
		}
		if len(refs) == limit {
			break
		}
	}
	return refs, nil
}

func (m *mockContextUnitRepo) RecentTitles(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]repositories.TitleRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var refs []repositories.TitleRef
	for _, u := range m.units {
		if u.TenantID == tenantID && !u.CreatedAt.Before(since) {
			refs = append(refs, repositories.TitleRef{ID: u.ID, Title: u.Title})
		}
	}
	return refs, nil
}

func (m *mockContextUnitRepo) LatestEmbeddingBySource(ctx context.Context, sourceID uuid.UUID) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.units) - 1; i >= 0; i-- {
		if m.units[i].SourceID != nil && *m.units[i].SourceID == sourceID {
			return m.units[i].Embedding, nil
		}
	}
	return nil, nil
}

func (m *mockContextUnitRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.units)
}

// mockSeenMessageRepo is an in-memory SeenMessageRepository.
type mockSeenMessageRepo struct {
	mu   sync.Mutex
	seen map[string]bool
}

var _ repositories.SeenMessageRepository = (*mockSeenMessageRepo)(nil)

func newMockSeenMessageRepo() *mockSeenMessageRepo {
	return &mockSeenMessageRepo{seen: make(map[string]bool)}
}

func (m *mockSeenMessageRepo) IsSeen(ctx context.Context, tenantID uuid.UUID, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[tenantID.String()+"|"+messageID], nil
}

func (m *mockSeenMessageRepo) MarkSeen(ctx context.Context, tenantID uuid.UUID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[tenantID.String()+"|"+messageID] = true
	return nil
}

// mockFetcher serves canned responses by URL. Unregistered URLs return a
// transport error.
type mockFetcher struct {
	mu        sync.Mutex
	responses map[string]*fetch.Result
	calls     []string
}

var _ fetch.Fetcher = (*mockFetcher)(nil)

func newMockFetcher() *mockFetcher {
	return &mockFetcher{responses: make(map[string]*fetch.Result)}
}

func (m *mockFetcher) respond(url string, status int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[url] = &fetch.Result{
		StatusCode: status,
		Body:       []byte(body),
		Header:     http.Header{},
		FinalURL:   url,
	}
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) (*fetch.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, url)
	if result, ok := m.responses[url]; ok {
		return result, nil
	}
	return nil, fmt.Errorf("connection refused: %s", url)
}

// mockEnricher returns configurable canned answers.
type mockEnricher struct {
	generated       *Generated
	isPressRoom     bool
	organization    string
	website         string
	enrichErr       error
	enrichCalls     int
	classifyCalls   int
	inferOrgCalls   int
	lastKnownFields KnownFields
}

var _ Enricher = (*mockEnricher)(nil)

func (m *mockEnricher) Enrich(ctx context.Context, rawText string, known KnownFields) (*Generated, error) {
	m.enrichCalls++
	m.lastKnownFields = known
	if m.enrichErr != nil {
		return nil, m.enrichErr
	}
	if m.generated != nil {
		return m.generated, nil
	}
	return &Generated{}, nil
}

func (m *mockEnricher) ClassifyPressRoom(ctx context.Context, pageTitle, pageText string) (bool, error) {
	m.classifyCalls++
	return m.isPressRoom, nil
}

func (m *mockEnricher) InferOrganization(ctx context.Context, headline, snippet string) (string, string, error) {
	m.inferOrgCalls++
	return m.organization, m.website, nil
}

// mockSeedFeed returns a fixed headline batch.
type mockSeedFeed struct {
	headlines []models.SeedHeadline
}

var _ seedfeed.SeedFeed = (*mockSeedFeed)(nil)

func (m *mockSeedFeed) Search(ctx context.Context, query seedfeed.Query) ([]models.SeedHeadline, error) {
	return m.headlines, nil
}

// unitEmbedding builds a unit-length embedding along one axis, so cosine
// between same-axis vectors is 1 and between different axes is 0.
func unitEmbedding(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

// newAxisEmbedder returns a mock embedder that maps each distinct input to
// its own axis: identical texts embed identically, distinct texts are
// orthogonal.
func newAxisEmbedder() *llm.MockLLMClient {
	var mu sync.Mutex
	axes := make(map[string]int)
	m := llm.NewMockLLMClient()
	m.CreateEmbeddingFunc = func(ctx context.Context, input, model string) ([]float32, error) {
		mu.Lock()
		defer mu.Unlock()
		axis, ok := axes[input]
		if !ok {
			axis = len(axes) % testEmbedDim
			axes[input] = axis
		}
		return unitEmbedding(testEmbedDim, axis), nil
	}
	return m
}

func strPtr(s string) *string { return &s }
