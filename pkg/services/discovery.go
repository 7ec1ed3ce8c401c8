package services

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contexta-ai/contexta-engine/pkg/config"
	"github.com/contexta-ai/contexta-engine/pkg/fetch"
	"github.com/contexta-ai/contexta-engine/pkg/models"
	"github.com/contexta-ai/contexta-engine/pkg/repositories"
	"github.com/contexta-ai/contexta-engine/pkg/retry"
	"github.com/contexta-ai/contexta-engine/pkg/seedfeed"
	"github.com/contexta-ai/contexta-engine/pkg/workpool"
)

// DiscoveryReport aggregates one discovery run.
type DiscoveryReport struct {
	Headlines int
	Sampled   int
	Created   int
	Existing  int
	Discarded int
}

// DiscoveryService turns seed headlines into trial sources: it hunts the
// originating organization behind downstream media stories, validates the
// candidate page as an official press room, and persists survivors.
// Rejected candidates leave no trace and may be re-attempted from a future
// headline.
type DiscoveryService interface {
	Run(ctx context.Context, tenantID uuid.UUID) (*DiscoveryReport, error)
}

type discoveryService struct {
	feed     seedfeed.SeedFeed
	fetcher  fetch.Fetcher
	robots   *fetch.RobotsChecker
	enricher Enricher
	sources  repositories.SourceRepository
	pool     *workpool.Pool
	config   *config.DiscoveryConfig
	scope    ScopeBinder
	rand     *rand.Rand
	logger   *zap.Logger
}

var _ DiscoveryService = (*discoveryService)(nil)

// NewDiscoveryService creates a new DiscoveryService. The rand source is
// injected so sampling is deterministic under test; the scope binder gives
// each concurrent headline its own database connection.
func NewDiscoveryService(
	feed seedfeed.SeedFeed,
	fetcher fetch.Fetcher,
	robots *fetch.RobotsChecker,
	enricher Enricher,
	sources repositories.SourceRepository,
	pool *workpool.Pool,
	cfg *config.DiscoveryConfig,
	scope ScopeBinder,
	rng *rand.Rand,
	logger *zap.Logger,
) DiscoveryService {
	if scope == nil {
		scope = NoScope
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &discoveryService{
		feed:     feed,
		fetcher:  fetcher,
		robots:   robots,
		enricher: enricher,
		sources:  sources,
		pool:     pool,
		config:   cfg,
		scope:    scope,
		rand:     rng,
		logger:   logger.Named("discovery"),
	}
}

type candidateOutcome struct {
	created  bool
	existing bool
}

func (s *discoveryService) Run(ctx context.Context, tenantID uuid.UUID) (*DiscoveryReport, error) {
	headlines, err := s.feed.Search(ctx, seedfeed.Query{
		Geo:         s.config.SeedGeo,
		Topic:       s.config.SeedTopic,
		WindowHours: s.config.SeedWindowHours,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch seed headlines: %w", err)
	}

	report := &DiscoveryReport{Headlines: len(headlines)}

	items := make([]workpool.Item[candidateOutcome], 0)
	for _, headline := range headlines {
		if s.rand.Float64() >= s.config.SampleRate {
			continue
		}
		report.Sampled++

		headline := headline
		items = append(items, workpool.Item[candidateOutcome]{
			ID: headline.URL,
			Execute: func(ctx context.Context) (candidateOutcome, error) {
				ctx, release, err := s.scope(ctx)
				if err != nil {
					return candidateOutcome{}, fmt.Errorf("failed to bind database scope: %w", err)
				}
				defer release()
				return s.processHeadline(ctx, tenantID, headline)
			},
		})
	}

	for _, result := range workpool.Process(ctx, s.pool, items) {
		switch {
		case result.Err != nil:
			// Discarded for this run only; a future headline can retry.
			s.logger.Debug("candidate discarded",
				zap.String("seed_url", result.ID),
				zap.Bool("transient", retry.IsRetryable(result.Err)),
				zap.Error(result.Err))
			report.Discarded++
		case result.Result.created:
			report.Created++
		case result.Result.existing:
			report.Existing++
		default:
			report.Discarded++
		}
	}

	s.logger.Info("discovery run complete",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("headlines", report.Headlines),
		zap.Int("sampled", report.Sampled),
		zap.Int("created", report.Created),
		zap.Int("existing", report.Existing),
		zap.Int("discarded", report.Discarded))

	return report, nil
}

func (s *discoveryService) processHeadline(ctx context.Context, tenantID uuid.UUID, headline models.SeedHeadline) (candidateOutcome, error) {
	candidate, err := s.resolveOrigin(ctx, headline)
	if err != nil {
		return candidateOutcome{}, err
	}
	if candidate == nil {
		return candidateOutcome{}, nil
	}

	page, err := s.validate(ctx, candidate)
	if err != nil {
		return candidateOutcome{}, err
	}
	if page == nil {
		return candidateOutcome{}, nil
	}

	source := &models.Source{
		TenantID:       tenantID,
		URL:            candidate.CandidateURL,
		Kind:           models.SourceKindIndex,
		Status:         models.SourceStatusTrial,
		RelevanceScore: 0.5,
		ScrapeCadence:  models.CadenceWeekly,
		Contact:        extractContact(page, candidate.Organization),
	}
	trialEnds := time.Now().AddDate(0, 0, s.config.TrialDays)
	source.TrialEndsAt = &trialEnds

	created, err := s.sources.Create(ctx, source)
	if err != nil {
		return candidateOutcome{}, fmt.Errorf("failed to create source: %w", err)
	}
	if created {
		s.logger.Info("trial source created",
			zap.String("tenant_id", tenantID.String()),
			zap.String("url", source.URL),
			zap.String("organization", source.Contact.Organization))
	}
	return candidateOutcome{created: created, existing: !created}, nil
}

// resolveOrigin decides what URL to validate. Stories on downstream media
// domains are hunted back to the originating organization's own site; stories
// already on an origin domain use the seed URL's site root.
func (s *discoveryService) resolveOrigin(ctx context.Context, headline models.SeedHeadline) (*models.DiscoveryCandidate, error) {
	seedURL, err := url.Parse(headline.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid seed url: %w", err)
	}

	candidate := &models.DiscoveryCandidate{
		Headline: headline.Title,
		Snippet:  headline.Snippet,
		SeedURL:  headline.URL,
	}

	if !s.isDownstreamDomain(seedURL.Host) {
		candidate.CandidateURL = seedURL.Scheme + "://" + seedURL.Host
		return candidate, nil
	}

	org, website, err := s.enricher.InferOrganization(ctx, headline.Title, headline.Snippet)
	if err != nil {
		return nil, fmt.Errorf("origin hunting failed: %w", err)
	}
	if website == "" {
		return nil, nil
	}
	if _, err := url.ParseRequestURI(website); err != nil {
		return nil, fmt.Errorf("origin hunting returned invalid url %q: %w", website, err)
	}

	candidate.CandidateURL = strings.TrimRight(website, "/")
	candidate.Organization = org
	return candidate, nil
}

func (s *discoveryService) isDownstreamDomain(host string) bool {
	host = strings.ToLower(host)
	for _, domain := range s.config.DownstreamDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// validate fetches the candidate page and applies the acceptance checks:
// robots compliance, press-room structure and no restrictive copyright
// markers. Returns nil when the candidate fails a check without error.
func (s *discoveryService) validate(ctx context.Context, candidate *models.DiscoveryCandidate) (*fetch.Page, error) {
	allowed, err := s.robots.Allowed(ctx, candidate.CandidateURL)
	if err != nil {
		// Could not verify permission; discard rather than assume.
		return nil, fmt.Errorf("robots check failed: %w", err)
	}
	if !allowed {
		return nil, nil
	}

	result, err := s.fetcher.Fetch(ctx, candidate.CandidateURL)
	if err != nil {
		return nil, fmt.Errorf("candidate fetch failed: %w", err)
	}
	if !result.IsSuccess() {
		return nil, nil
	}

	page, err := fetch.ParsePage(result.Body, result.FinalURL)
	if err != nil {
		return nil, fmt.Errorf("candidate parse failed: %w", err)
	}

	if hasRestrictiveCopyright(page) {
		return nil, nil
	}

	if !s.looksLikePressRoom(ctx, page) {
		return nil, nil
	}

	return page, nil
}

var pressKeywords = []string{
	"news", "press", "media", "announcement", "release",
	"noticias", "prensa", "actualidad", "comunicado",
}

// institutionalKeywords mark footer/contact text of organizations that run
// their own press rooms.
var institutionalKeywords = []string{
	"government", "ministry", "council", "foundation", "association",
	"university", "ayuntamiento", "gobierno", "ministerio", "diputación",
	"fundación", "asociación", "universidad",
}

// looksLikePressRoom combines structural heuristics with an enrichment
// second opinion. The structural score alone admits clear press rooms; the
// LLM breaks ties for ambiguous pages.
func (s *discoveryService) looksLikePressRoom(ctx context.Context, page *fetch.Page) bool {
	score := 0
	if len(page.Items) >= s.config.MinArticleBlocks {
		score++
	}
	if containsAnyKeyword(page.Title, pressKeywords) {
		score++
	}
	if linksContainKeyword(page.Links, pressKeywords) {
		score++
	}
	if containsAnyKeyword(page.FooterText, institutionalKeywords) {
		score++
	}

	switch {
	case score >= 2:
		return true
	case score == 0:
		return false
	}

	isPressRoom, err := s.enricher.ClassifyPressRoom(ctx, page.Title, page.Text)
	if err != nil {
		s.logger.Debug("press room classification unavailable", zap.Error(err))
		return false
	}
	return isPressRoom
}

var restrictiveCopyrightMarkers = []string{
	"all rights reserved. no reproduction",
	"reproduction prohibited",
	"may not be reproduced",
	"prohibida su reproducción",
	"reproducción prohibida",
}

func hasRestrictiveCopyright(page *fetch.Page) bool {
	text := strings.ToLower(page.FooterText + " " + page.Text)
	for _, marker := range restrictiveCopyrightMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

var (
	emailRE = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRE = regexp.MustCompile(`\+?[0-9][0-9 .\-()]{7,}[0-9]`)
)

// extractContact pulls best-effort contact metadata from the page. Failures
// here never block source creation.
func extractContact(page *fetch.Page, organization string) models.Contact {
	contact := models.Contact{Organization: organization}

	text := page.FooterText
	if text == "" {
		text = page.Text
	}
	if email := emailRE.FindString(text); email != "" {
		contact.Email = email
	}
	if phone := phoneRE.FindString(text); phone != "" {
		contact.Phone = strings.TrimSpace(phone)
	}
	return contact
}

func containsAnyKeyword(text string, keywords []string) bool {
	text = strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func linksContainKeyword(links []string, keywords []string) bool {
	for _, link := range links {
		if containsAnyKeyword(link, keywords) {
			return true
		}
	}
	return false
}
