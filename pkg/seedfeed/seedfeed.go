// Package seedfeed queries an external headline feed used as the starting
// point for source discovery.
package seedfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/contexta-ai/contexta-engine/pkg/models"
)

// Query narrows a seed feed search.
type Query struct {
	Geo         string
	Topic       string
	WindowHours int
}

// SeedFeed returns recent headlines matching a query.
type SeedFeed interface {
	Search(ctx context.Context, query Query) ([]models.SeedHeadline, error)
}

// Config holds seed feed client settings.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

type httpSeedFeed struct {
	client   *http.Client
	endpoint string
	apiKey   string
	logger   *zap.Logger
}

var _ SeedFeed = (*httpSeedFeed)(nil)

// NewHTTPSeedFeed creates a SeedFeed backed by a JSON-over-HTTP headline API.
func NewHTTPSeedFeed(cfg Config, logger *zap.Logger) SeedFeed {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &httpSeedFeed{
		client:   &http.Client{Timeout: timeout},
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		logger:   logger.Named("seedfeed"),
	}
}

type headlineResponse struct {
	Headlines []struct {
		Title       string    `json:"title"`
		Snippet     string    `json:"snippet"`
		URL         string    `json:"url"`
		PublishedAt time.Time `json:"published_at"`
	} `json:"headlines"`
}

func (f *httpSeedFeed) Search(ctx context.Context, query Query) ([]models.SeedHeadline, error) {
	params := url.Values{}
	if query.Geo != "" {
		params.Set("geo", query.Geo)
	}
	if query.Topic != "" {
		params.Set("topic", query.Topic)
	}
	if query.WindowHours > 0 {
		params.Set("window_hours", strconv.Itoa(query.WindowHours))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("seedfeed: create request: %w", err)
	}
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("seedfeed: search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("seedfeed: search returned status %d", resp.StatusCode)
	}

	var decoded headlineResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("seedfeed: decode response: %w", err)
	}

	headlines := make([]models.SeedHeadline, 0, len(decoded.Headlines))
	for _, h := range decoded.Headlines {
		headlines = append(headlines, models.SeedHeadline{
			Title:       h.Title,
			Snippet:     h.Snippet,
			URL:         h.URL,
			PublishedAt: h.PublishedAt,
		})
	}

	f.logger.Debug("seed feed search",
		zap.String("geo", query.Geo),
		zap.String("topic", query.Topic),
		zap.Int("headlines", len(headlines)))

	return headlines, nil
}
