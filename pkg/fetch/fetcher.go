// Package fetch provides the outbound HTTP layer: page fetching with
// timeouts and body limits, robots.txt compliance checking, and HTML text
// extraction.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Result is the outcome of a successful HTTP fetch. Non-2xx statuses are
// returned here, not as errors; callers classify them.
type Result struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	FinalURL   string
}

// Fetcher fetches URLs. Implementations must honor context cancellation.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Result, error)
}

// Config holds fetcher settings.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		UserAgent:    "contexta-engine/1.0",
		Timeout:      15 * time.Second,
		MaxBodyBytes: 5 << 20,
	}
}

// HTTPFetcher is the production Fetcher.
type HTTPFetcher struct {
	client *http.Client
	config Config
	logger *zap.Logger
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a fetcher with per-call timeouts.
func NewHTTPFetcher(config Config, logger *zap.Logger) *HTTPFetcher {
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.MaxBodyBytes == 0 {
		config.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultConfig().UserAgent
	}

	return &HTTPFetcher{
		client: &http.Client{Timeout: config.Timeout},
		config: config,
		logger: logger.Named("fetcher"),
	}
}

// Fetch performs an HTTP GET with the configured timeout and body cap.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("fetch: create request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", url, err)
	}

	f.logger.Debug("fetched",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))

	return &Result{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header,
		FinalURL:   resp.Request.URL.String(),
	}, nil
}

// IsSuccess reports whether the fetch returned a 2xx status.
func (r *Result) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsTransientStatus reports whether the status indicates a retriable
// condition (rate limit or server error) rather than a permanent one.
func (r *Result) IsTransientStatus() bool {
	return r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500
}
