package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// Default cache TTL for robots.txt entries.
const defaultRobotsCacheTTL = 24 * time.Hour

const robotsTxtPath = "/robots.txt"

// RobotsChecker fetches, parses and caches robots.txt rules per host.
//
// A missing robots.txt (404 or other non-2xx) is allow-all, per standard
// crawling practice. A transport failure is surfaced as an error instead:
// discovery validation must discard candidates it could not verify rather
// than assume permission.
type RobotsChecker struct {
	fetcher   Fetcher
	userAgent string
	cacheTTL  time.Duration

	mu    sync.RWMutex
	cache map[string]*robotsCacheEntry // keyed by host
}

type robotsCacheEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
	allowAll  bool // robots.txt missing or unparseable
}

// NewRobotsChecker creates a new RobotsChecker.
func NewRobotsChecker(fetcher Fetcher, userAgent string, cacheTTL time.Duration) *RobotsChecker {
	if cacheTTL == 0 {
		cacheTTL = defaultRobotsCacheTTL
	}
	return &RobotsChecker{
		fetcher:   fetcher,
		userAgent: userAgent,
		cacheTTL:  cacheTTL,
		cache:     make(map[string]*robotsCacheEntry),
	}
}

// Allowed checks whether the given URL is allowed by its host's robots.txt.
// Returns an error when robots.txt could not be fetched over the network.
func (r *RobotsChecker) Allowed(ctx context.Context, rawURL string) (bool, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("robots: parse url: %w", err)
	}

	host := strings.ToLower(parsed.Host)
	if host == "" {
		return false, fmt.Errorf("robots: empty host in url %q", rawURL)
	}

	entry, err := r.getOrFetchEntry(ctx, host, parsed.Scheme)
	if err != nil {
		return false, err
	}

	if entry.allowAll {
		return true, nil
	}

	path := parsed.Path
	if path == "" {
		path = "/"
	}
	return entry.data.TestAgent(path, r.userAgent), nil
}

func (r *RobotsChecker) getOrFetchEntry(ctx context.Context, host, scheme string) (*robotsCacheEntry, error) {
	r.mu.RLock()
	entry, ok := r.cache[host]
	r.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) <= r.cacheTTL {
		return entry, nil
	}

	if scheme == "" {
		scheme = "https"
	}

	result, err := r.fetcher.Fetch(ctx, scheme+"://"+host+robotsTxtPath)
	if err != nil {
		return nil, fmt.Errorf("robots: fetch: %w", err)
	}

	entry = r.buildEntry(result)

	r.mu.Lock()
	r.cache[host] = entry
	r.mu.Unlock()

	return entry, nil
}

// buildEntry parses a robots.txt response. Only 2xx responses are parsed;
// all others (and unparseable bodies) are treated as allow-all.
func (r *RobotsChecker) buildEntry(result *Result) *robotsCacheEntry {
	if !result.IsSuccess() {
		return &robotsCacheEntry{fetchedAt: time.Now(), allowAll: true}
	}

	robots, err := robotstxt.FromBytes(result.Body)
	if err != nil {
		return &robotsCacheEntry{fetchedAt: time.Now(), allowAll: true}
	}

	return &robotsCacheEntry{data: robots, fetchedAt: time.Now()}
}
