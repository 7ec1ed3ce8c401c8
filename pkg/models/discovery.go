package models

import "time"

// SeedHeadline is one result from the external seed feed.
type SeedHeadline struct {
	Title       string    `json:"title"`
	Snippet     string    `json:"snippet"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

// DiscoveryCandidate is a transient origin candidate under validation.
// It is never persisted; rejected candidates leave no trace and may be
// re-attempted from a future headline.
type DiscoveryCandidate struct {
	Headline string
	Snippet  string
	SeedURL  string

	// CandidateURL is the resolved origin (the seed URL itself, or the
	// hunted official site when the seed domain is downstream media).
	CandidateURL string

	// Organization is the inferred originating entity, when hunted.
	Organization string
}
