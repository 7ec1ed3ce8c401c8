// Package services contains the engine's domain logic: enrichment, novelty
// verification, change detection, ingestion, discovery and source lifecycle.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/contexta-ai/contexta-engine/pkg/llm"
)

// KnownFields carries whatever structured fields the submitter already
// provided. The enricher generates only what is missing; provided values are
// never overwritten.
type KnownFields struct {
	Title    string
	Summary  string
	Category string
	Tags     []string
	// HasStatements is true when the submitter supplied atomic statements.
	HasStatements bool
}

// Generated holds the fields produced by one enrichment call. Only the
// requested fields are populated.
type Generated struct {
	Title    string   `json:"title,omitempty"`
	Summary  string   `json:"summary,omitempty"`
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`

	// RawStatements is the model's statement list before shape validation.
	RawStatements any `json:"atomic_statements,omitempty"`

	QualityScore *float64 `json:"quality_score,omitempty"`
}

// Enricher fills missing content fields and answers discovery's
// classification questions.
type Enricher interface {
	// Enrich generates the fields absent from known, from the raw text.
	Enrich(ctx context.Context, rawText string, known KnownFields) (*Generated, error)

	// ClassifyPressRoom judges whether a page is an official news/press
	// listing of an organization, as a second opinion on the structural
	// heuristics.
	ClassifyPressRoom(ctx context.Context, pageTitle, pageText string) (bool, error)

	// InferOrganization names the organization a story originates from and
	// its likely official website.
	InferOrganization(ctx context.Context, headline, snippet string) (org string, website string, err error)
}

type enricher struct {
	client llm.LLMClient
	logger *zap.Logger
}

var _ Enricher = (*enricher)(nil)

// NewEnricher creates an LLM-backed Enricher.
func NewEnricher(client llm.LLMClient, logger *zap.Logger) Enricher {
	return &enricher{
		client: client,
		logger: logger.Named("enricher"),
	}
}

const enrichSystemPrompt = `You extract structured metadata from raw content.
Respond with a single JSON object containing exactly the requested keys and
nothing else. atomic_statements, when requested, is an array of objects with
keys "order" (1-based integer), "type" ("fact", "quote" or "context"),
"speaker" (string or null) and "text" (non-empty string). quality_score, when
requested, is a number between 0 and 1 rating substance and specificity.`

func (e *enricher) Enrich(ctx context.Context, rawText string, known KnownFields) (*Generated, error) {
	missing := missingFields(known)
	if len(missing) == 0 {
		return &Generated{}, nil
	}

	prompt := fmt.Sprintf("Requested keys: %s\n\nContent:\n%s",
		strings.Join(missing, ", "), truncateForPrompt(rawText, 8000))

	response, err := e.client.GenerateResponse(ctx, prompt, enrichSystemPrompt, 0.2)
	if err != nil {
		return nil, fmt.Errorf("enrichment request failed: %w", err)
	}

	payload, err := llm.ExtractJSON(response)
	if err != nil {
		return nil, fmt.Errorf("enrichment returned no JSON: %w", err)
	}

	var generated Generated
	if err := json.Unmarshal([]byte(payload), &generated); err != nil {
		return nil, fmt.Errorf("failed to parse enrichment response: %w", err)
	}

	e.logger.Debug("enriched content", zap.Strings("generated", missing))
	return &generated, nil
}

func missingFields(known KnownFields) []string {
	var missing []string
	if known.Title == "" {
		missing = append(missing, "title")
	}
	if known.Summary == "" {
		missing = append(missing, "summary")
	}
	if known.Category == "" {
		missing = append(missing, "category")
	}
	if len(known.Tags) == 0 {
		missing = append(missing, "tags")
	}
	if !known.HasStatements {
		missing = append(missing, "atomic_statements")
	}
	missing = append(missing, "quality_score")
	return missing
}

const pressRoomSystemPrompt = `You classify web pages. Respond with a single
JSON object: {"is_press_room": true|false}. A press room is an organization's
own news, press-release or announcements listing page, not a third-party news
site and not an individual article.`

func (e *enricher) ClassifyPressRoom(ctx context.Context, pageTitle, pageText string) (bool, error) {
	prompt := fmt.Sprintf("Page title: %s\n\nPage text:\n%s",
		pageTitle, truncateForPrompt(pageText, 4000))

	response, err := e.client.GenerateResponse(ctx, prompt, pressRoomSystemPrompt, 0.0)
	if err != nil {
		return false, fmt.Errorf("press room classification failed: %w", err)
	}

	payload, err := llm.ExtractJSON(response)
	if err != nil {
		return false, fmt.Errorf("press room classification returned no JSON: %w", err)
	}

	var verdict struct {
		IsPressRoom bool `json:"is_press_room"`
	}
	if err := json.Unmarshal([]byte(payload), &verdict); err != nil {
		return false, fmt.Errorf("failed to parse press room verdict: %w", err)
	}
	return verdict.IsPressRoom, nil
}

const inferOrgSystemPrompt = `You identify the originating organization of a
news story. Respond with a single JSON object:
{"organization": "...", "website": "https://..."}. The website must be the
organization's own official site, not a news outlet. Use an empty string when
unsure.`

func (e *enricher) InferOrganization(ctx context.Context, headline, snippet string) (string, string, error) {
	prompt := fmt.Sprintf("Headline: %s\nSnippet: %s", headline, snippet)

	response, err := e.client.GenerateResponse(ctx, prompt, inferOrgSystemPrompt, 0.0)
	if err != nil {
		return "", "", fmt.Errorf("organization inference failed: %w", err)
	}

	payload, err := llm.ExtractJSON(response)
	if err != nil {
		return "", "", fmt.Errorf("organization inference returned no JSON: %w", err)
	}

	var inferred struct {
		Organization string `json:"organization"`
		Website      string `json:"website"`
	}
	if err := json.Unmarshal([]byte(payload), &inferred); err != nil {
		return "", "", fmt.Errorf("failed to parse organization inference: %w", err)
	}
	return inferred.Organization, inferred.Website, nil
}

// HeuristicQuality scores content without an LLM round trip: longer texts
// with more extracted statements score higher, saturating at 2000 characters
// and 5 statements.
func HeuristicQuality(rawText string, statementCount int) float64 {
	lengthScore := float64(len(rawText)) / 2000.0
	if lengthScore > 1 {
		lengthScore = 1
	}
	statementScore := float64(statementCount) / 5.0
	if statementScore > 1 {
		statementScore = 1
	}
	return 0.6*lengthScore + 0.4*statementScore
}

// truncateForPrompt cuts text to at most max bytes without splitting a rune.
func truncateForPrompt(text string, max int) string {
	if len(text) <= max {
		return text
	}
	for max > 0 && !utf8.RuneStart(text[max]) {
		max--
	}
	return text[:max]
}
