// Package similarity provides the text fingerprinting and distance functions
// used by change detection and deduplication: whitespace-collapsing
// normalization, 64-bit simhash, Hamming similarity, token Jaccard overlap
// and cosine similarity over embedding vectors.
package similarity

import (
	"hash/fnv"
	"math"
	"math/bits"
	"strings"
	"unicode"

	"github.com/contexta-ai/contexta-engine/pkg/apperrors"
)

// NormalizeText lowercases, collapses runs of whitespace into single spaces
// and strips control characters. Normalized text is the input to both the
// exact hash and the simhash, so cosmetic whitespace edits never register as
// changes.
func NormalizeText(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

// Tokenize splits normalized text into lowercase alphanumeric tokens.
func Tokenize(text string) []string {
	normalized := NormalizeText(text)
	if normalized == "" {
		return nil
	}

	parts := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// Simhash64 computes a 64-bit locality-sensitive fingerprint of the text.
// Small edits flip few bits. The second return is false when the text has no
// tokens to fingerprint.
func Simhash64(text string) (uint64, bool) {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return 0, false
	}

	var bitWeights [64]int
	for _, token := range tokens {
		h := hashToken64(token)
		for bit := 0; bit < 64; bit++ {
			if h&(uint64(1)<<bit) != 0 {
				bitWeights[bit]++
			} else {
				bitWeights[bit]--
			}
		}
	}

	var result uint64
	for bit := 0; bit < 64; bit++ {
		if bitWeights[bit] > 0 {
			result |= uint64(1) << bit
		}
	}
	return result, true
}

func hashToken64(token string) uint64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(token))
	return hasher.Sum64()
}

// HammingSimilarity maps the Hamming distance between two simhashes onto
// [0,1], where 1 means identical fingerprints.
func HammingSimilarity(a, b uint64) float64 {
	return 1 - float64(bits.OnesCount64(a^b))/64
}

// TokenJaccard computes the Jaccard overlap of the token sets of two strings.
// Used for feed-title recent-duplicate checks.
func TokenJaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range Tokenize(text) {
		set[t] = true
	}
	return set
}

// Cosine computes the cosine similarity of two embedding vectors.
// Vectors of differing lengths fail fast with ErrDimensionMismatch; callers
// must not coerce.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, apperrors.ErrDimensionMismatch
	}
	if len(a) == 0 {
		return 0, nil
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
