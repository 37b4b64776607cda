// Package mapper resolves a catalog candidate lacking a downloadable
// source-id to one on the video platform, by search and confidence
// scoring.
package mapper

import (
	"context"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/franz/batchdl/internal/fingerprint"
)

// DefaultConfidenceCutoff is the minimum token-overlap confidence a match
// needs to be treated as MATCHED rather than MATCHED_LOW_CONFIDENCE, absent
// any runtime override.
const DefaultConfidenceCutoff = 0.75

var confidenceCutoff atomic.Value // float64

// CurrentConfidenceCutoff returns the cutoff in effect right now.
// SetConfidenceCutoff swaps it without restarting the process, so
// cmd/batchdl's config watcher can apply an edited threshold to
// in-flight matching.
func CurrentConfidenceCutoff() float64 {
	if v, ok := confidenceCutoff.Load().(float64); ok {
		return v
	}
	return DefaultConfidenceCutoff
}

func SetConfidenceCutoff(cutoff float64) {
	if cutoff <= 0 {
		cutoff = DefaultConfidenceCutoff
	}
	confidenceCutoff.Store(cutoff)
}

// MaxDurationSeconds rejects results longer than this (900s / 15min) as
// almost certainly not a single song.
const MaxDurationSeconds = 900

// SearchResult is one item the video platform's search returns.
type SearchResult struct {
	VideoID      string
	URL          string
	Title        string
	DurationSec  int
	IsShortForm  bool
	ThumbnailURL string
}

// SearchClient issues a single free-text query against the video
// platform and returns candidate results.
type SearchClient interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// rejectPattern matches titles that are almost certainly not the song
// itself. A policy knob: implementers may broaden or narrow this list.
var rejectPattern = regexp.MustCompile(`(?i)\b(shorts?|news|vlog|unboxing|review|trailer|tutorial|gameplay|podcast|match|highlights?|reaction|compilation|full album|full movie)\b`)

var shortFormURLPattern = regexp.MustCompile(`(?i)/shorts?/`)

// Mapper resolves (title, artist) pairs to a video-platform source-id.
type Mapper struct {
	client SearchClient
}

func New(client SearchClient) *Mapper {
	return &Mapper{client: client}
}

// Map issues one query "{title} {artist} song", filters survivors, and
// returns the first surviving candidate's source-id and a confidence
// score, or ("", 0) if nothing survives.
func (m *Mapper) Map(ctx context.Context, title, artist string) (sourceVideoID string, confidence float64) {
	query := strings.TrimSpace(title + " " + artist + " song")
	results, err := m.client.Search(ctx, query)
	if err != nil || len(results) == 0 {
		return "", 0
	}

	for _, r := range results {
		if !survives(r) {
			continue
		}
		return r.VideoID, tokenOverlap(title, r.Title)
	}
	return "", 0
}

func survives(r SearchResult) bool {
	if shortFormURLPattern.MatchString(r.URL) {
		return false
	}
	if r.IsShortForm {
		return false
	}
	if r.DurationSec > MaxDurationSeconds {
		return false
	}
	if rejectPattern.MatchString(r.Title) {
		return false
	}
	return true
}

// tokenOverlap is a Jaccard measure over sanitized-title token sets: a
// monotone, deterministic confidence score.
func tokenOverlap(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for token := range setA {
		if setB[token] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	tokens := strings.Fields(fingerprint.Sanitize(s))
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}
