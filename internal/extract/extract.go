// Package extract turns a playlist/album URL into an ordered list of
// track candidates, trying the variant appropriate to the source
// platform and falling through to scraping when the structured path
// fails.
package extract

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/franz/batchdl/internal/util"
)

// MaxCandidates bounds how many candidates a single extraction may yield.
const MaxCandidates = 500

// TrackCandidate is one entry a Catalog Extractor produces. SourceVideoID
// is only set by variant A (the video platform's own playlist API),
// enabling the Track Mapper's fast path.
type TrackCandidate struct {
	Title          string
	Artist         string
	DurationSec    *int
	ThumbnailURL   string
	SourceVideoID  string
}

// Extractor produces an ordered sequence of TrackCandidate from a source
// URL. Failure is reported as an empty slice; errors never propagate.
type Extractor interface {
	Extract(ctx context.Context, rawURL string) []TrackCandidate
	Platform() string
}

// Resolve sniffs rawURL and returns the Extractor variant appropriate to
// its source platform: variant A for the video platform itself, variant B
// for the authenticated streaming catalog, variant C (scrape-only) for
// everything else.
func Resolve(client *http.Client, mirrorBase string, clientID, clientSecret string) func(rawURL string) Extractor {
	a := &VariantA{client: client}
	b := &VariantB{client: client, apiBase: mirrorBase, clientID: clientID, clientSecret: clientSecret}
	c := &VariantC{client: client}

	return func(rawURL string) Extractor {
		host := hostOf(rawURL)
		switch {
		case strings.Contains(host, "youtube") || strings.Contains(host, "youtu.be"):
			return a
		case strings.Contains(host, "spotify") || strings.Contains(host, "music.apple"):
			return b
		default:
			return c
		}
	}
}

// PlatformHint sniffs rawURL the same way Resolve does, without
// constructing an Extractor, so callers that need a display-only
// platform tag before extraction runs (e.g. the HTTP facade's
// /api/import) don't have to build one.
func PlatformHint(rawURL string) string {
	host := hostOf(rawURL)
	switch {
	case strings.Contains(host, "youtube") || strings.Contains(host, "youtu.be"):
		return "video-platform"
	case strings.Contains(host, "spotify") || strings.Contains(host, "music.apple"):
		return "streaming-catalog"
	default:
		return "scrape-only"
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// capAndLog truncates candidates to MaxCandidates, logging when it does.
func capAndLog(platform string, candidates []TrackCandidate) []TrackCandidate {
	if len(candidates) <= MaxCandidates {
		return candidates
	}
	util.WarnLog("extract[%s]: truncating %d candidates to %d", platform, len(candidates), MaxCandidates)
	return candidates[:MaxCandidates]
}
