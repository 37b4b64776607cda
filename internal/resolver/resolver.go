// Package resolver turns a video-platform source-id into a short-lived
// direct stream URL, caching results and deduplicating concurrent
// resolutions of the same id, with an ordered mirror-instance fallback
// when the primary extraction method fails.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/franz/batchdl/internal/util"
)

// CacheTTL is how long a resolved URL stays valid in the cache.
const CacheTTL = time.Hour

// PendingTimeout bounds how long a caller waits on someone else's
// in-flight resolution before giving up.
const PendingTimeout = 30 * time.Second

// ErrAllMethodsFailed is returned when the primary extractor and every
// mirror instance failed to produce a stream URL.
var ErrAllMethodsFailed = errors.New("all extraction methods failed")

// StreamOption is one candidate stream a primary extraction or mirror
// response offers.
type StreamOption struct {
	URL          string
	BitrateKbps  int
	IsAudioOnly  bool
}

// PrimaryExtractor fetches fresh stream metadata for a source-id from the
// video platform itself.
type PrimaryExtractor interface {
	FetchStreams(ctx context.Context, sourceID string) ([]StreamOption, error)
}

type cacheEntry struct {
	url string
	ts  time.Time
}

type pendingFuture struct {
	done chan struct{}
	url  string
	err  error
}

// Resolver caches resolved stream URLs and serializes concurrent lookups
// of the same source-id through a pending-future map.
type Resolver struct {
	httpClient *http.Client
	primary    PrimaryExtractor
	mirrors    atomic.Pointer[[]string]

	cache   sync.Map // source_id -> cacheEntry
	pending sync.Map // source_id -> *pendingFuture
}

func New(httpClient *http.Client, primary PrimaryExtractor, mirrors []string) *Resolver {
	r := &Resolver{httpClient: httpClient, primary: primary}
	r.mirrors.Store(&mirrors)
	return r
}

// SetMirrors swaps the ordered mirror-instance fallback list without
// disturbing any resolution in flight, so a live config edit is picked
// up by the next call to resolveFresh.
func (r *Resolver) SetMirrors(mirrors []string) {
	r.mirrors.Store(&mirrors)
}

// IsCached reports whether source_id has an unexpired cache entry.
func (r *Resolver) IsCached(sourceID string) bool {
	v, ok := r.cache.Load(sourceID)
	if !ok {
		return false
	}
	entry := v.(cacheEntry)
	return time.Since(entry.ts) < CacheTTL
}

// Resolve returns a direct stream URL for sourceID, consulting the
// cache, any in-flight resolution, and finally performing a fresh
// extraction with mirror fallback.
func (r *Resolver) Resolve(ctx context.Context, sourceID string) (string, error) {
	if v, ok := r.cache.Load(sourceID); ok {
		entry := v.(cacheEntry)
		if time.Since(entry.ts) < CacheTTL {
			return entry.url, nil
		}
		r.cache.Delete(sourceID)
	}

	if v, ok := r.pending.Load(sourceID); ok {
		future := v.(*pendingFuture)
		select {
		case <-future.done:
			if future.err == nil {
				return future.url, nil
			}
		case <-time.After(PendingTimeout):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	future := &pendingFuture{done: make(chan struct{})}
	actual, loaded := r.pending.LoadOrStore(sourceID, future)
	if loaded {
		// Someone else registered between our Load and LoadOrStore; wait on theirs.
		other := actual.(*pendingFuture)
		select {
		case <-other.done:
			if other.err == nil {
				return other.url, nil
			}
			return "", other.err
		case <-time.After(PendingTimeout):
			return "", ErrAllMethodsFailed
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	url, err := r.resolveFresh(ctx, sourceID)
	future.url = url
	future.err = err
	close(future.done)
	r.pending.Delete(sourceID)
	return url, err
}

// Prefetch is an idempotent fire-and-forget resolution: it does not
// duplicate work when a fresh cache entry or an in-flight resolution
// already exists for sourceID.
func (r *Resolver) Prefetch(sourceID string) {
	if r.IsCached(sourceID) {
		return
	}
	if _, inFlight := r.pending.Load(sourceID); inFlight {
		return
	}
	go func() {
		_, err := r.Resolve(context.Background(), sourceID)
		if err != nil {
			util.DebugLog("resolver: prefetch for %s failed: %v", sourceID, err)
		}
	}()
}

func (r *Resolver) resolveFresh(ctx context.Context, sourceID string) (string, error) {
	if options, err := r.primary.FetchStreams(ctx, sourceID); err == nil {
		if url := pickBest(options); url != "" {
			r.cache.Store(sourceID, cacheEntry{url: url, ts: time.Now()})
			return url, nil
		}
	} else {
		util.WarnLog("resolver: primary extraction failed for %s: %v", sourceID, err)
	}

	for _, instance := range *r.mirrors.Load() {
		url, err := util.RetryWithBackoff(util.DefaultRetryConfig(), func() (string, error) {
			return r.tryMirror(ctx, instance, sourceID)
		}, fmt.Sprintf("mirror(%s)", instance))
		if err != nil {
			util.DebugLog("resolver: mirror %s failed for %s: %v", instance, sourceID, err)
			continue
		}
		r.cache.Store(sourceID, cacheEntry{url: url, ts: time.Now()})
		return url, nil
	}

	return "", ErrAllMethodsFailed
}

type mirrorStreamsResponse struct {
	Streams []struct {
		URL         string `json:"url"`
		BitrateKbps int    `json:"bitrate_kbps"`
		AudioOnly   bool   `json:"audio_only"`
	} `json:"streams"`
}

func (r *Resolver) tryMirror(ctx context.Context, instance, sourceID string) (string, error) {
	endpoint := fmt.Sprintf("%s/streams/%s", instance, sourceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mirror returned %d", resp.StatusCode)
	}

	var payload mirrorStreamsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}

	best := ""
	bestBitrate := -1
	for _, s := range payload.Streams {
		if !s.AudioOnly {
			continue
		}
		if s.BitrateKbps > bestBitrate {
			bestBitrate = s.BitrateKbps
			best = s.URL
		}
	}
	if best == "" {
		return "", errors.New("mirror returned no audio-only stream")
	}
	return best, nil
}

// pickBest chooses the audio stream with the highest average bitrate,
// falling back to the first video stream if none is audio-only.
func pickBest(options []StreamOption) string {
	bestAudio := ""
	bestAudioBitrate := -1
	var firstVideo string

	for _, opt := range options {
		if opt.IsAudioOnly {
			if opt.BitrateKbps > bestAudioBitrate {
				bestAudioBitrate = opt.BitrateKbps
				bestAudio = opt.URL
			}
		} else if firstVideo == "" {
			firstVideo = opt.URL
		}
	}

	if bestAudio != "" {
		return bestAudio
	}
	return firstVideo
}
