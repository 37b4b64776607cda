package resolver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
)

type fakePrimary struct {
	calls   atomic.Int64
	options []StreamOption
	err     error
}

func (f *fakePrimary) FetchStreams(ctx context.Context, sourceID string) ([]StreamOption, error) {
	f.calls.Add(1)
	return f.options, f.err
}

func TestResolvePicksHighestBitrateAudio(t *testing.T) {
	primary := &fakePrimary{options: []StreamOption{
		{URL: "low", BitrateKbps: 64, IsAudioOnly: true},
		{URL: "high", BitrateKbps: 256, IsAudioOnly: true},
		{URL: "video", BitrateKbps: 1000, IsAudioOnly: false},
	}}
	r := New(&http.Client{}, primary, nil)

	url, err := r.Resolve(context.Background(), "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "high" {
		t.Errorf("expected highest-bitrate audio stream, got %s", url)
	}
}

func TestResolveFallsBackToVideoWhenNoAudio(t *testing.T) {
	primary := &fakePrimary{options: []StreamOption{
		{URL: "video1", IsAudioOnly: false},
		{URL: "video2", IsAudioOnly: false},
	}}
	r := New(&http.Client{}, primary, nil)

	url, err := r.Resolve(context.Background(), "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "video1" {
		t.Errorf("expected first video stream, got %s", url)
	}
}

func TestResolveCachesResult(t *testing.T) {
	primary := &fakePrimary{options: []StreamOption{{URL: "cached-url", IsAudioOnly: true, BitrateKbps: 128}}}
	r := New(&http.Client{}, primary, nil)

	if _, err := r.Resolve(context.Background(), "abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.IsCached("abc") {
		t.Error("expected source id to be cached after resolution")
	}

	if _, err := r.Resolve(context.Background(), "abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.calls.Load() != 1 {
		t.Errorf("expected primary to be called once (second call served from cache), got %d", primary.calls.Load())
	}
}

func TestResolveReturnsErrorWhenAllMethodsFail(t *testing.T) {
	primary := &fakePrimary{err: errors.New("boom")}
	r := New(&http.Client{}, primary, nil)

	_, err := r.Resolve(context.Background(), "abc")
	if !errors.Is(err, ErrAllMethodsFailed) {
		t.Errorf("expected ErrAllMethodsFailed, got %v", err)
	}
}

func TestConcurrentResolveDeduplicates(t *testing.T) {
	primary := &fakePrimary{options: []StreamOption{{URL: "deduped", IsAudioOnly: true, BitrateKbps: 128}}}
	r := New(&http.Client{}, primary, nil)

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			url, err := r.Resolve(context.Background(), "shared-id")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[idx] = url
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		if got != "deduped" {
			t.Errorf("expected all concurrent resolutions to get the same URL, got %q", got)
		}
	}
}

func TestIsCachedFalseBeforeResolution(t *testing.T) {
	primary := &fakePrimary{}
	r := New(&http.Client{}, primary, nil)
	if r.IsCached("never-resolved") {
		t.Error("expected IsCached to be false before any resolution")
	}
}
