package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/franz/batchdl/internal/extract"
	"github.com/franz/batchdl/internal/httpx"
	"github.com/franz/batchdl/internal/mapper"
	"github.com/franz/batchdl/internal/resolver"
	"github.com/franz/batchdl/internal/segdl"
	"github.com/franz/batchdl/internal/store"
)

type fakeExtractor struct {
	candidates []extract.TrackCandidate
	platform   string
}

func (f *fakeExtractor) Extract(ctx context.Context, rawURL string) []extract.TrackCandidate {
	return f.candidates
}

func (f *fakeExtractor) Platform() string { return f.platform }

type fakePrimaryExtractor struct {
	streamURL string
}

func (f *fakePrimaryExtractor) FetchStreams(ctx context.Context, sourceID string) ([]resolver.StreamOption, error) {
	return []resolver.StreamOption{{URL: f.streamURL, BitrateKbps: 128, IsAudioOnly: true}}, nil
}

type noResultsSearchClient struct{}

func (noResultsSearchClient) Search(ctx context.Context, query string) ([]mapper.SearchResult, error) {
	return nil, nil
}

// lowConfidenceSearchClient returns one surviving result whose title
// shares a single token with "Needs Manual Match" (Jaccard 1/5), so the
// mapper scores it below the confidence cutoff.
type lowConfidenceSearchClient struct{}

func (lowConfidenceSearchClient) Search(ctx context.Context, query string) ([]mapper.SearchResult, error) {
	return []mapper.SearchResult{{VideoID: "low-vid", Title: "Needs Something Else", DurationSec: 200}}, nil
}

func newTestOrchestrator(t *testing.T, extractor extract.Extractor, streamURL string) (*Orchestrator, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	client := httpx.New()
	mpr := mapper.New(noResultsSearchClient{})
	res := resolver.New(client, &fakePrimaryExtractor{streamURL: streamURL}, nil)
	dl := segdl.New(client)
	musicDir := t.TempDir()

	o := New(st, func(string) extract.Extractor { return extractor }, mpr, res, dl, nil, musicDir)
	return o, st
}

func fakeAudioServer(t *testing.T) *httptest.Server {
	t.Helper()
	body := []byte("fake audio bytes for a download test")
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			w.Write(body)
		}
	}))
}

func TestSubmitBatchRejectsEmptyExtraction(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeExtractor{platform: "test"}, "")
	_, err := o.SubmitBatch(context.Background(), "https://example.test/playlist/1", "test")
	if err != ErrExtractionFailed {
		t.Errorf("expected ErrExtractionFailed, got %v", err)
	}
}

func TestSubmitBatchRejectsOversizedExtraction(t *testing.T) {
	candidates := make([]extract.TrackCandidate, MaxBatchTracks+1)
	for i := range candidates {
		candidates[i] = extract.TrackCandidate{Title: fmt.Sprintf("Track %d", i), Artist: "Artist"}
	}
	o, _ := newTestOrchestrator(t, &fakeExtractor{platform: "test", candidates: candidates}, "")
	_, err := o.SubmitBatch(context.Background(), "https://example.test/playlist/big", "test")
	if err != ErrBatchTooLarge {
		t.Errorf("expected ErrBatchTooLarge, got %v", err)
	}
}

func TestSubmitBatchAndFullPipelineCompletesTrack(t *testing.T) {
	srv := fakeAudioServer(t)
	defer srv.Close()

	extractor := &fakeExtractor{
		platform: "test",
		candidates: []extract.TrackCandidate{
			{Title: "Known Track", Artist: "Artist A", SourceVideoID: "vid-1"},
		},
	}
	o, st := newTestOrchestrator(t, extractor, srv.URL)

	result, err := o.SubmitBatch(context.Background(), "https://example.test/playlist/1", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TrackCount != 1 {
		t.Fatalf("expected 1 track inserted, got %d", result.TrackCount)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := o.Start(ctx); err != nil {
		t.Fatalf("failed to start orchestrator: %v", err)
	}
	defer o.Stop()

	deadline := time.Now().Add(5 * time.Second)
	var batch *store.Batch
	for time.Now().Before(deadline) {
		batch, err = st.GetBatch(result.BatchID)
		if err != nil {
			t.Fatalf("unexpected error polling batch: %v", err)
		}
		if batch != nil && (batch.State == store.BatchCompleted || batch.State == store.BatchFailed) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if batch == nil || batch.State != store.BatchCompleted {
		t.Fatalf("expected batch to reach COMPLETED, got %+v", batch)
	}

	tracks, err := st.GetTracksForBatch(result.BatchID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tracks) != 1 || tracks[0].Status != store.TrackCompleted {
		t.Fatalf("expected 1 completed track, got %+v", tracks)
	}
	if tracks[0].OutputFilePath == "" {
		t.Error("expected a non-empty output_file_path on completion")
	}
}

func TestActionAcceptRequeuesTrack(t *testing.T) {
	srv := fakeAudioServer(t)
	defer srv.Close()

	extractor := &fakeExtractor{
		platform: "test",
		candidates: []extract.TrackCandidate{
			{Title: "Needs Manual Match", Artist: "Artist B"},
		},
	}
	o, st := newTestOrchestrator(t, extractor, srv.URL)
	o.mapper = mapper.New(lowConfidenceSearchClient{})

	result, err := o.SubmitBatch(context.Background(), "https://example.test/album/2", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var track *store.Track
	for time.Now().Before(deadline) {
		tracks, _ := st.GetTracksForBatch(result.BatchID)
		if len(tracks) == 1 && tracks[0].Status == store.TrackMatchedLowConfidence {
			track = tracks[0]
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if track == nil {
		t.Fatal("expected the track to end up MATCHED_LOW_CONFIDENCE after the matching phase")
	}

	ok, errMsg := o.Action(track.ID, "accept", "manual-vid-1")
	if !ok {
		t.Fatalf("expected Action(accept) to succeed, got error %q", errMsg)
	}

	updated, err := st.GetTrack(track.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != store.TrackQueued {
		t.Errorf("expected track to be QUEUED after accept, got %s", updated.Status)
	}
	if updated.SourceVideoID != "manual-vid-1" {
		t.Errorf("expected source_video_id to be overwritten, got %s", updated.SourceVideoID)
	}
}

func TestActionRejectsUnknownKind(t *testing.T) {
	o, st := newTestOrchestrator(t, &fakeExtractor{platform: "test"}, "")
	track := &store.Track{ID: "t1", BatchID: "b1", Fingerprint: "fp", Title: "X", Artist: "Y", SourcePlatform: "test", Status: store.TrackExtracted}
	batch := &store.Batch{ID: "b1", SourceURL: "u", SourcePlatform: "test", State: store.BatchMatching}
	if err := st.InsertBatch(batch); err != nil {
		t.Fatal(err)
	}
	if _, err := st.InsertTracksBulk([]*store.Track{track}); err != nil {
		t.Fatal(err)
	}

	ok, _ := o.Action(track.ID, "bogus", "")
	if ok {
		t.Error("expected unknown action kind to fail")
	}
}

func TestRecomputeBatchMarksFailedWhenAllTracksFail(t *testing.T) {
	o, st := newTestOrchestrator(t, &fakeExtractor{platform: "test"}, "")
	batch := &store.Batch{ID: "b2", SourceURL: "u", SourcePlatform: "test", State: store.BatchMatching}
	if err := st.InsertBatch(batch); err != nil {
		t.Fatal(err)
	}
	track := &store.Track{ID: "t2", BatchID: "b2", Fingerprint: "fp2", Title: "X", Artist: "Y", SourcePlatform: "test", Status: store.TrackFailed}
	if _, err := st.InsertTracksBulk([]*store.Track{track}); err != nil {
		t.Fatal(err)
	}
	// InsertTracksBulk keeps the FAILED status set above; UpdateTrack writes
	// it once more through the same path the orchestrator's transitions use.
	if err := st.UpdateTrack(track); err != nil {
		t.Fatal(err)
	}

	o.recomputeBatch("b2")

	updated, err := st.GetBatch("b2")
	if err != nil {
		t.Fatal(err)
	}
	if updated.State != store.BatchFailed {
		t.Errorf("expected FAILED, got %s", updated.State)
	}
}
