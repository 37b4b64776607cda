package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/franz/batchdl/internal/extract"
	"github.com/franz/batchdl/internal/gateway"
	"github.com/franz/batchdl/internal/httpx"
	"github.com/franz/batchdl/internal/mapper"
	"github.com/franz/batchdl/internal/orchestrator"
	"github.com/franz/batchdl/internal/resolver"
	"github.com/franz/batchdl/internal/segdl"
	"github.com/franz/batchdl/internal/store"
)

type fakeExtractor struct {
	candidates []extract.TrackCandidate
}

func (f *fakeExtractor) Extract(ctx context.Context, rawURL string) []extract.TrackCandidate {
	return f.candidates
}

func (f *fakeExtractor) Platform() string { return "test" }

type fakePrimaryExtractor struct{ streamURL string }

func (f *fakePrimaryExtractor) FetchStreams(ctx context.Context, sourceID string) ([]resolver.StreamOption, error) {
	return []resolver.StreamOption{{URL: f.streamURL, BitrateKbps: 128, IsAudioOnly: true}}, nil
}

type fakeSearchClient struct {
	results []mapper.SearchResult
	err     error
}

func (f *fakeSearchClient) Search(ctx context.Context, query string) ([]mapper.SearchResult, error) {
	return f.results, f.err
}

func newTestRouter(t *testing.T, extractor extract.Extractor, search mapper.SearchClient, streamURL string) (*Router, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	client := httpx.New()
	mpr := mapper.New(search)
	res := resolver.New(client, &fakePrimaryExtractor{streamURL: streamURL}, nil)
	dl := segdl.New(client)
	musicDir := t.TempDir()

	o := orchestrator.New(st, func(string) extract.Extractor { return extractor }, mpr, res, dl, nil, musicDir)
	gw := gateway.New(o)
	return NewRouter(o, gw, search, musicDir), musicDir
}

func doJSON(t *testing.T, router *Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHandleSearchReturnsErrorOnEmptyQuery(t *testing.T) {
	router, _ := newTestRouter(t, &fakeExtractor{}, &fakeSearchClient{}, "")
	rec := doJSON(t, router, http.MethodPost, "/api/search", map[string]string{"query": ""})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected HTTP 200, got %d", rec.Code)
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["error"] == "" {
		t.Error("expected an in-band error for an empty query")
	}
}

func TestHandleSearchReturnsBestResult(t *testing.T) {
	search := &fakeSearchClient{results: []mapper.SearchResult{
		{VideoID: "v1", URL: "https://example.test/v1", Title: "Song One", DurationSec: 180},
		{VideoID: "v2", URL: "https://example.test/v2", Title: "Song Two", DurationSec: 200},
	}}
	router, _ := newTestRouter(t, &fakeExtractor{}, search, "")
	rec := doJSON(t, router, http.MethodPost, "/api/search", map[string]string{"query": "song one"})
	var resp suggestion
	decodeBody(t, rec, &resp)
	if resp.Title != "Song One" || resp.URL != "https://example.test/v1" {
		t.Errorf("expected the first result, got %+v", resp)
	}
}

func TestHandleSuggestionsReturnsArray(t *testing.T) {
	search := &fakeSearchClient{results: []mapper.SearchResult{
		{Title: "A", URL: "u1"},
		{Title: "B", URL: "u2"},
	}}
	router, _ := newTestRouter(t, &fakeExtractor{}, search, "")
	rec := doJSON(t, router, http.MethodPost, "/api/suggestions", map[string]string{"query": "x"})
	var resp []suggestion
	decodeBody(t, rec, &resp)
	if len(resp) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(resp))
	}
}

func TestHandleDownloadReturnsTaskID(t *testing.T) {
	router, _ := newTestRouter(t, &fakeExtractor{}, &fakeSearchClient{}, "")
	rec := doJSON(t, router, http.MethodPost, "/api/download", map[string]string{"url": "https://example.test/song", "title": "X", "codec": "mp3"})
	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["task_id"] == "" {
		t.Error("expected a non-empty task_id")
	}
}

func TestHandleImportRejectsEmptyURL(t *testing.T) {
	router, _ := newTestRouter(t, &fakeExtractor{}, &fakeSearchClient{}, "")
	rec := doJSON(t, router, http.MethodPost, "/api/import", map[string]string{"url": ""})
	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["success"] != false {
		t.Errorf("expected success=false, got %+v", resp)
	}
}

func TestHandleImportAndListRoundTrip(t *testing.T) {
	extractor := &fakeExtractor{candidates: []extract.TrackCandidate{
		{Title: "Track", Artist: "Artist", SourceVideoID: "vid-1"},
	}}
	router, _ := newTestRouter(t, extractor, &fakeSearchClient{}, "https://example.test/stream")
	rec := doJSON(t, router, http.MethodPost, "/api/import", map[string]string{"url": "https://example.test/playlist/1"})
	var importResp map[string]any
	decodeBody(t, rec, &importResp)
	if importResp["success"] != true {
		t.Fatalf("expected success=true, got %+v", importResp)
	}

	listRec := doJSON(t, router, http.MethodGet, "/api/import/list", nil)
	var batches []batchDTO
	decodeBody(t, listRec, &batches)
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}

	statusRec := doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/import/status/%s", batches[0].ID), nil)
	var status importStatusResponse
	decodeBody(t, statusRec, &status)
	if len(status.Tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(status.Tracks))
	}
}

func TestHandleImportActionRejectsUnknownTrack(t *testing.T) {
	router, _ := newTestRouter(t, &fakeExtractor{}, &fakeSearchClient{}, "")
	rec := doJSON(t, router, http.MethodPost, "/api/import/action", map[string]string{"track_id": "nope", "action": "accept", "video_id": "v1"})
	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["success"] != false {
		t.Errorf("expected success=false for an unknown track, got %+v", resp)
	}
}

func TestHandleLibraryListsFilesAndSkipsTransient(t *testing.T) {
	router, musicDir := newTestRouter(t, &fakeExtractor{}, &fakeSearchClient{}, "")
	if err := os.WriteFile(filepath.Join(musicDir, "Song.mp3"), []byte("fake audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(musicDir, "Other.tmp"), []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, router, http.MethodGet, "/api/library", nil)
	var items []libraryItem
	decodeBody(t, rec, &items)
	if len(items) != 1 || items[0].Filename != "Song.mp3" {
		t.Fatalf("expected only Song.mp3 to be listed, got %+v", items)
	}
	if items[0].Codec != "mp3" {
		t.Errorf("expected codec mp3, got %q", items[0].Codec)
	}
}

func TestHandleMusicServesFileContent(t *testing.T) {
	router, musicDir := newTestRouter(t, &fakeExtractor{}, &fakeSearchClient{}, "")
	content := []byte("fake audio bytes")
	if err := os.WriteFile(filepath.Join(musicDir, "Song.mp3"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, router, http.MethodGet, "/api/music/Song.mp3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != string(content) {
		t.Errorf("expected served content to match file, got %q", rec.Body.String())
	}
}

func TestHandleMusicRejectsPathTraversal(t *testing.T) {
	router, _ := newTestRouter(t, &fakeExtractor{}, &fakeSearchClient{}, "")
	rec := doJSON(t, router, http.MethodGet, "/api/music/..%2F..%2Fetc%2Fpasswd", nil)
	if rec.Code == http.StatusOK {
		t.Error("expected path traversal attempt to not serve 200 with file content")
	}
}

func TestHandleDeleteRemovesFile(t *testing.T) {
	router, musicDir := newTestRouter(t, &fakeExtractor{}, &fakeSearchClient{}, "")
	path := filepath.Join(musicDir, "Song.mp3")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, router, http.MethodPost, "/api/delete", map[string]string{"filename": "Song.mp3"})
	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["success"] != true {
		t.Fatalf("expected success=true, got %+v", resp)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected file to be removed")
	}
}
