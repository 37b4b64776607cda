// Package api is the HTTP facade, per spec.md §6: JSON in/out over
// localhost, no authentication, errors arriving in-band as {error}
// at HTTP 200.
package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/franz/batchdl/internal/extract"
	"github.com/franz/batchdl/internal/gateway"
	"github.com/franz/batchdl/internal/mapper"
	"github.com/franz/batchdl/internal/orchestrator"
	"github.com/franz/batchdl/internal/util"
)

// Router registers every spec.md §6 endpoint on a stdlib ServeMux.
type Router struct {
	mux      *http.ServeMux
	orc      *orchestrator.Orchestrator
	gw       *gateway.Gateway
	search   mapper.SearchClient
	musicDir string
	log      *util.Logger
}

func NewRouter(orc *orchestrator.Orchestrator, gw *gateway.Gateway, search mapper.SearchClient, musicDir string) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		orc:      orc,
		gw:       gw,
		search:   search,
		musicDir: musicDir,
		log:      util.NewLogger("api"),
	}
	r.routes()
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) routes() {
	r.mux.HandleFunc("POST /api/search", r.handleSearch)
	r.mux.HandleFunc("POST /api/suggestions", r.handleSuggestions)
	r.mux.HandleFunc("POST /api/download", r.handleDownload)
	r.mux.HandleFunc("POST /api/prefetch", r.handlePrefetch)
	r.mux.HandleFunc("GET /api/progress/{id}", r.handleProgress)
	r.mux.HandleFunc("POST /api/import", r.handleImport)
	r.mux.HandleFunc("GET /api/import/list", r.handleImportList)
	r.mux.HandleFunc("GET /api/import/status/{id}", r.handleImportStatus)
	r.mux.HandleFunc("POST /api/import/action", r.handleImportAction)
	r.mux.HandleFunc("GET /api/library", r.handleLibrary)
	r.mux.HandleFunc("GET /api/music/{filename}", r.handleMusic)
	r.mux.HandleFunc("POST /api/delete", r.handleDelete)
}

func decodeJSON(req *http.Request, v any) error {
	defer req.Body.Close()
	return json.NewDecoder(req.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		util.ErrorLog("api: encode response: %v", err)
	}
}

func (r *Router) handleSearch(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Query string `json:"query"`
	}
	if err := decodeJSON(req, &body); err != nil || strings.TrimSpace(body.Query) == "" {
		writeJSON(w, map[string]string{"error": "query required"})
		return
	}
	results, err := r.search.Search(req.Context(), body.Query)
	if err != nil || len(results) == 0 {
		writeJSON(w, map[string]string{"error": "no results"})
		return
	}
	writeJSON(w, suggestionFromResult(results[0]))
}

func (r *Router) handleSuggestions(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Query string `json:"query"`
	}
	if err := decodeJSON(req, &body); err != nil || strings.TrimSpace(body.Query) == "" {
		writeJSON(w, []suggestion{})
		return
	}
	results, err := r.search.Search(req.Context(), body.Query)
	if err != nil {
		writeJSON(w, []suggestion{})
		return
	}
	out := make([]suggestion, 0, len(results))
	for _, res := range results {
		out = append(out, suggestionFromResult(res))
	}
	writeJSON(w, out)
}

func (r *Router) handleDownload(w http.ResponseWriter, req *http.Request) {
	var body struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Quality string `json:"quality"`
		Codec   string `json:"codec"`
	}
	if err := decodeJSON(req, &body); err != nil || body.URL == "" {
		writeJSON(w, map[string]string{"error": "url required"})
		return
	}
	codec := body.Codec
	if codec == "" {
		codec = "mp3"
	}
	taskID := uuid.NewString()
	r.orc.StartDownloadTask(taskID, body.URL, body.Title, codec)
	writeJSON(w, map[string]string{"task_id": taskID})
}

func (r *Router) handlePrefetch(w http.ResponseWriter, req *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(req, &body); err != nil || body.URL == "" {
		writeJSON(w, map[string]any{"prefetching": false, "cached": false})
		return
	}
	cached, err := r.orc.PrefetchURL(req.Context(), body.URL)
	if err != nil {
		writeJSON(w, map[string]any{"prefetching": false, "cached": false, "error": err.Error()})
		return
	}
	writeJSON(w, map[string]any{"prefetching": true, "cached": cached})
}

func (r *Router) handleProgress(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	tp, ok := r.orc.Progress(id)
	if !ok {
		writeJSON(w, map[string]string{"error": "task not found"})
		return
	}
	resp := map[string]any{"status": tp.Status, "percent": tp.Percent}
	if tp.Result != "" {
		resp["result"] = tp.Result
	}
	if tp.Error != "" {
		resp["error"] = tp.Error
	}
	writeJSON(w, resp)
}

func (r *Router) handleImport(w http.ResponseWriter, req *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(req, &body); err != nil || strings.TrimSpace(body.URL) == "" {
		writeJSON(w, map[string]any{"success": false, "error": "url required"})
		return
	}
	platform := extract.PlatformHint(body.URL)
	result, err := r.orc.SubmitBatch(req.Context(), body.URL, platform)
	if err != nil {
		writeJSON(w, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, map[string]any{"success": true, "trackCount": result.TrackCount})
}

func (r *Router) handleImportList(w http.ResponseWriter, req *http.Request) {
	batches, err := r.orc.ListBatches()
	if err != nil {
		writeJSON(w, map[string]string{"error": err.Error()})
		return
	}
	out := make([]batchDTO, 0, len(batches))
	for _, b := range batches {
		out = append(out, toBatchDTO(b))
	}
	writeJSON(w, out)
}

func (r *Router) handleImportStatus(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	batch, tracks, err := r.orc.GetBatchStatus(id)
	if err != nil {
		writeJSON(w, map[string]string{"error": err.Error()})
		return
	}
	if batch == nil {
		writeJSON(w, map[string]string{"error": "batch not found"})
		return
	}
	trackDTOs := make([]trackDTO, 0, len(tracks))
	for _, t := range tracks {
		trackDTOs = append(trackDTOs, toTrackDTO(t))
	}
	writeJSON(w, importStatusResponse{Batch: toBatchDTO(batch), Tracks: trackDTOs})
}

func (r *Router) handleImportAction(w http.ResponseWriter, req *http.Request) {
	var body struct {
		TrackID string `json:"track_id"`
		Action  string `json:"action"`
		VideoID string `json:"video_id"`
	}
	if err := decodeJSON(req, &body); err != nil || body.TrackID == "" || body.Action == "" {
		writeJSON(w, map[string]any{"success": false, "error": "track_id and action required"})
		return
	}
	resp := r.gw.Action(body.TrackID, gateway.Kind(body.Action), body.VideoID)
	if resp.Error != "" {
		writeJSON(w, map[string]any{"success": resp.Success, "error": resp.Error})
		return
	}
	writeJSON(w, map[string]any{"success": resp.Success})
}

func (r *Router) handleLibrary(w http.ResponseWriter, req *http.Request) {
	entries, err := os.ReadDir(r.musicDir)
	if err != nil {
		writeJSON(w, map[string]string{"error": err.Error()})
		return
	}
	items := make([]libraryItem, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || isTransientFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		ext := strings.TrimPrefix(filepath.Ext(e.Name()), ".")
		title := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		codec := ext
		if tagTitle, tagFormat, ok := readEmbeddedTag(filepath.Join(r.musicDir, e.Name())); ok {
			if tagTitle != "" {
				title = tagTitle
			}
			if tagFormat != "" {
				codec = tagFormat
			}
		}
		items = append(items, libraryItem{
			Filename:  e.Name(),
			Title:     title,
			SizeHuman: humanize.Bytes(uint64(info.Size())),
			Codec:     codec,
		})
	}
	writeJSON(w, items)
}

// readEmbeddedTag reads the title and container format dhowden/tag can
// recover from a finished download's ID3/Vorbis/MP4 tags. Most files
// this orchestrator writes carry no tags at all (the source stream
// rarely embeds any), so a read failure just falls back to the
// filename-derived title and the file extension.
func readEmbeddedTag(path string) (title, format string, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", false
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return "", "", false
	}
	return m.Title(), strings.ToLower(string(m.FileType())), true
}

func isTransientFile(name string) bool {
	return strings.HasSuffix(name, ".tmp") || strings.Contains(name, ".seg")
}

// safeMusicPath confines filename to musicDir: filepath.Base strips
// any directory components, so "../../etc/passwd" resolves to just
// "passwd" inside musicDir rather than escaping it.
func safeMusicPath(musicDir, filename string) (string, error) {
	clean := filepath.Base(filename)
	if clean == "" || clean == "." || clean == ".." {
		return "", os.ErrInvalid
	}
	return filepath.Join(musicDir, clean), nil
}

func (r *Router) handleMusic(w http.ResponseWriter, req *http.Request) {
	filename := req.PathValue("filename")
	path, err := safeMusicPath(r.musicDir, filename)
	if err != nil {
		http.Error(w, "invalid filename", http.StatusBadRequest)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		http.NotFound(w, req)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.NotFound(w, req)
		return
	}
	http.ServeContent(w, req, filename, info.ModTime(), f)
}

func (r *Router) handleDelete(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Filename string `json:"filename"`
	}
	if err := decodeJSON(req, &body); err != nil || body.Filename == "" {
		writeJSON(w, map[string]any{"success": false, "error": "filename required"})
		return
	}
	path, err := safeMusicPath(r.musicDir, body.Filename)
	if err != nil {
		writeJSON(w, map[string]any{"success": false, "error": "invalid filename"})
		return
	}
	if err := os.Remove(path); err != nil {
		writeJSON(w, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, map[string]any{"success": true})
}
