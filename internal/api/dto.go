package api

import (
	"time"

	"github.com/franz/batchdl/internal/mapper"
	"github.com/franz/batchdl/internal/store"
)

type suggestion struct {
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Duration  int    `json:"duration"`
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail"`
}

func suggestionFromResult(r mapper.SearchResult) suggestion {
	return suggestion{
		Title:     r.Title,
		Duration:  r.DurationSec,
		URL:       r.URL,
		Thumbnail: r.ThumbnailURL,
	}
}

type batchDTO struct {
	ID             string    `json:"id"`
	SourceURL      string    `json:"source_url"`
	SourcePlatform string    `json:"source_platform"`
	State          string    `json:"state"`
	TotalTracks    int       `json:"total_tracks"`
	CompletedCount int       `json:"completed_count"`
	FailedCount    int       `json:"failed_count"`
	ErrorCode      string    `json:"error_code,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toBatchDTO(b *store.Batch) batchDTO {
	return batchDTO{
		ID:             b.ID,
		SourceURL:      b.SourceURL,
		SourcePlatform: b.SourcePlatform,
		State:          string(b.State),
		TotalTracks:    b.TotalTracks,
		CompletedCount: b.CompletedCount,
		FailedCount:    b.FailedCount,
		ErrorCode:      b.ErrorCode,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

type trackDTO struct {
	ID              string  `json:"id"`
	BatchID         string  `json:"batch_id"`
	Title           string  `json:"title"`
	Artist          string  `json:"artist"`
	DurationSeconds int     `json:"duration_seconds"`
	ThumbnailURL    string  `json:"thumbnail_url,omitempty"`
	SourcePlatform  string  `json:"source_platform"`
	SourceVideoID   string  `json:"source_video_id,omitempty"`
	MatchConfidence float64 `json:"match_confidence"`
	Status          string  `json:"status"`
	RetryCount      int     `json:"retry_count"`
	BytesDownloaded int64   `json:"bytes_downloaded"`
	TotalBytes      int64   `json:"total_bytes"`
	OutputFilePath  string  `json:"output_file_path,omitempty"`
	Codec           string  `json:"codec"`
	ErrorCode       string  `json:"error_code,omitempty"`
}

func toTrackDTO(t *store.Track) trackDTO {
	return trackDTO{
		ID:              t.ID,
		BatchID:         t.BatchID,
		Title:           t.Title,
		Artist:          t.Artist,
		DurationSeconds: t.DurationSeconds,
		ThumbnailURL:    t.ThumbnailURL,
		SourcePlatform:  t.SourcePlatform,
		SourceVideoID:   t.SourceVideoID,
		MatchConfidence: t.MatchConfidence,
		Status:          string(t.Status),
		RetryCount:      t.RetryCount,
		BytesDownloaded: t.BytesDownloaded,
		TotalBytes:      t.TotalBytes,
		OutputFilePath:  t.OutputFilePath,
		Codec:           t.Codec,
		ErrorCode:       t.ErrorCode,
	}
}

type importStatusResponse struct {
	Batch  batchDTO   `json:"batch"`
	Tracks []trackDTO `json:"tracks"`
}

type libraryItem struct {
	Filename  string `json:"filename"`
	Title     string `json:"title"`
	SizeHuman string `json:"size_human"`
	Codec     string `json:"codec"`
}
