package store

import (
	"database/sql"
	"fmt"
	"time"
)

const trackColumns = `
	id, batch_id, fingerprint, title, artist, duration_seconds, thumbnail_url,
	source_platform, source_video_id, match_confidence, status, retry_count,
	bytes_downloaded, total_bytes, output_file_path, quality_kbps, codec,
	uploader, error_code, created_at, updated_at
`

func scanTrack(row interface {
	Scan(dest ...interface{}) error
}) (*Track, error) {
	t := &Track{}
	var (
		status        string
		thumbnailURL  sql.NullString
		sourceVideoID sql.NullString
		matchConf     sql.NullFloat64
		outputPath    sql.NullString
		uploader      sql.NullString
		errorCode     sql.NullString
	)
	err := row.Scan(
		&t.ID, &t.BatchID, &t.Fingerprint, &t.Title, &t.Artist, &t.DurationSeconds, &thumbnailURL,
		&t.SourcePlatform, &sourceVideoID, &matchConf, &status, &t.RetryCount,
		&t.BytesDownloaded, &t.TotalBytes, &outputPath, &t.QualityKbps, &t.Codec,
		&uploader, &errorCode, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = TrackStatus(status)
	t.ThumbnailURL = thumbnailURL.String
	t.SourceVideoID = sourceVideoID.String
	t.MatchConfidence = matchConf.Float64
	t.OutputFilePath = outputPath.String
	t.Uploader = uploader.String
	t.ErrorCode = errorCode.String
	return t, nil
}

// InsertTracksBulk inserts every extracted track for a batch inside a
// single transaction. Tracks arrive pre-fingerprinted and pre-ID'd.
// A fingerprint collision within the same batch (the same song appearing
// twice in a playlist) is swallowed via ON CONFLICT DO NOTHING rather than
// failing the whole batch.
func (s *Store) InsertTracksBulk(tracks []*Track) (int, error) {
	inserted := 0
	err := s.Transaction(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO tracks (
				id, batch_id, fingerprint, title, artist, duration_seconds, thumbnail_url,
				source_platform, status, quality_kbps, codec
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(batch_id, fingerprint) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare track insert: %w", err)
		}
		defer stmt.Close()

		for _, t := range tracks {
			if t.Status == "" {
				t.Status = TrackExtracted
			}
			if t.QualityKbps == 0 {
				t.QualityKbps = 320
			}
			if t.Codec == "" {
				t.Codec = "mp3"
			}
			result, err := stmt.Exec(
				t.ID, t.BatchID, t.Fingerprint, t.Title, t.Artist, t.DurationSeconds, nullableString(t.ThumbnailURL),
				t.SourcePlatform, string(t.Status), t.QualityKbps, t.Codec,
			)
			if err != nil {
				return fmt.Errorf("failed to insert track %s: %w", t.ID, err)
			}
			if affected, err := result.RowsAffected(); err == nil {
				inserted += int(affected)
			}
		}
		return nil
	})
	return inserted, err
}

// UpdateTrack persists the mutable fields of a track after a state
// transition: status, match/resolve results, retry count and progress.
func (s *Store) UpdateTrack(t *Track) error {
	_, err := s.db.Exec(`
		UPDATE tracks SET
			status = ?, source_video_id = ?, match_confidence = ?, retry_count = ?,
			bytes_downloaded = ?, total_bytes = ?, output_file_path = ?,
			uploader = ?, error_code = ?, updated_at = ?
		WHERE id = ?
	`, string(t.Status), nullableString(t.SourceVideoID), t.MatchConfidence, t.RetryCount,
		t.BytesDownloaded, t.TotalBytes, nullableString(t.OutputFilePath),
		nullableString(t.Uploader), nullableString(t.ErrorCode), time.Now(), t.ID)

	if err != nil {
		return fmt.Errorf("failed to update track: %w", err)
	}
	return nil
}

// GetTrack retrieves a single track by ID, returning (nil, nil) if absent.
func (s *Store) GetTrack(id string) (*Track, error) {
	row := s.db.QueryRow(`SELECT `+trackColumns+` FROM tracks WHERE id = ?`, id)
	t, err := scanTrack(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get track: %w", err)
	}
	return t, nil
}

// GetTracksForBatch returns every track in a batch, insertion order.
func (s *Store) GetTracksForBatch(batchID string) ([]*Track, error) {
	rows, err := s.db.Query(`SELECT `+trackColumns+` FROM tracks WHERE batch_id = ? ORDER BY created_at`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()
	return scanTrackRows(rows)
}

// GetQueuedTracks returns up to limit tracks in QUEUED status, oldest
// updated_at first, so the dispatch loop drains the queue in FIFO order.
func (s *Store) GetQueuedTracks(limit int) ([]*Track, error) {
	rows, err := s.db.Query(`
		SELECT `+trackColumns+` FROM tracks
		WHERE status = ?
		ORDER BY updated_at ASC
		LIMIT ?
	`, string(TrackQueued), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query queued tracks: %w", err)
	}
	defer rows.Close()
	return scanTrackRows(rows)
}

// GetStalledTracks returns tracks left in DISPATCHING or DOWNLOADING from a
// prior process lifetime, whose updated_at predates the cutoff. Used by the
// startup crash-recovery pass and the periodic watchdog sweep.
func (s *Store) GetStalledTracks(olderThan time.Duration) ([]*Track, error) {
	cutoff := time.Now().Add(-olderThan)
	rows, err := s.db.Query(`
		SELECT `+trackColumns+` FROM tracks
		WHERE status IN (?, ?) AND updated_at < ?
		ORDER BY updated_at ASC
	`, string(TrackDispatching), string(TrackDownloading), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stalled tracks: %w", err)
	}
	defer rows.Close()
	return scanTrackRows(rows)
}

// CountTracksByStatus returns the number of tracks in a batch with a given status.
func (s *Store) CountTracksByStatus(batchID string, status TrackStatus) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM tracks WHERE batch_id = ? AND status = ?
	`, batchID, string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count tracks: %w", err)
	}
	return count, nil
}

func scanTrackRows(rows *sql.Rows) ([]*Track, error) {
	var tracks []*Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}
