package store

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertBatch inserts a new batch record. Batch.ID must already be set by
// the caller (an opaque UUID minted before the row exists).
func (s *Store) InsertBatch(b *Batch) error {
	_, err := s.db.Exec(`
		INSERT INTO batches (id, source_url, source_platform, state, total_tracks, completed_count, failed_count, error_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.SourceURL, b.SourcePlatform, string(b.State), b.TotalTracks, b.CompletedCount, b.FailedCount, nullableString(b.ErrorCode))

	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

// UpdateBatch persists the mutable fields of a batch: state, counters and
// error_code. updated_at is stamped server-side.
func (s *Store) UpdateBatch(b *Batch) error {
	_, err := s.db.Exec(`
		UPDATE batches SET
			state = ?, total_tracks = ?, completed_count = ?, failed_count = ?,
			error_code = ?, updated_at = ?
		WHERE id = ?
	`, string(b.State), b.TotalTracks, b.CompletedCount, b.FailedCount,
		nullableString(b.ErrorCode), time.Now(), b.ID)

	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	return nil
}

// GetBatch retrieves a batch by ID, returning (nil, nil) if not found.
func (s *Store) GetBatch(id string) (*Batch, error) {
	b := &Batch{}
	var errorCode sql.NullString
	var state string
	err := s.db.QueryRow(`
		SELECT id, source_url, source_platform, state, total_tracks,
		       completed_count, failed_count, error_code, created_at, updated_at
		FROM batches WHERE id = ?
	`, id).Scan(
		&b.ID, &b.SourceURL, &b.SourcePlatform, &state, &b.TotalTracks,
		&b.CompletedCount, &b.FailedCount, &errorCode, &b.CreatedAt, &b.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	b.State = BatchState(state)
	b.ErrorCode = errorCode.String
	return b, nil
}

// ListBatches returns all batches, most recently created first.
func (s *Store) ListBatches() ([]*Batch, error) {
	rows, err := s.db.Query(`
		SELECT id, source_url, source_platform, state, total_tracks,
		       completed_count, failed_count, error_code, created_at, updated_at
		FROM batches
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		b := &Batch{}
		var errorCode sql.NullString
		var state string
		if err := rows.Scan(
			&b.ID, &b.SourceURL, &b.SourcePlatform, &state, &b.TotalTracks,
			&b.CompletedCount, &b.FailedCount, &errorCode, &b.CreatedAt, &b.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		b.State = BatchState(state)
		b.ErrorCode = errorCode.String
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// GetBatchWithTracks retrieves a batch and every track belonging to it in
// one round trip, for the status-polling API endpoint.
func (s *Store) GetBatchWithTracks(id string) (*Batch, []*Track, error) {
	b, err := s.GetBatch(id)
	if err != nil || b == nil {
		return b, nil, err
	}
	tracks, err := s.GetTracksForBatch(id)
	if err != nil {
		return nil, nil, err
	}
	return b, tracks, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
