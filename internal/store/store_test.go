package store

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestStoreOpenAndMigrate(t *testing.T) {
	tmpFile := "test-store.db"
	defer os.Remove(tmpFile)
	defer os.Remove(tmpFile + "-shm")
	defer os.Remove(tmpFile + "-wal")

	store, err := Open(tmpFile)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	version, err := store.getSchemaVersion()
	if err != nil {
		t.Fatalf("failed to get schema version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("expected schema version %d, got %d", currentSchemaVersion, version)
	}

	tables := []string{"batches", "tracks", "schema_version"}
	for _, table := range tables {
		var count int
		err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("expected table %s to exist", table)
		}
	}

	v2Indexes := []string{"idx_tracks_status_updated", "idx_tracks_batch_status"}
	for _, index := range v2Indexes {
		var count int
		err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", index).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query index %s: %v", index, err)
		}
		if count != 1 {
			t.Errorf("expected index %s to exist (schema v2)", index)
		}
	}
}

func TestBatchInsertAndRetrieve(t *testing.T) {
	tmpFile := "test-batches.db"
	defer os.Remove(tmpFile)
	defer os.Remove(tmpFile + "-shm")
	defer os.Remove(tmpFile + "-wal")

	store, err := Open(tmpFile)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	b := &Batch{
		ID:             uuid.NewString(),
		SourceURL:      "https://music.example/playlist/abc123",
		SourcePlatform: "example-catalog",
		State:          BatchExtracting,
	}

	if err := store.InsertBatch(b); err != nil {
		t.Fatalf("failed to insert batch: %v", err)
	}

	retrieved, err := store.GetBatch(b.ID)
	if err != nil {
		t.Fatalf("failed to retrieve batch: %v", err)
	}
	if retrieved == nil {
		t.Fatal("expected to retrieve batch, got nil")
	}
	if retrieved.SourceURL != b.SourceURL {
		t.Errorf("expected SourceURL %s, got %s", b.SourceURL, retrieved.SourceURL)
	}
	if retrieved.State != BatchExtracting {
		t.Errorf("expected state %s, got %s", BatchExtracting, retrieved.State)
	}

	b.State = BatchDownloading
	b.TotalTracks = 12
	if err := store.UpdateBatch(b); err != nil {
		t.Fatalf("failed to update batch: %v", err)
	}

	retrieved, err = store.GetBatch(b.ID)
	if err != nil {
		t.Fatalf("failed to retrieve batch after update: %v", err)
	}
	if retrieved.State != BatchDownloading {
		t.Errorf("expected state %s, got %s", BatchDownloading, retrieved.State)
	}
	if retrieved.TotalTracks != 12 {
		t.Errorf("expected TotalTracks 12, got %d", retrieved.TotalTracks)
	}
}

func TestGetBatchMissing(t *testing.T) {
	tmpFile := "test-batch-missing.db"
	defer os.Remove(tmpFile)
	defer os.Remove(tmpFile + "-shm")
	defer os.Remove(tmpFile + "-wal")

	store, err := Open(tmpFile)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	b, err := store.GetBatch(uuid.NewString())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b != nil {
		t.Error("expected nil for missing batch")
	}
}

func TestTrackBulkInsertAndQueue(t *testing.T) {
	tmpFile := "test-tracks.db"
	defer os.Remove(tmpFile)
	defer os.Remove(tmpFile + "-shm")
	defer os.Remove(tmpFile + "-wal")

	store, err := Open(tmpFile)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	batch := &Batch{ID: uuid.NewString(), SourceURL: "https://music.example/album/xyz", SourcePlatform: "example-catalog", State: BatchExtracting}
	if err := store.InsertBatch(batch); err != nil {
		t.Fatalf("failed to insert batch: %v", err)
	}

	tracks := []*Track{
		{ID: uuid.NewString(), BatchID: batch.ID, Fingerprint: "fp-1", Title: "Track One", Artist: "Artist A", SourcePlatform: "example-catalog"},
		{ID: uuid.NewString(), BatchID: batch.ID, Fingerprint: "fp-2", Title: "Track Two", Artist: "Artist A", SourcePlatform: "example-catalog"},
	}
	inserted, err := store.InsertTracksBulk(tracks)
	if err != nil {
		t.Fatalf("failed to bulk insert tracks: %v", err)
	}
	if inserted != 2 {
		t.Errorf("expected 2 rows inserted, got %d", inserted)
	}

	all, err := store.GetTracksForBatch(batch.ID)
	if err != nil {
		t.Fatalf("failed to list tracks: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(all))
	}
	for _, tr := range all {
		if tr.Status != TrackExtracted {
			t.Errorf("expected default status %s, got %s", TrackExtracted, tr.Status)
		}
	}

	all[0].Status = TrackQueued
	if err := store.UpdateTrack(all[0]); err != nil {
		t.Fatalf("failed to update track: %v", err)
	}

	queued, err := store.GetQueuedTracks(10)
	if err != nil {
		t.Fatalf("failed to get queued tracks: %v", err)
	}
	if len(queued) != 1 {
		t.Fatalf("expected 1 queued track, got %d", len(queued))
	}
	if queued[0].ID != all[0].ID {
		t.Errorf("expected queued track %s, got %s", all[0].ID, queued[0].ID)
	}

	count, err := store.CountTracksByStatus(batch.ID, TrackExtracted)
	if err != nil {
		t.Fatalf("failed to count tracks: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 remaining EXTRACTED track, got %d", count)
	}
}

func TestDuplicateFingerprintIsIgnored(t *testing.T) {
	tmpFile := "test-dup-fingerprint.db"
	defer os.Remove(tmpFile)
	defer os.Remove(tmpFile + "-shm")
	defer os.Remove(tmpFile + "-wal")

	store, err := Open(tmpFile)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	batch := &Batch{ID: uuid.NewString(), SourceURL: "https://music.example/album/dup", SourcePlatform: "example-catalog", State: BatchExtracting}
	if err := store.InsertBatch(batch); err != nil {
		t.Fatalf("failed to insert batch: %v", err)
	}

	dup := []*Track{
		{ID: uuid.NewString(), BatchID: batch.ID, Fingerprint: "same-song", Title: "A", Artist: "A", SourcePlatform: "example-catalog"},
		{ID: uuid.NewString(), BatchID: batch.ID, Fingerprint: "same-song", Title: "A (live)", Artist: "A", SourcePlatform: "example-catalog"},
	}
	inserted, err := store.InsertTracksBulk(dup)
	if err != nil {
		t.Fatalf("failed to bulk insert tracks: %v", err)
	}
	if inserted != 1 {
		t.Errorf("expected only 1 row actually inserted (the other collapses via ON CONFLICT), got %d", inserted)
	}

	all, err := store.GetTracksForBatch(batch.ID)
	if err != nil {
		t.Fatalf("failed to list tracks: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected duplicate fingerprint to collapse to 1 row, got %d", len(all))
	}
}

func TestGetStalledTracks(t *testing.T) {
	tmpFile := "test-stalled.db"
	defer os.Remove(tmpFile)
	defer os.Remove(tmpFile + "-shm")
	defer os.Remove(tmpFile + "-wal")

	store, err := Open(tmpFile)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	batch := &Batch{ID: uuid.NewString(), SourceURL: "https://music.example/album/stall", SourcePlatform: "example-catalog", State: BatchDownloading}
	if err := store.InsertBatch(batch); err != nil {
		t.Fatalf("failed to insert batch: %v", err)
	}
	track := &Track{ID: uuid.NewString(), BatchID: batch.ID, Fingerprint: "fp-stall", Title: "Stuck", Artist: "Artist", SourcePlatform: "example-catalog"}
	if _, err := store.InsertTracksBulk([]*Track{track}); err != nil {
		t.Fatalf("failed to insert track: %v", err)
	}

	track.Status = TrackDownloading
	if err := store.UpdateTrack(track); err != nil {
		t.Fatalf("failed to update track: %v", err)
	}

	// Not yet stale relative to a generous cutoff.
	fresh, err := store.GetStalledTracks(time.Hour)
	if err != nil {
		t.Fatalf("failed to query stalled tracks: %v", err)
	}
	if len(fresh) != 0 {
		t.Errorf("expected 0 stalled tracks under a 1h cutoff, got %d", len(fresh))
	}

	// A negative olderThan puts the cutoff in the future, so the row just
	// updated already counts as stalled.
	stalled, err := store.GetStalledTracks(-time.Hour)
	if err != nil {
		t.Fatalf("failed to query stalled tracks: %v", err)
	}
	if len(stalled) != 1 {
		t.Errorf("expected 1 stalled track, got %d", len(stalled))
	}
}
