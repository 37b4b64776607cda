package store

// Schema v1 - Batch/Track persistence for the download orchestration engine
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- A submitted playlist/album import unit
CREATE TABLE IF NOT EXISTS batches (
  id TEXT PRIMARY KEY,
  source_url TEXT NOT NULL,
  source_platform TEXT NOT NULL,
  state TEXT NOT NULL DEFAULT 'EXTRACTING',
  total_tracks INTEGER NOT NULL DEFAULT 0,
  completed_count INTEGER NOT NULL DEFAULT 0,
  failed_count INTEGER NOT NULL DEFAULT 0,
  error_code TEXT,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_batches_state ON batches(state);

-- A single song within a batch, tracked through its own lifecycle
CREATE TABLE IF NOT EXISTS tracks (
  id TEXT PRIMARY KEY,
  batch_id TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
  fingerprint TEXT NOT NULL,
  title TEXT NOT NULL,
  artist TEXT NOT NULL,
  duration_seconds INTEGER,
  thumbnail_url TEXT,
  source_platform TEXT NOT NULL,
  source_video_id TEXT,
  match_confidence REAL,
  status TEXT NOT NULL DEFAULT 'EXTRACTED',
  retry_count INTEGER NOT NULL DEFAULT 0,
  bytes_downloaded INTEGER NOT NULL DEFAULT 0,
  total_bytes INTEGER NOT NULL DEFAULT 0,
  output_file_path TEXT,
  quality_kbps INTEGER NOT NULL DEFAULT 320,
  codec TEXT NOT NULL DEFAULT 'mp3',
  uploader TEXT,
  error_code TEXT,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tracks_batch_id ON tracks(batch_id);
CREATE INDEX IF NOT EXISTS idx_tracks_status ON tracks(status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tracks_batch_fingerprint ON tracks(batch_id, fingerprint);
`

// Schema v2 - Performance indexes for the queue scan and watchdog sweep,
// added once the dispatch loop and crash-recovery pass needed efficient
// "oldest row in status X" lookups instead of full table scans.
const schemaV2 = `
CREATE INDEX IF NOT EXISTS idx_tracks_status_updated ON tracks(status, updated_at);
CREATE INDEX IF NOT EXISTS idx_tracks_batch_status ON tracks(batch_id, status);
`
