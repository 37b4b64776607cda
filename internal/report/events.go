package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/franz/batchdl/internal/util"
)

// EventType represents the type of event
type EventType string

const (
	EventExtract   EventType = "extract"
	EventMatch     EventType = "match"
	EventDispatch  EventType = "dispatch"
	EventDownload  EventType = "download"
	EventRateLimit EventType = "rate_limit"
	EventWatchdog  EventType = "watchdog"
	EventRecover   EventType = "recover"
	EventError     EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event represents a single event in the Batch Manager's pipeline.
type Event struct {
	Timestamp     time.Time         `json:"ts"`
	Level         EventLevel        `json:"level"`
	Event         EventType         `json:"event"`
	BatchID       string            `json:"batch_id,omitempty"`
	TrackID       string            `json:"track_id,omitempty"`
	SourceURL     string            `json:"source_url,omitempty"`
	DestPath      string            `json:"dest_path,omitempty"`
	Confidence    float64           `json:"confidence,omitempty"`
	Action        string            `json:"action,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	BytesWritten  int64             `json:"bytes_written,omitempty"`
	Duration      int64             `json:"duration_ms,omitempty"` // in milliseconds
	Error         string            `json:"error,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
}

// NewEventLogger creates a new event logger with a minimum log level
// minLevel determines which events are written (e.g., LevelInfo skips LevelDebug)
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	// Create output directory if it doesn't exist
	if err := util.RetryableMkdirAll(outputDir, 0755, util.NASRetryConfig()); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	// Generate filename with timestamp
	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("events-%s.jsonl", timestamp)
	path := filepath.Join(outputDir, filename)

	// Open file for writing
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
	}, nil
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil // Silently ignore if logger not initialized
	}

	// Filter by minimum level
	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil // Skip events below minimum level
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// LogExtract logs a Batch extraction outcome: how many candidates the
// Catalog Extractor produced for sourceURL, or the failure if it
// produced none.
func (l *EventLogger) LogExtract(batchID, sourceURL string, trackCount int, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}

	return l.Log(&Event{
		Level:     level,
		Event:     EventExtract,
		BatchID:   batchID,
		SourceURL: sourceURL,
		Error:     errMsg,
		Extra: map[string]string{
			"track_count": fmt.Sprintf("%d", trackCount),
		},
	})
}

// LogMatch logs a Track Mapper resolution: the confidence score the
// matched candidate scored, and whether it fell short of the mapper's
// confidence cutoff (mapper.CurrentConfidenceCutoff).
func (l *EventLogger) LogMatch(trackID, title string, confidence float64, lowConfidence bool) error {
	level := LevelInfo
	if lowConfidence {
		level = LevelWarning
	}

	return l.Log(&Event{
		Level:      level,
		Event:      EventMatch,
		TrackID:    trackID,
		Confidence: confidence,
		Extra: map[string]string{
			"title":          title,
			"low_confidence": fmt.Sprintf("%t", lowConfidence),
		},
	})
}

// LogDispatch logs a Track entering the worker pool for download.
func (l *EventLogger) LogDispatch(trackID, sourceVideoID string) error {
	return l.Log(&Event{
		Level:   LevelInfo,
		Event:   EventDispatch,
		TrackID: trackID,
		Extra: map[string]string{
			"source_video_id": sourceVideoID,
		},
	})
}

// LogDownload logs a download attempt's outcome: bytes written,
// elapsed time, and the resulting error if any.
func (l *EventLogger) LogDownload(trackID, destPath string, bytesWritten int64, duration time.Duration, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}

	return l.Log(&Event{
		Level:        level,
		Event:        EventDownload,
		TrackID:      trackID,
		DestPath:     destPath,
		BytesWritten: bytesWritten,
		Duration:     duration.Milliseconds(),
		Error:        errMsg,
	})
}

// LogRateLimit logs a 429/403 from the stream host, and how long the
// global cooldown it triggered will last.
func (l *EventLogger) LogRateLimit(trackID string, statusCode int, cooldown time.Duration) error {
	return l.Log(&Event{
		Level:   LevelWarning,
		Event:   EventRateLimit,
		TrackID: trackID,
		Extra: map[string]string{
			"status_code":  fmt.Sprintf("%d", statusCode),
			"cooldown_sec": fmt.Sprintf("%.0f", cooldown.Seconds()),
		},
	})
}

// LogWatchdog logs the watchdog reclaiming a stalled Track or
// self-healing an invariant breach.
func (l *EventLogger) LogWatchdog(trackID, reason string) error {
	return l.Log(&Event{
		Level:   LevelWarning,
		Event:   EventWatchdog,
		TrackID: trackID,
		Reason:  reason,
	})
}

// LogRecover logs a crash-recovery action taken against a Track found
// mid-transition at startup.
func (l *EventLogger) LogRecover(batchID, trackID, reason string) error {
	return l.Log(&Event{
		Level:   LevelWarning,
		Event:   EventRecover,
		BatchID: batchID,
		TrackID: trackID,
		Reason:  reason,
	})
}

// LogError logs an error event
func (l *EventLogger) LogError(event EventType, trackID string, err error) error {
	return l.Log(&Event{
		Level:   LevelError,
		Event:   event,
		TrackID: trackID,
		Error:   err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}
