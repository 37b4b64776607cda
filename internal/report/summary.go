package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/franz/batchdl/internal/store"
	"github.com/franz/batchdl/internal/util"
)

// SummaryReport is a point-in-time rollup of every batch the orchestrator
// has ever processed, suitable for a CLI "status" dump or a post-run
// report file.
type SummaryReport struct {
	GeneratedAt time.Time

	BatchesTotal     int
	BatchesCompleted int
	BatchesFailed    int
	BatchesActive    int

	TracksExtracted  int
	TracksMatched    int
	TracksAwaiting   int
	TracksDownloaded int
	TracksFailed     int

	BytesDownloaded int64

	TopErrors []ErrorSummary
	Batches   []BatchSummary

	EventLogPath string
}

// ErrorSummary represents an error code with its occurrence count.
type ErrorSummary struct {
	ErrorCode string
	Count     int
}

// BatchSummary is the per-batch detail shown in the report body.
type BatchSummary struct {
	ID             string
	SourceURL      string
	SourcePlatform string
	State          store.BatchState
	TotalTracks    int
	CompletedCount int
	FailedCount    int
	ErrorCode      string
}

// GenerateSummaryReport walks every batch in db and aggregates counts
// across their tracks. It is a read-only sweep: nothing here mutates
// orchestrator state.
func GenerateSummaryReport(db *store.Store, eventLogPath string) (*SummaryReport, error) {
	batches, err := db.ListBatches()
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}

	report := &SummaryReport{
		GeneratedAt:  time.Now(),
		EventLogPath: eventLogPath,
		TopErrors:    make([]ErrorSummary, 0),
		Batches:      make([]BatchSummary, 0, len(batches)),
	}
	report.BatchesTotal = len(batches)

	errorCounts := make(map[string]int)

	for _, b := range batches {
		switch b.State {
		case store.BatchCompleted:
			report.BatchesCompleted++
		case store.BatchFailed:
			report.BatchesFailed++
			if b.ErrorCode != "" {
				errorCounts[b.ErrorCode]++
			}
		default:
			report.BatchesActive++
		}

		report.Batches = append(report.Batches, BatchSummary{
			ID:             b.ID,
			SourceURL:      b.SourceURL,
			SourcePlatform: b.SourcePlatform,
			State:          b.State,
			TotalTracks:    b.TotalTracks,
			CompletedCount: b.CompletedCount,
			FailedCount:    b.FailedCount,
			ErrorCode:      b.ErrorCode,
		})

		tracks, err := db.GetTracksForBatch(b.ID)
		if err != nil {
			continue
		}
		for _, t := range tracks {
			report.TracksExtracted++
			switch t.Status {
			case store.TrackMatched, store.TrackMatchedLowConfidence:
				report.TracksMatched++
			case store.TrackMatchingManual:
				report.TracksAwaiting++
			case store.TrackCompleted:
				report.TracksDownloaded++
				report.BytesDownloaded += t.BytesDownloaded
			case store.TrackFailed:
				report.TracksFailed++
				if t.ErrorCode != "" {
					errorCounts[t.ErrorCode]++
				}
			}
		}
	}

	for code, count := range errorCounts {
		report.TopErrors = append(report.TopErrors, ErrorSummary{ErrorCode: code, Count: count})
	}
	sort.Slice(report.TopErrors, func(i, j int) bool {
		return report.TopErrors[i].Count > report.TopErrors[j].Count
	})
	if len(report.TopErrors) > 10 {
		report.TopErrors = report.TopErrors[:10]
	}

	return report, nil
}

// WriteMarkdownReport writes the summary report as Markdown.
func WriteMarkdownReport(report *SummaryReport, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := util.RetryableMkdirAll(dir, 0755, util.NASRetryConfig()); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var md strings.Builder

	md.WriteString("# Batch Download Engine - Summary Report\n\n")
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))
	if report.EventLogPath != "" {
		md.WriteString(fmt.Sprintf("**Event Log:** `%s`\n\n", report.EventLogPath))
	}
	md.WriteString("---\n\n")

	md.WriteString("## Overview\n\n")
	md.WriteString("| Metric | Value |\n")
	md.WriteString("|--------|-------|\n")
	md.WriteString(fmt.Sprintf("| Batches Total | %d |\n", report.BatchesTotal))
	md.WriteString(fmt.Sprintf("| Batches Completed | %d |\n", report.BatchesCompleted))
	if report.BatchesFailed > 0 {
		md.WriteString(fmt.Sprintf("| Batches Failed | %d |\n", report.BatchesFailed))
	}
	md.WriteString(fmt.Sprintf("| Batches Active | %d |\n", report.BatchesActive))
	md.WriteString("\n")

	md.WriteString("## Tracks\n\n")
	md.WriteString("| Metric | Value |\n")
	md.WriteString("|--------|-------|\n")
	md.WriteString(fmt.Sprintf("| Extracted | %d |\n", report.TracksExtracted))
	md.WriteString(fmt.Sprintf("| Matched | %d |\n", report.TracksMatched))
	if report.TracksAwaiting > 0 {
		md.WriteString(fmt.Sprintf("| Awaiting Manual Match | %d |\n", report.TracksAwaiting))
	}
	md.WriteString(fmt.Sprintf("| Downloaded | %d |\n", report.TracksDownloaded))
	if report.TracksFailed > 0 {
		md.WriteString(fmt.Sprintf("| Failed | %d |\n", report.TracksFailed))
	}
	md.WriteString(fmt.Sprintf("| Bytes Downloaded | %s |\n", humanize.Bytes(uint64(report.BytesDownloaded))))
	md.WriteString("\n")

	if len(report.Batches) > 0 {
		md.WriteString("## Batches\n\n")
		md.WriteString("| Source | State | Tracks | Completed | Failed |\n")
		md.WriteString("|--------|-------|--------|-----------|--------|\n")
		for _, b := range report.Batches {
			md.WriteString(fmt.Sprintf("| `%s` | %s | %d | %d | %d |\n",
				truncatePath(b.SourceURL, 60), b.State, b.TotalTracks, b.CompletedCount, b.FailedCount))
		}
		md.WriteString("\n")
	}

	if len(report.TopErrors) > 0 {
		md.WriteString("## Top Errors\n\n")
		md.WriteString("| Count | Error Code |\n")
		md.WriteString("|-------|------------|\n")
		for _, err := range report.TopErrors {
			md.WriteString(fmt.Sprintf("| %d | %s |\n", err.Count, err.ErrorCode))
		}
		md.WriteString("\n")
	}

	md.WriteString("---\n\n")

	if err := os.WriteFile(outputPath, []byte(md.String()), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}

// truncatePath truncates a string to a maximum length, keeping the start
// and end and collapsing the middle, so long URLs stay scannable in a
// fixed-width Markdown table.
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	start := maxLen/2 - 2
	end := len(path) - (maxLen/2 - 2)
	return path[:start] + "..." + path[end:]
}
