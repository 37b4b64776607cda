package segdl

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

func TestClassifyStatusOKAndPartial(t *testing.T) {
	if err := classifyStatus(http.StatusOK); err != nil {
		t.Errorf("expected nil for 200, got %v", err)
	}
	if err := classifyStatus(http.StatusPartialContent); err != nil {
		t.Errorf("expected nil for 206, got %v", err)
	}
}

func TestClassifyStatusRateLimited(t *testing.T) {
	for _, code := range []int{http.StatusTooManyRequests, http.StatusForbidden} {
		err := classifyStatus(code)
		var rle *RateLimitedError
		if err == nil {
			t.Fatalf("expected error for status %d", code)
		}
		if rl, ok := err.(*RateLimitedError); !ok {
			t.Errorf("expected *RateLimitedError for status %d, got %T", code, err)
		} else {
			rle = rl
			if rle.StatusCode != code {
				t.Errorf("expected StatusCode %d, got %d", code, rle.StatusCode)
			}
		}
	}
}

func TestClassifyStatusGenericDownloadError(t *testing.T) {
	err := classifyStatus(http.StatusInternalServerError)
	de, ok := err.(*DownloadError)
	if !ok {
		t.Fatalf("expected *DownloadError, got %T", err)
	}
	if de.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected StatusCode 500, got %d", de.StatusCode)
	}
}

func TestPlanSegmentsCoversFullRangeWithoutGaps(t *testing.T) {
	length := int64(10_000_003)
	segments := planSegments(length)
	if len(segments) != NSegments {
		t.Fatalf("expected %d segments, got %d", NSegments, len(segments))
	}
	if segments[0].start != 0 {
		t.Errorf("expected first segment to start at 0, got %d", segments[0].start)
	}
	for i := 1; i < len(segments); i++ {
		if segments[i].start != segments[i-1].end+1 {
			t.Errorf("gap between segment %d (end=%d) and segment %d (start=%d)", i-1, segments[i-1].end, i, segments[i].start)
		}
	}
	last := segments[len(segments)-1]
	if last.end != length-1 {
		t.Errorf("expected last segment to end at %d, got %d", length-1, last.end)
	}
}

func TestThrottledReporterFlushReportsFinalTotal(t *testing.T) {
	var lastDownloaded int64
	calls := 0
	reporter := newThrottledReporter(1000, func(total, downloaded int64, bps float64) {
		calls++
		lastDownloaded = downloaded
	})
	reporter.add(500)
	reporter.flush()
	if calls == 0 {
		t.Fatal("expected at least one progress callback")
	}
	if lastDownloaded != 500 {
		t.Errorf("expected flush to report 500 bytes downloaded, got %d", lastDownloaded)
	}
}

func TestConcatSegmentsPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	seg0 := filepath.Join(dir, "part.seg0")
	seg1 := filepath.Join(dir, "part.seg1")
	if err := os.WriteFile(seg0, []byte("hello "), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(seg1, []byte("world"), 0o644); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(dir, "part.tmp")
	if err := concatSegments([]string{seg0, seg1}, dest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Errorf("expected %q, got %q", "hello world", string(got))
	}
}
