package orchestrator

import (
	"testing"

	"github.com/franz/batchdl/internal/store"
)

func TestCanTransitionPermittedEdges(t *testing.T) {
	cases := []struct {
		from, to store.TrackStatus
		want     bool
	}{
		{store.TrackExtracted, store.TrackMatching, true},
		{store.TrackExtracted, store.TrackQueued, true},
		{store.TrackMatching, store.TrackMatchedLowConfidence, true},
		{store.TrackQueued, store.TrackDispatching, true},
		{store.TrackDispatching, store.TrackDownloading, true},
		{store.TrackDownloading, store.TrackQueued, true},
		{store.TrackFailed, store.TrackQueued, true},
		{store.TrackCompleted, store.TrackQueued, false},
		{store.TrackExtracted, store.TrackCompleted, false},
		{store.TrackMatching, store.TrackDispatching, false},
	}
	for _, c := range cases {
		if got := canTransition(c.from, c.to); got != c.want {
			t.Errorf("canTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestDeriveBatchStateAllCompleted(t *testing.T) {
	tracks := []*store.Track{
		{Status: store.TrackCompleted},
		{Status: store.TrackCompleted},
	}
	if got := deriveBatchState(tracks); got != store.BatchCompleted {
		t.Errorf("expected COMPLETED, got %s", got)
	}
}

func TestDeriveBatchStateAllFailed(t *testing.T) {
	tracks := []*store.Track{
		{Status: store.TrackFailed},
		{Status: store.TrackFailed},
	}
	if got := deriveBatchState(tracks); got != store.BatchFailed {
		t.Errorf("expected FAILED, got %s", got)
	}
}

func TestDeriveBatchStateAwaitingUser(t *testing.T) {
	tracks := []*store.Track{
		{Status: store.TrackCompleted},
		{Status: store.TrackMatchedLowConfidence},
	}
	if got := deriveBatchState(tracks); got != store.BatchAwaitingUser {
		t.Errorf("expected AWAITING_USER, got %s", got)
	}
}

func TestDeriveBatchStateDownloadingWhenActive(t *testing.T) {
	tracks := []*store.Track{
		{Status: store.TrackMatchedLowConfidence},
		{Status: store.TrackDownloading},
	}
	if got := deriveBatchState(tracks); got != store.BatchDownloading {
		t.Errorf("expected DOWNLOADING, got %s", got)
	}
}

func TestDeriveBatchStateQueuedFallback(t *testing.T) {
	tracks := []*store.Track{
		{Status: store.TrackMatched},
	}
	if got := deriveBatchState(tracks); got != store.BatchQueued {
		t.Errorf("expected QUEUED, got %s", got)
	}
}

func TestDeriveBatchStateEmptyTrackListIsNotCompleted(t *testing.T) {
	if got := deriveBatchState(nil); got == store.BatchCompleted {
		t.Error("expected an empty track set to not report COMPLETED")
	}
}
