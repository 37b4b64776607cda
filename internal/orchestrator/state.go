package orchestrator

import "github.com/franz/batchdl/internal/store"

// transitions is the permitted Track state graph. Any transition not
// present here is a silent no-op.
var transitions = map[store.TrackStatus]map[store.TrackStatus]bool{
	store.TrackExtracted: {
		store.TrackMatching: true,
		store.TrackMatched:  true,
		store.TrackQueued:   true,
	},
	store.TrackMatching: {
		store.TrackMatched:             true,
		store.TrackMatchedLowConfidence: true,
		store.TrackFailed:              true,
	},
	store.TrackMatched: {
		store.TrackQueued: true,
	},
	store.TrackMatchedLowConfidence: {
		store.TrackMatched:       true,
		store.TrackMatching:      true,
		store.TrackMatchingManual: true,
	},
	store.TrackMatchingManual: {
		store.TrackMatched:             true,
		store.TrackMatchedLowConfidence: true,
		store.TrackFailed:              true,
	},
	store.TrackQueued: {
		store.TrackDispatching: true,
	},
	store.TrackDispatching: {
		store.TrackDownloading: true,
		store.TrackQueued:      true,
	},
	store.TrackDownloading: {
		store.TrackCompleted: true,
		store.TrackFailed:    true,
		store.TrackQueued:    true,
	},
	store.TrackFailed: {
		store.TrackQueued: true,
	},
}

// canTransition reports whether from->to is a permitted edge.
func canTransition(from, to store.TrackStatus) bool {
	edges, ok := transitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// activeStatuses are the Track states counted as "in flight" when
// deriving Batch state.
var activeStatuses = map[store.TrackStatus]bool{
	store.TrackMatching:     true,
	store.TrackQueued:       true,
	store.TrackDispatching:  true,
	store.TrackDownloading:  true,
}

// deriveBatchState is a pure function of a batch's track status
// multiset, per the rules in spec.md §4.7.
func deriveBatchState(tracks []*store.Track) store.BatchState {
	total := len(tracks)
	var completed, failed, lowConfidence, active int
	for _, t := range tracks {
		switch {
		case t.Status == store.TrackCompleted:
			completed++
		case t.Status == store.TrackFailed:
			failed++
		case t.Status == store.TrackMatchedLowConfidence:
			lowConfidence++
		case activeStatuses[t.Status]:
			active++
		}
	}

	switch {
	case total > 0 && completed+failed == total && lowConfidence == 0:
		return store.BatchCompleted
	case total > 0 && failed == total:
		return store.BatchFailed
	case lowConfidence > 0 && active == 0:
		return store.BatchAwaitingUser
	case active > 0:
		return store.BatchDownloading
	default:
		return store.BatchQueued
	}
}
