package orchestrator

import "errors"

// Sentinel errors for the Orchestrator's closed set of failure kinds.
// SubmitBatch returns ErrExtractionFailed or ErrBatchTooLarge to its
// caller and also stores it as the Batch's error_code; PrefetchURL
// returns ErrExtractionFailed or ErrNoMatch; the matching phase stores
// ErrNoMatch as a Track's error_code. The remaining sentinels are not
// returned or stored anywhere in this package.
var (
	ErrExtractionFailed = errors.New("could not extract")
	ErrBatchTooLarge    = errors.New("too large")
	ErrNoMatch          = errors.New("no match")
	ErrRateLimited      = errors.New("rate limited")
	ErrStreamExpired    = errors.New("stream expired")
	ErrFatalIO          = errors.New("fatal i/o")
	ErrInvariantBreach  = errors.New("invariant breach")
)
