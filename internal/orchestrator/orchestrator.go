// Package orchestrator is the Batch Manager: it owns the Track/Batch
// state machine, the dispatch loop, the adaptive concurrency governor,
// the watchdog, and crash recovery. It is the one place that mutates
// Track/Batch rows; nothing outside this package should call
// store.UpdateTrack/UpdateBatch directly once an Orchestrator exists.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/franz/batchdl/internal/extract"
	"github.com/franz/batchdl/internal/fingerprint"
	"github.com/franz/batchdl/internal/mapper"
	"github.com/franz/batchdl/internal/report"
	"github.com/franz/batchdl/internal/resolver"
	"github.com/franz/batchdl/internal/resumedl"
	"github.com/franz/batchdl/internal/segdl"
	"github.com/franz/batchdl/internal/store"
	"github.com/franz/batchdl/internal/util"
)

const (
	// MaxConcurrent is the ceiling the ramp-up task grows toward.
	MaxConcurrent = 8
	// MinConcurrent is the floor the rate-limit halving never crosses.
	MinConcurrent = 2
	// RequestSpacingMs paces successive worker submissions.
	RequestSpacingMs = 250 * time.Millisecond
	// MaxBatchTracks rejects catalog extractions larger than this.
	MaxBatchTracks = 500
	// MaxRetries bounds how many times a Track may be requeued before
	// being given up on as FAILED.
	MaxRetries = 3
	// WatchdogTimeout is how long a track may go without progress
	// before the watchdog reclaims it.
	WatchdogTimeout = 90 * time.Second
	// RampUpInterval is how often the ramp-up task wakes.
	RampUpInterval = 30 * time.Second
	// WatchdogInterval is how often the watchdog sweeps.
	WatchdogInterval = 60 * time.Second
	// MatchingConcurrency bounds the matching phase's fan-out.
	MatchingConcurrency = 3
	// PrefetchLookahead is how many queued tracks get their streams
	// prefetched ahead of dispatch.
	PrefetchLookahead = 5
	// dispatchIdleSleep is how long the dispatcher idles when there is
	// nothing to dispatch or the worker pool is saturated.
	dispatchIdleSleep = 500 * time.Millisecond
	// rateLimitSleep is how long the dispatcher idles while under a
	// global cooldown.
	rateLimitSleep = 5 * time.Second
)

// ImportResult summarizes a freshly submitted batch.
type ImportResult struct {
	BatchID    string
	TrackCount int
}

// TaskStatus is the vocabulary for the single-song fast path's
// progress reports, matching spec.md §6's /api/progress status field.
type TaskStatus string

const (
	TaskExtracting  TaskStatus = "extracting"
	TaskDownloading TaskStatus = "downloading"
	TaskPaused      TaskStatus = "paused"
	TaskConverting  TaskStatus = "converting"
	TaskDone        TaskStatus = "done"
	TaskError       TaskStatus = "error"
)

// TaskProgress is a single-song download's progress, keyed by task_id
// independently from Batch/Track ids. Restored from original_source's
// download_tasks map, implied by spec.md §6's /api/progress contract.
type TaskProgress struct {
	Status TaskStatus
	Percent int
	Result  string
	Error   string
}

// Orchestrator is the Batch Manager.
type Orchestrator struct {
	store           *store.Store
	resolveExtractor func(rawURL string) extract.Extractor
	mapper          *mapper.Mapper
	resolver        *resolver.Resolver
	downloader      *segdl.Downloader
	resumer         *resumedl.Downloader
	musicDir        string
	log             *util.Logger
	events          *report.EventLogger

	mu                    sync.Mutex
	activeWorkers         int
	currentMaxConcurrent  int
	rateLimitUntil        time.Time
	consecutiveRateLimits int
	lastSuccessTime       time.Time
	isRecovering          bool

	watchdog sync.Map // track_id(string) -> time.Time
	tasks    sync.Map // task_id(string) -> *TaskProgress

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds an Orchestrator. musicDir is where finished audio files
// are written.
func New(
	st *store.Store,
	resolveExtractor func(rawURL string) extract.Extractor,
	mpr *mapper.Mapper,
	res *resolver.Resolver,
	dl *segdl.Downloader,
	resumer *resumedl.Downloader,
	musicDir string,
) *Orchestrator {
	return &Orchestrator{
		store:                st,
		resolveExtractor:     resolveExtractor,
		mapper:               mpr,
		resolver:             res,
		downloader:           dl,
		resumer:              resumer,
		musicDir:             musicDir,
		log:                  util.NewLogger("orchestrator"),
		events:               report.NullLogger(),
		currentMaxConcurrent: MaxConcurrent,
		stopCh:               make(chan struct{}),
	}
}

// SetEventLogger attaches a JSONL event logger. A nil argument reverts
// to the no-op logger; every call site in this package is nil-safe
// either way.
func (o *Orchestrator) SetEventLogger(el *report.EventLogger) {
	if el == nil {
		el = report.NullLogger()
	}
	o.events = el
}

// Start runs crash recovery and then launches the dispatch, ramp-up,
// and watchdog long-lived tasks. It returns once recovery completes;
// the background tasks keep running until Stop is called or ctx is
// canceled.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.recover(); err != nil {
		return err
	}
	go o.dispatchLoop(ctx)
	go o.rampUpLoop(ctx)
	go o.watchdogLoop(ctx)
	return nil
}

// Stop signals every background task to exit.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
}

func (o *Orchestrator) sleepOrStop(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-o.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

// ---- Submission (spec.md §4.7 "Submission") ----

func (o *Orchestrator) SubmitBatch(ctx context.Context, rawURL, platform string) (*ImportResult, error) {
	batch := &store.Batch{
		ID:             uuid.NewString(),
		SourceURL:      rawURL,
		SourcePlatform: platform,
		State:          store.BatchExtracting,
	}
	if err := o.store.InsertBatch(batch); err != nil {
		return nil, err
	}

	extractor := o.resolveExtractor(rawURL)
	candidates := extractor.Extract(ctx, rawURL)

	if len(candidates) == 0 {
		o.events.LogExtract(batch.ID, rawURL, 0, ErrExtractionFailed)
		o.failBatch(batch, ErrExtractionFailed)
		return nil, ErrExtractionFailed
	}
	if len(candidates) > MaxBatchTracks {
		o.events.LogExtract(batch.ID, rawURL, len(candidates), ErrBatchTooLarge)
		o.failBatch(batch, ErrBatchTooLarge)
		return nil, ErrBatchTooLarge
	}

	tracks := make([]*store.Track, 0, len(candidates))
	for _, c := range candidates {
		tracks = append(tracks, &store.Track{
			ID:             uuid.NewString(),
			BatchID:        batch.ID,
			Fingerprint:    fingerprint.Fingerprint(c.Title, c.Artist, c.DurationSec),
			Title:          c.Title,
			Artist:         c.Artist,
			ThumbnailURL:   c.ThumbnailURL,
			SourcePlatform: extractor.Platform(),
			SourceVideoID:  c.SourceVideoID,
			Status:         store.TrackExtracted,
			Codec:          "mp3",
			QualityKbps:    320,
		})
		if c.DurationSec != nil {
			tracks[len(tracks)-1].DurationSeconds = *c.DurationSec
		}
	}
	inserted, err := o.store.InsertTracksBulk(tracks)
	if err != nil {
		o.failBatch(batch, err)
		return nil, err
	}

	batch.State = store.BatchMatching
	batch.TotalTracks = inserted
	if err := o.store.UpdateBatch(batch); err != nil {
		return nil, err
	}
	o.events.LogExtract(batch.ID, rawURL, inserted, nil)

	go o.runMatchingPhase(batch.ID)

	return &ImportResult{BatchID: batch.ID, TrackCount: inserted}, nil
}

func (o *Orchestrator) failBatch(batch *store.Batch, cause error) {
	batch.State = store.BatchFailed
	batch.ErrorCode = cause.Error()
	if err := o.store.UpdateBatch(batch); err != nil {
		o.log.Error("failBatch: update batch %s: %v", batch.ID, err)
	}
}

// ---- Matching phase (spec.md §4.7 "Matching phase") ----

func (o *Orchestrator) runMatchingPhase(batchID string) {
	tracks, err := o.store.GetTracksForBatch(batchID)
	if err != nil {
		o.log.Error("matching phase: list tracks for batch %s: %v", batchID, err)
		return
	}

	p := pool.New().WithMaxGoroutines(MatchingConcurrency)
	for _, t := range tracks {
		t := t
		if t.Status != store.TrackExtracted {
			continue
		}
		p.Go(func() { o.matchTrack(context.Background(), t) })
	}
	p.Wait()

	o.recomputeBatch(batchID)
}

func (o *Orchestrator) matchTrack(ctx context.Context, t *store.Track) {
	if t.SourceVideoID != "" {
		if o.transition(t, store.TrackQueued, nil) {
			o.resolver.Prefetch(t.SourceVideoID)
		}
		return
	}

	if !o.transition(t, store.TrackMatching, nil) {
		return
	}

	videoID, confidence := o.mapper.Map(ctx, t.Title, t.Artist)
	if videoID == "" {
		o.events.LogMatch(t.ID, t.Title, 0, true)
		o.transition(t, store.TrackFailed, func(tr *store.Track) { tr.ErrorCode = ErrNoMatch.Error() })
		return
	}

	if confidence >= mapper.CurrentConfidenceCutoff() {
		o.events.LogMatch(t.ID, t.Title, confidence, false)
		if o.transition(t, store.TrackQueued, func(tr *store.Track) {
			tr.SourceVideoID = videoID
			tr.MatchConfidence = confidence
		}) {
			o.resolver.Prefetch(videoID)
		}
		return
	}

	o.events.LogMatch(t.ID, t.Title, confidence, true)
	o.transition(t, store.TrackMatchedLowConfidence, func(tr *store.Track) {
		tr.SourceVideoID = videoID
		tr.MatchConfidence = confidence
	})
}

// ---- Dispatch loop (spec.md §4.7 "Dispatch loop") ----

func (o *Orchestrator) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		default:
		}

		o.mu.Lock()
		rateLimited := time.Now().Before(o.rateLimitUntil)
		saturated := o.activeWorkers >= o.currentMaxConcurrent
		recovering := o.isRecovering
		o.mu.Unlock()

		if rateLimited {
			if !o.sleepOrStop(ctx, rateLimitSleep) {
				return
			}
			continue
		}
		if saturated || recovering {
			if !o.sleepOrStop(ctx, dispatchIdleSleep) {
				return
			}
			continue
		}

		track := o.dequeueNext()
		if track == nil {
			if !o.sleepOrStop(ctx, dispatchIdleSleep) {
				return
			}
			continue
		}

		o.mu.Lock()
		o.activeWorkers++
		o.mu.Unlock()

		go o.runWorker(ctx, track)
		o.prefetchUpcoming()

		if !o.sleepOrStop(ctx, RequestSpacingMs) {
			return
		}
	}
}

// dequeueNext reads the FIFO head of the queue and transitions it to
// DISPATCHING atomically under the mutex, per spec.md's "under the
// mutex, read head ... transition it" requirement.
func (o *Orchestrator) dequeueNext() *store.Track {
	o.mu.Lock()
	defer o.mu.Unlock()

	candidates, err := o.store.GetQueuedTracks(1)
	if err != nil || len(candidates) == 0 {
		return nil
	}
	t := candidates[0]
	if !canTransition(t.Status, store.TrackDispatching) {
		return nil
	}
	t.Status = store.TrackDispatching
	if err := o.store.UpdateTrack(t); err != nil {
		o.log.Error("dequeueNext: update track %s: %v", t.ID, err)
		return nil
	}
	return t
}

func (o *Orchestrator) prefetchUpcoming() {
	upcoming, err := o.store.GetQueuedTracks(PrefetchLookahead)
	if err != nil {
		return
	}
	for _, t := range upcoming {
		if t.SourceVideoID != "" {
			o.resolver.Prefetch(t.SourceVideoID)
		}
	}
}

// ---- Worker (spec.md §4.7 "Worker") ----

func (o *Orchestrator) runWorker(ctx context.Context, t *store.Track) {
	defer func() {
		o.mu.Lock()
		o.activeWorkers--
		o.mu.Unlock()
		o.watchdog.Delete(t.ID)
		o.recomputeBatch(t.BatchID)
	}()

	if !o.transition(t, store.TrackDownloading, nil) {
		return
	}
	o.events.LogDispatch(t.ID, t.SourceVideoID)
	o.watchdog.Store(t.ID, time.Now())
	start := time.Now()

	streamURL, err := o.resolver.Resolve(ctx, t.SourceVideoID)
	if err != nil {
		o.events.LogDownload(t.ID, "", 0, time.Since(start), err)
		o.handleWorkerFailure(t, err)
		return
	}

	ext := codecExt(t.Codec)
	filename := fingerprint.SanitizeFilename(t.Title) + "." + ext
	destPath := filepath.Join(o.musicDir, filename)

	onProgress := func(total, downloaded int64, bps float64) {
		o.watchdog.Store(t.ID, time.Now())
		t.TotalBytes = total
		t.BytesDownloaded = downloaded
		if err := o.store.UpdateTrack(t); err != nil {
			o.log.Debug("worker: progress update for %s: %v", t.ID, err)
		}
	}

	if err := o.downloader.Download(ctx, streamURL, destPath, onProgress); err != nil {
		o.events.LogDownload(t.ID, destPath, t.BytesDownloaded, time.Since(start), err)
		o.handleWorkerFailure(t, err)
		return
	}

	if !o.transition(t, store.TrackCompleted, func(tr *store.Track) { tr.OutputFilePath = destPath }) {
		return
	}
	o.events.LogDownload(t.ID, destPath, t.BytesDownloaded, time.Since(start), nil)

	o.mu.Lock()
	o.consecutiveRateLimits = 0
	o.lastSuccessTime = time.Now()
	if o.currentMaxConcurrent < MaxConcurrent {
		o.currentMaxConcurrent++
	}
	o.mu.Unlock()
}

// ---- Worker failure policy (spec.md §4.7 "Worker failure policy") ----

func (o *Orchestrator) handleWorkerFailure(t *store.Track, cause error) {
	if isRateLimitError(cause) {
		o.mu.Lock()
		o.consecutiveRateLimits++
		streak := o.consecutiveRateLimits
		o.currentMaxConcurrent = max(o.currentMaxConcurrent/2, MinConcurrent)
		cooldown := cooldownForStreak(streak)
		o.rateLimitUntil = time.Now().Add(cooldown)
		o.mu.Unlock()
		o.log.Warn("worker: rate limited on track %s (streak %d), halving concurrency", t.ID, streak)
		var rle *segdl.RateLimitedError
		statusCode := 0
		if errors.As(cause, &rle) {
			statusCode = rle.StatusCode
		}
		o.events.LogRateLimit(t.ID, statusCode, cooldown)
	}

	nextRetry := t.RetryCount + 1
	errCode := cause.Error()

	if nextRetry < MaxRetries {
		o.transition(t, store.TrackQueued, func(tr *store.Track) {
			tr.RetryCount = nextRetry
			tr.ErrorCode = errCode
		})
		return
	}
	o.transition(t, store.TrackFailed, func(tr *store.Track) {
		tr.RetryCount = nextRetry
		tr.ErrorCode = errCode
	})
}

func isRateLimitError(err error) bool {
	var rle *segdl.RateLimitedError
	return errors.As(err, &rle)
}

func cooldownForStreak(streak int) time.Duration {
	switch {
	case streak <= 1:
		return 15 * time.Second
	case streak <= 3:
		return 30 * time.Second
	default:
		return 60 * time.Second
	}
}

// ---- Ramp-up (spec.md §4.7 "Ramp-up") ----

func (o *Orchestrator) rampUpLoop(ctx context.Context) {
	ticker := time.NewTicker(RampUpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.mu.Lock()
			if o.consecutiveRateLimits == 0 &&
				!o.lastSuccessTime.IsZero() &&
				time.Since(o.lastSuccessTime) <= time.Minute &&
				o.currentMaxConcurrent < MaxConcurrent {
				o.currentMaxConcurrent++
			}
			o.mu.Unlock()
		}
	}
}

// ---- Watchdog (spec.md §4.7 "Health monitor / watchdog") ----

func (o *Orchestrator) watchdogLoop(ctx context.Context) {
	ticker := time.NewTicker(WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.sweepWatchdog()
		}
	}
}

func (o *Orchestrator) sweepWatchdog() {
	now := time.Now()
	o.watchdog.Range(func(key, value interface{}) bool {
		trackID := key.(string)
		lastProgress := value.(time.Time)
		if now.Sub(lastProgress) <= WatchdogTimeout {
			return true
		}
		if t, err := o.store.GetTrack(trackID); err == nil && t != nil {
			o.events.LogWatchdog(trackID, "stalled past heartbeat timeout")
			o.transition(t, store.TrackQueued, func(tr *store.Track) { tr.ErrorCode = "watchdog timeout" })
		}
		o.watchdog.Delete(trackID)
		return true
	})

	empty := true
	o.watchdog.Range(func(_, _ interface{}) bool {
		empty = false
		return false
	})

	o.mu.Lock()
	active := o.activeWorkers
	if active > 0 && empty {
		o.log.Error("invariant breach: active_workers=%d with an empty watchdog map, resetting", active)
		o.activeWorkers = 0
	}
	o.mu.Unlock()
}

// ---- Crash recovery (spec.md §4.7 "Crash recovery") ----

func (o *Orchestrator) recover() error {
	o.mu.Lock()
	o.isRecovering = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.activeWorkers = 0
		o.isRecovering = false
		o.mu.Unlock()
	}()

	// olderThan 0 widens the cutoff to "now", which at process start
	// captures every track still sitting in DISPATCHING/DOWNLOADING
	// from the prior lifetime regardless of how recently it was
	// touched.
	stalled, err := o.store.GetStalledTracks(0)
	if err != nil {
		return err
	}
	for _, t := range stalled {
		cleanupPartialFiles(t)
		o.events.LogRecover(t.BatchID, t.ID, "found mid-transition at startup")
		o.transition(t, store.TrackQueued, func(tr *store.Track) { tr.ErrorCode = "recovered after restart" })
	}
	return nil
}

func cleanupPartialFiles(t *store.Track) {
	if t.OutputFilePath == "" {
		return
	}
	os.Remove(t.OutputFilePath)
	os.Remove(t.OutputFilePath + ".tmp")
	for i := 0; i < segdl.NSegments; i++ {
		os.Remove(fmt.Sprintf("%s.seg%d", t.OutputFilePath, i))
	}
}

// ---- Transition helper and derived-state bookkeeping ----

// transition applies from->to under the mutex, refusing (and never
// persisting) any edge not in the permitted table. mutate, if given,
// is applied to the in-memory track before the row is written, so
// e.g. setting an error_code happens atomically with the transition.
func (o *Orchestrator) transition(t *store.Track, to store.TrackStatus, mutate func(*store.Track)) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !canTransition(t.Status, to) {
		return false
	}
	t.Status = to
	if mutate != nil {
		mutate(t)
	}
	if err := o.store.UpdateTrack(t); err != nil {
		o.log.Error("transition: update track %s: %v", t.ID, err)
		return false
	}
	return true
}

func (o *Orchestrator) recomputeBatch(batchID string) {
	tracks, err := o.store.GetTracksForBatch(batchID)
	if err != nil {
		return
	}
	batch, err := o.store.GetBatch(batchID)
	if err != nil || batch == nil {
		return
	}

	var completed, failed int
	for _, t := range tracks {
		switch t.Status {
		case store.TrackCompleted:
			completed++
		case store.TrackFailed:
			failed++
		}
	}

	batch.State = deriveBatchState(tracks)
	batch.TotalTracks = len(tracks)
	batch.CompletedCount = completed
	batch.FailedCount = failed
	if err := o.store.UpdateBatch(batch); err != nil {
		o.log.Error("recomputeBatch: update batch %s: %v", batchID, err)
	}
}

// ---- Read-only accessors for the Action Gateway / HTTP facade ----

func (o *Orchestrator) ListBatches() ([]*store.Batch, error) {
	return o.store.ListBatches()
}

func (o *Orchestrator) GetBatchStatus(batchID string) (*store.Batch, []*store.Track, error) {
	return o.store.GetBatchWithTracks(batchID)
}

// PrefetchURL resolves rawURL to a single-song source-id the same way
// the fast path does, then asks the Resolver to warm its cache for it.
// It reports whether the stream URL was already cached, for the
// /api/prefetch {prefetching,cached} response.
func (o *Orchestrator) PrefetchURL(ctx context.Context, rawURL string) (bool, error) {
	extractor := o.resolveExtractor(rawURL)
	candidates := extractor.Extract(ctx, rawURL)
	if len(candidates) == 0 {
		return false, ErrExtractionFailed
	}
	candidate := candidates[0]
	sourceID := candidate.SourceVideoID
	if sourceID == "" {
		sourceID, _ = o.mapper.Map(ctx, candidate.Title, candidate.Artist)
	}
	if sourceID == "" {
		return false, ErrNoMatch
	}

	cached := o.resolver.IsCached(sourceID)
	o.resolver.Prefetch(sourceID)
	return cached, nil
}

// ---- Action Gateway transitions (spec.md §4.8) ----

func (o *Orchestrator) Action(trackID, kind, sourceVideoID string) (bool, string) {
	t, err := o.store.GetTrack(trackID)
	if err != nil {
		return false, err.Error()
	}
	if t == nil {
		return false, "track not found"
	}

	switch kind {
	case "accept":
		if sourceVideoID == "" {
			return false, "source_video_id required"
		}
		if !o.transition(t, store.TrackMatched, func(tr *store.Track) { tr.SourceVideoID = sourceVideoID }) {
			return false, "invalid transition"
		}
		reloaded, err := o.store.GetTrack(trackID)
		if err != nil || reloaded == nil {
			return false, "track vanished after accept"
		}
		if !o.transition(reloaded, store.TrackQueued, nil) {
			return false, "invalid transition"
		}
		o.resolver.Prefetch(sourceVideoID)
		return true, ""
	case "rematch":
		if !o.transition(t, store.TrackMatching, nil) {
			return false, "invalid transition"
		}
		go o.matchTrack(context.Background(), t)
		return true, ""
	case "manual":
		if !o.transition(t, store.TrackMatchingManual, nil) {
			return false, "invalid transition"
		}
		return true, ""
	default:
		return false, "unknown action"
	}
}

// ---- Single-song fast path (restored from original_source's
// download_tasks map; see spec.md §6's /api/progress contract) ----

func (o *Orchestrator) StartDownloadTask(taskID, rawURL, title, codec string) {
	o.tasks.Store(taskID, &TaskProgress{Status: TaskExtracting})
	go o.runSingleSongTask(taskID, rawURL, title, codec)
}

func (o *Orchestrator) Progress(taskID string) (*TaskProgress, bool) {
	v, ok := o.tasks.Load(taskID)
	if !ok {
		return nil, false
	}
	return v.(*TaskProgress), true
}

func (o *Orchestrator) runSingleSongTask(taskID, rawURL, title, codec string) {
	ctx := context.Background()
	set := func(p *TaskProgress) { o.tasks.Store(taskID, p) }

	extractor := o.resolveExtractor(rawURL)
	candidates := extractor.Extract(ctx, rawURL)
	if len(candidates) == 0 {
		set(&TaskProgress{Status: TaskError, Error: ErrExtractionFailed.Error()})
		return
	}
	candidate := candidates[0]
	displayTitle := pick(candidate.Title, title)

	sourceID := candidate.SourceVideoID
	if sourceID == "" {
		sourceID, _ = o.mapper.Map(ctx, displayTitle, candidate.Artist)
	}
	if sourceID == "" {
		set(&TaskProgress{Status: TaskError, Error: ErrNoMatch.Error()})
		return
	}

	set(&TaskProgress{Status: TaskDownloading, Percent: 5})
	streamURL, err := o.resolver.Resolve(ctx, sourceID)
	if err != nil {
		set(&TaskProgress{Status: TaskError, Error: err.Error()})
		return
	}

	destPath := filepath.Join(o.musicDir, fingerprint.SanitizeFilename(displayTitle)+"."+codecExt(codec))
	refresh := func(context.Context) (string, error) { return o.resolver.Resolve(ctx, sourceID) }

	err = o.resumer.Download(ctx, streamURL, destPath, refresh, func(percent int) {
		set(&TaskProgress{Status: TaskDownloading, Percent: percent})
	})
	if err != nil {
		set(&TaskProgress{Status: TaskError, Error: err.Error()})
		return
	}
	set(&TaskProgress{Status: TaskDone, Percent: 100, Result: destPath})
}

func pick(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func codecExt(codec string) string {
	switch codec {
	case "opus":
		return "opus"
	case "ogg":
		return "ogg"
	default:
		return "mp3"
	}
}
