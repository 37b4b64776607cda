// Package segdl downloads a single file from a direct stream URL,
// splitting the transfer into parallel ranged fetches when the server
// supports it and the file is large enough to be worth the overhead,
// and falling back to a plain single-stream GET otherwise.
package segdl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/franz/batchdl/internal/util"
)

// MinSegSize is the smallest a segment is allowed to be. Below
// MinSegSize*NSegments total length, segmentation isn't worth the
// per-request overhead and the single-stream path is used instead.
const MinSegSize = 256 * 1024

// NSegments is the number of parallel ranged fetches used for a
// segmented download.
const NSegments = 4

// ReadBufferSize is the buffer size used for every stream copy.
const ReadBufferSize = 256 * 1024

// ProgressInterval throttles how often a Progress callback fires.
const ProgressInterval = 300 * time.Millisecond

// RateLimitedError is returned when the server responds 429 or 403.
// Callers use this to distinguish throttling from a hard failure.
type RateLimitedError struct {
	StatusCode int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (status %d)", e.StatusCode)
}

// DownloadError is returned for any other non-2xx (and non-206)
// response.
type DownloadError struct {
	StatusCode int
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download failed (status %d)", e.StatusCode)
}

func classifyStatus(code int) error {
	switch {
	case code == http.StatusOK || code == http.StatusPartialContent:
		return nil
	case code == http.StatusTooManyRequests || code == http.StatusForbidden:
		return &RateLimitedError{StatusCode: code}
	default:
		return &DownloadError{StatusCode: code}
	}
}

// Progress reports total size (0 if unknown), bytes downloaded so far,
// and the current throughput in bytes/sec. It is called at most every
// ProgressInterval.
type Progress func(total, downloaded int64, bytesPerSec float64)

// Downloader fetches a single URL to a local file.
type Downloader struct {
	client *http.Client
}

func New(client *http.Client) *Downloader {
	return &Downloader{client: client}
}

// Download fetches rawURL into destPath, probing for range support
// first and segmenting the transfer when it's worthwhile.
func (d *Downloader) Download(ctx context.Context, rawURL, destPath string, onProgress Progress) error {
	length, rangesOK, err := d.probe(ctx, rawURL)
	if err != nil {
		return err
	}

	reporter := newThrottledReporter(length, onProgress)
	defer reporter.flush()

	util.DebugLog("segdl: downloading %s (%s)", rawURL, humanize.Bytes(uint64(length)))

	if rangesOK && length >= MinSegSize*NSegments {
		if err := d.downloadSegmented(ctx, rawURL, destPath, length, reporter); err == nil {
			return nil
		} else {
			util.WarnLog("segdl: segmented download failed for %s, falling back to single stream: %v", rawURL, err)
		}
	}
	return d.downloadSingle(ctx, rawURL, destPath, length, reporter)
}

func (d *Downloader) probe(ctx context.Context, rawURL string) (length int64, rangesOK bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, false, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if cerr := classifyStatus(resp.StatusCode); cerr != nil {
			return 0, false, cerr
		}
	}

	length = resp.ContentLength
	ar := resp.Header.Get("Accept-Ranges")
	rangesOK = ar != "" && ar != "none"
	return length, rangesOK, nil
}

// throttledReporter coalesces per-chunk byte counts into at-most-once-
// per-ProgressInterval callbacks, tracking cumulative bytes across
// however many concurrent segments are feeding it.
type throttledReporter struct {
	total       int64
	downloaded  atomic.Int64
	onProgress  Progress
	lastEmit    time.Time
	start       time.Time
}

func newThrottledReporter(total int64, onProgress Progress) *throttledReporter {
	now := time.Now()
	return &throttledReporter{total: total, onProgress: onProgress, lastEmit: now, start: now}
}

func (r *throttledReporter) add(n int64) {
	downloaded := r.downloaded.Add(n)
	if r.onProgress == nil {
		return
	}
	now := time.Now()
	if now.Sub(r.lastEmit) < ProgressInterval {
		return
	}
	r.lastEmit = now
	elapsed := now.Sub(r.start).Seconds()
	var bps float64
	if elapsed > 0 {
		bps = float64(downloaded) / elapsed
	}
	r.onProgress(r.total, downloaded, bps)
}

func (r *throttledReporter) flush() {
	if r.onProgress == nil {
		return
	}
	downloaded := r.downloaded.Load()
	elapsed := time.Since(r.start).Seconds()
	var bps float64
	if elapsed > 0 {
		bps = float64(downloaded) / elapsed
	}
	r.onProgress(r.total, downloaded, bps)
}

func (d *Downloader) downloadSingle(ctx context.Context, rawURL, destPath string, length int64, reporter *throttledReporter) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp.StatusCode); err != nil {
		return err
	}

	partPath := destPath + ".tmp"
	out, err := util.RetryableCreate(partPath, util.DefaultRetryConfig())
	if err != nil {
		return err
	}
	defer out.Close()

	if err := copyWithContext(ctx, out, resp.Body, reporter); err != nil {
		util.RetryableRemove(partPath, util.DefaultRetryConfig())
		return err
	}
	if err := out.Close(); err != nil {
		util.RetryableRemove(partPath, util.DefaultRetryConfig())
		return err
	}
	return util.RetryableRename(partPath, destPath, util.DefaultRetryConfig())
}

// segmentRange is the closed byte range [Start, End] (inclusive,
// HTTP Range semantics) assigned to one segment.
type segmentRange struct {
	index      int
	start, end int64
}

func planSegments(length int64) []segmentRange {
	segSize := length / NSegments
	segments := make([]segmentRange, NSegments)
	for i := 0; i < NSegments; i++ {
		start := int64(i) * segSize
		end := start + segSize - 1
		if i == NSegments-1 {
			end = length - 1
		}
		segments[i] = segmentRange{index: i, start: start, end: end}
	}
	return segments
}

func (d *Downloader) downloadSegmented(ctx context.Context, rawURL, destPath string, length int64, reporter *throttledReporter) error {
	segments := planSegments(length)
	segPaths := make([]string, len(segments))

	group, gctx := errgroup.WithContext(ctx)
	for _, seg := range segments {
		seg := seg
		segPath := fmt.Sprintf("%s.seg%d", destPath, seg.index)
		segPaths[seg.index] = segPath
		group.Go(func() error {
			return d.fetchSegment(gctx, rawURL, segPath, seg, reporter)
		})
	}

	if err := group.Wait(); err != nil {
		for _, p := range segPaths {
			util.RetryableRemove(p, util.DefaultRetryConfig())
		}
		return err
	}

	partPath := destPath + ".tmp"
	if err := concatSegments(segPaths, partPath); err != nil {
		util.RetryableRemove(partPath, util.DefaultRetryConfig())
		for _, p := range segPaths {
			util.RetryableRemove(p, util.DefaultRetryConfig())
		}
		return err
	}
	for _, p := range segPaths {
		util.RetryableRemove(p, util.DefaultRetryConfig())
	}
	return util.RetryableRename(partPath, destPath, util.DefaultRetryConfig())
}

// fetchSegment retries a segment's fetch-and-write on transient network
// errors, per spec.md §4.6's per-segment retry contract.
func (d *Downloader) fetchSegment(ctx context.Context, rawURL, segPath string, seg segmentRange, reporter *throttledReporter) error {
	return util.Retry(util.DefaultRetryConfig(), func() error {
		return d.fetchSegmentOnce(ctx, rawURL, segPath, seg, reporter)
	}, fmt.Sprintf("segment[%d] %s", seg.index, rawURL))
}

func (d *Downloader) fetchSegmentOnce(ctx context.Context, rawURL, segPath string, seg segmentRange, reporter *throttledReporter) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", seg.start, seg.end))

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp.StatusCode); err != nil {
		return err
	}

	out, err := util.RetryableCreate(segPath, util.DefaultRetryConfig())
	if err != nil {
		return err
	}
	defer out.Close()

	if err := copyWithContext(ctx, out, resp.Body, reporter); err != nil {
		return err
	}
	return out.Close()
}

func concatSegments(segPaths []string, destPath string) error {
	out, err := util.RetryableCreate(destPath, util.DefaultRetryConfig())
	if err != nil {
		return err
	}
	defer out.Close()

	buf := make([]byte, ReadBufferSize)
	for _, p := range segPaths {
		in, err := util.RetryableOpen(p, util.DefaultRetryConfig())
		if err != nil {
			return err
		}
		_, err = io.CopyBuffer(out, in, buf)
		in.Close()
		if err != nil {
			return err
		}
	}
	return out.Close()
}

// copyWithContext streams src to dst in ReadBufferSize chunks,
// checking ctx between reads and reporting each chunk to reporter.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader, reporter *throttledReporter) error {
	buf := make([]byte, ReadBufferSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			if reporter != nil {
				reporter.add(int64(n))
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return readErr
		}
	}
}
