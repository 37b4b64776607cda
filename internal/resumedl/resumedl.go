// Package resumedl is the single-song fast-path download helper: a
// byte-ranged resumable GET used when the caller wants on-demand
// progress rather than the Segmented Downloader's parallel-range
// fetch.
package resumedl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/franz/batchdl/internal/util"
)

// InitialRetryDelay is the first backoff delay after a network error.
const InitialRetryDelay = 2 * time.Second

// MaxRetryDelay caps the exponential backoff.
const MaxRetryDelay = 30 * time.Second

// MaxRetries bounds total attempts before giving up.
const MaxRetries = 15

// ReadBufferSize is the buffer size used for the resumable copy loop.
const ReadBufferSize = 256 * 1024

// RefreshFunc re-resolves a short-lived stream URL, used when the
// server responds 416 because the original URL expired mid-download.
type RefreshFunc func(ctx context.Context) (string, error)

// ProgressFunc reports a percent in [5, 99]; the caller is expected to
// treat 100 as "done" only once the final rename has happened.
type ProgressFunc func(percent int)

// Downloader performs resumable single-file downloads.
type Downloader struct {
	client *http.Client
}

func New(client *http.Client) *Downloader {
	return &Downloader{client: client}
}

// Download fetches rawURL to destPath, resuming from a `.tmp` partial
// across attempts and refreshing the URL on a 416.
func (d *Downloader) Download(ctx context.Context, rawURL, destPath string, refresh RefreshFunc, onProgress ProgressFunc) error {
	partPath := destPath + ".tmp"
	currentURL := rawURL

	for attempt := 1; attempt <= MaxRetries; attempt++ {
		offset := partialSize(partPath)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, currentURL, nil)
		if err != nil {
			return err
		}
		if offset > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		}

		resp, err := d.client.Do(req)
		if err != nil {
			if !util.IsRetryableError(err) {
				return err
			}
			if !d.backoff(ctx, attempt) {
				return ctx.Err()
			}
			continue
		}

		switch resp.StatusCode {
		case http.StatusPartialContent:
			total := totalSize(resp, offset)
			err := appendToFile(ctx, partPath, resp.Body, offset, total, onProgress)
			resp.Body.Close()
			if err != nil {
				if !d.backoff(ctx, attempt) {
					return err
				}
				continue
			}
			return util.RetryableRename(partPath, destPath, util.NASRetryConfig())

		case http.StatusOK:
			// No range was honored (or none was requested): the body
			// is the full file. Restart the partial from byte 0.
			total := totalSize(resp, 0)
			err := appendToFile(ctx, partPath, resp.Body, 0, total, onProgress)
			resp.Body.Close()
			if err != nil {
				if !d.backoff(ctx, attempt) {
					return err
				}
				continue
			}
			return util.RetryableRename(partPath, destPath, util.NASRetryConfig())

		case http.StatusRequestedRangeNotSatisfiable:
			resp.Body.Close()
			util.RetryableRemove(partPath, util.NASRetryConfig())
			if refresh == nil {
				return fmt.Errorf("resumedl: stream expired (416) with no refresh available")
			}
			newURL, err := refresh(ctx)
			if err != nil {
				return fmt.Errorf("resumedl: refreshing expired stream: %w", err)
			}
			currentURL = newURL
			continue

		default:
			resp.Body.Close()
			return fmt.Errorf("resumedl: unexpected status %d", resp.StatusCode)
		}
	}

	return fmt.Errorf("resumedl: exceeded %d retries", MaxRetries)
}

func (d *Downloader) backoff(ctx context.Context, attempt int) bool {
	shift := min(attempt-1, 4)
	delay := InitialRetryDelay * time.Duration(1<<shift)
	if delay > MaxRetryDelay {
		delay = MaxRetryDelay
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func partialSize(path string) int64 {
	info, err := util.RetryableStat(path, util.NASRetryConfig())
	if err != nil {
		return 0
	}
	return info.Size()
}

// appendToFile truncates/creates partPath when offset is 0 (a fresh
// or restarted download), or opens it for append otherwise, then
// streams body into it, reporting bucketed progress.
func appendToFile(ctx context.Context, partPath string, body io.Reader, offset, total int64, onProgress ProgressFunc) error {
	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(partPath, flags, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	downloaded := offset
	buf := make([]byte, ReadBufferSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			downloaded += int64(n)
			if onProgress != nil {
				onProgress(bucketPercent(downloaded, total))
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

func bucketPercent(downloaded, total int64) int {
	if total <= 0 {
		return 5
	}
	pct := int(downloaded * 100 / total)
	if pct < 5 {
		pct = 5
	}
	if pct > 99 {
		pct = 99
	}
	return pct
}

func totalSize(resp *http.Response, offset int64) int64 {
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if idx := strings.LastIndex(cr, "/"); idx != -1 {
			if v, err := strconv.ParseInt(cr[idx+1:], 10, 64); err == nil && v > 0 {
				return v
			}
		}
	}
	if resp.ContentLength > 0 {
		return offset + resp.ContentLength
	}
	return 0
}
