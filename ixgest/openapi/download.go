package openapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/teranos/specix/errors"
	"github.com/teranos/specix/logger"
)

var errLimitReached = errors.New("byte ceiling reached")

func errNoData() *Error {
	return newError(KindDownloadFailed, "Spec download produced no data.", nil)
}

// countingWriter forwards writes until the running total would pass max.
// The chunk that would cross the ceiling is not written.
type countingWriter struct {
	w   io.Writer
	n   int64
	max int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.n+int64(len(p)) > c.max {
		return 0, errLimitReached
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Download streams target into a fresh temp artifact. The byte counter is
// the authoritative ceiling: the copy aborts with KindSizeExceeded the moment
// the body would pass maxBytes, whatever the headers declared. Every failure
// removes the run directory before returning.
func (ing *Ingester) Download(ctx context.Context, target *SanitizedURL, maxBytes int64, timeout time.Duration) (_ *Artifact, err error) {
	file, err := ing.store.Create()
	if err != nil {
		return nil, newError(KindDownloadFailed, "Failed to allocate temporary storage.", err)
	}
	path := file.Name()

	closed := false
	defer func() {
		if !closed {
			_ = file.Close()
		}
		if err != nil {
			ing.Release(path)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, newError(KindDownloadFailed, "Failed to download spec.", err)
	}

	resp, err := ing.client.Do(req)
	if err != nil {
		return nil, ing.transferError(ctx, err)
	}
	if resp.Body != nil {
		defer resp.Body.Close()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Kind:    KindDownloadFailed,
			Message: fmt.Sprintf("Failed to download spec (status %d).", resp.StatusCode),
			Status:  resp.StatusCode,
		}
	}
	if resp.Body == nil {
		return nil, errNoData()
	}

	if resp.ContentLength > maxBytes {
		return nil, sizeExceeded(maxBytes)
	}

	counter := &countingWriter{w: file, max: maxBytes}
	if _, err := io.Copy(counter, resp.Body); err != nil {
		if errors.Is(err, errLimitReached) {
			ing.log.Warnw("Download aborted at byte ceiling",
				logger.FieldURL, target.String(),
				logger.FieldBytes, counter.n,
				logger.FieldMaxBytes, maxBytes)
			return nil, sizeExceeded(maxBytes)
		}
		return nil, ing.transferError(ctx, err)
	}

	closed = true
	if err := file.Close(); err != nil {
		return nil, newError(KindDownloadFailed, "Failed to write spec to temporary storage.", err)
	}

	if counter.n == 0 {
		return nil, errNoData()
	}

	ing.log.Infow("Spec downloaded",
		logger.FieldURL, target.String(),
		logger.FieldBytes, counter.n,
		logger.FieldDurationMS, time.Since(start).Milliseconds())

	return &Artifact{Path: path, BytesWritten: counter.n}, nil
}

func (ing *Ingester) transferError(ctx context.Context, err error) *Error {
	if timedOut(ctx, err) {
		return newError(KindDownloadFailed, "Spec download timed out.",
			errors.Wrap(context.DeadlineExceeded, err.Error()))
	}
	return newError(KindDownloadFailed, "Failed to download spec.", err)
}
