package openapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/specix/errors"
	"github.com/teranos/specix/logger"
)

// Probe issues a HEAD request for target. A declared Content-Length above
// maxBytes fails with KindSizeExceeded; the check is advisory because the
// header may be absent or wrong.
func (ing *Ingester) Probe(ctx context.Context, target *SanitizedURL, maxBytes int64, timeout time.Duration) (*Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target.String(), nil)
	if err != nil {
		return nil, newError(KindProbeFailed, "HEAD request failed.", err)
	}

	resp, err := ing.client.Do(req)
	if err != nil {
		if timedOut(ctx, err) {
			return nil, newError(KindProbeFailed, "HEAD request timed out.",
				errors.Wrap(context.DeadlineExceeded, err.Error()))
		}
		return nil, newError(KindProbeFailed, "HEAD request failed.", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Kind:    KindProbeFailed,
			Message: fmt.Sprintf("HEAD request failed with status %d.", resp.StatusCode),
			Status:  resp.StatusCode,
		}
	}

	meta := &Metadata{
		URL:           target.String(),
		ContentLength: declaredLength(resp),
		ETag:          resp.Header.Get("ETag"),
		LastModified:  resp.Header.Get("Last-Modified"),
		ContentType:   resp.Header.Get("Content-Type"),
	}

	ing.log.Debugw("HEAD probe complete",
		logger.FieldURL, meta.URL,
		logger.FieldStatus, resp.StatusCode,
		logger.FieldContentType, meta.ContentType,
		logger.FieldDurationMS, time.Since(start).Milliseconds())

	if meta.ContentLength != nil && *meta.ContentLength > maxBytes {
		return nil, sizeExceeded(maxBytes)
	}

	return meta, nil
}

// declaredLength parses Content-Length from the header, falling back to the
// length the transport already parsed
func declaredLength(resp *http.Response) *int64 {
	if raw := strings.TrimSpace(resp.Header.Get("Content-Length")); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n >= 0 {
			return &n
		}
		return nil
	}
	if resp.ContentLength > 0 {
		n := resp.ContentLength
		return &n
	}
	return nil
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
