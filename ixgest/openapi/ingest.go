package openapi

import (
	"context"
	"time"

	"github.com/teranos/specix/logger"
)

// Ingest runs Sanitize, Probe, Download and Validate in order and stops at
// the first failure, returning its *Error unchanged. A document that fails
// validation is released before returning. On success the caller owns
// Result.FilePath and must Release it.
func (ing *Ingester) Ingest(ctx context.Context, raw string, opts Options) (*Result, error) {
	opts = ing.resolve(opts)
	start := time.Now()

	target, err := Sanitize(raw, opts.AllowInsecureScheme)
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx, ing.log).With(logger.FieldURL, target.String())
	log.Debugw("Ingest started",
		logger.FieldMaxBytes, opts.MaxBytes,
		logger.FieldTimeoutMS, opts.Timeout.Milliseconds())

	meta, err := ing.Probe(ctx, target, opts.MaxBytes, opts.Timeout)
	if err != nil {
		log.Infow("Probe rejected spec", logger.FieldErrorCode, KindOf(err), logger.FieldError, err)
		return nil, err
	}

	artifact, err := ing.Download(ctx, target, opts.MaxBytes, opts.Timeout)
	if err != nil {
		log.Infow("Download rejected spec", logger.FieldErrorCode, KindOf(err), logger.FieldError, err)
		return nil, err
	}

	doc, err := ing.Validate(ctx, artifact.Path)
	if err != nil {
		ing.Release(artifact.Path)
		log.Infow("Validation rejected spec", logger.FieldErrorCode, KindOf(err), logger.FieldError, err)
		return nil, err
	}

	log.Infow("Spec ingested",
		logger.FieldBytes, artifact.BytesWritten,
		logger.FieldPaths, doc.PathCount(),
		logger.FieldDurationMS, time.Since(start).Milliseconds())

	return &Result{
		Metadata:     meta,
		FilePath:     artifact.Path,
		BytesWritten: artifact.BytesWritten,
		Document:     doc,
	}, nil
}
