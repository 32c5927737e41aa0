package builder

import (
	"context"

	"github.com/teranos/specix/ixgest/openapi"
)

// BuildFunc turns a validated document into tools. It must return promptly
// once ctx is cancelled. report may be called any number of times.
type BuildFunc func(ctx context.Context, doc *openapi.Document, report func(Progress)) ([]Tool, error)

// PlaceholderBuild walks every operation to report progress and produces no
// tools. Tool generation is not implemented.
func PlaceholderBuild(ctx context.Context, doc *openapi.Document, report func(Progress)) ([]Tool, error) {
	total := doc.OperationCount()
	report(Progress{Total: total})

	processed := 0
	if doc.T != nil && doc.Paths != nil {
		for _, path := range doc.Paths.InMatchingOrder() {
			item := doc.Paths.Value(path)
			if item == nil {
				continue
			}
			for range item.Operations() {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				processed++
				report(Progress{Processed: processed, Total: total})
			}
		}
	}

	return []Tool{}, nil
}
