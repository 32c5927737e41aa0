package openapi

import (
	"context"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/teranos/specix/logger"
)

// DialectPrefix is the accepted openapi version prefix
const DialectPrefix = "3."

// Validate parses the artifact at path as JSON or YAML, resolves internal
// $refs, checks it structurally, then requires an openapi field starting with
// "3.". External refs are refused. The artifact is never deleted here.
func (ing *Ingester) Validate(ctx context.Context, path string) (*Document, error) {
	data, err := ing.store.ReadFile(path)
	if err != nil {
		return nil, newError(KindValidationFailed, "Failed to read downloaded spec.", err)
	}

	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false
	loader.Context = ctx

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, newError(KindValidationFailed, "Spec failed OpenAPI validation.", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, newError(KindValidationFailed, "Spec failed OpenAPI validation.", err)
	}

	if !strings.HasPrefix(doc.OpenAPI, DialectPrefix) {
		return nil, newError(KindValidationFailed, "Spec is not an OpenAPI 3.x document.", nil)
	}

	result := &Document{T: doc}
	if v, err := semver.NewVersion(doc.OpenAPI); err == nil {
		result.Version = v
	}

	ing.log.Debugw("Spec validated",
		logger.FieldFile, path,
		logger.FieldDialect, doc.OpenAPI,
		logger.FieldPaths, result.PathCount())

	return result, nil
}
