package server

import (
	"net/http"

	"github.com/teranos/specix/errors"
	"github.com/teranos/specix/ixgest/openapi"
)

// Stable API error codes beyond the ingestion kinds
const (
	CodeInvalidRequest = "invalid_request"
	CodeNoSpecLoaded   = "no_spec_loaded"
	CodeRateLimited    = "rate_limited"
	CodeInternal       = "internal_error"
)

// apiError is an error resolved to its HTTP status and body
type apiError struct {
	Status int
	Body   ErrorResponse
}

// mapError classifies err into an HTTP status and body.
// Ingestion kinds map by kind; the remote status, when present, is reported
// in details rather than passed through.
func mapError(err error) apiError {
	if ingestErr, ok := openapi.AsError(err); ok {
		body := ErrorResponse{Code: string(ingestErr.Kind), Message: ingestErr.Message}

		switch ingestErr.Kind {
		case openapi.KindSizeExceeded:
			maxBytes := ingestErr.MaxBytes
			body.MaxBytes = &maxBytes
			return apiError{Status: http.StatusRequestEntityTooLarge, Body: body}
		case openapi.KindInvalidURL, openapi.KindValidationFailed:
			return apiError{Status: http.StatusUnprocessableEntity, Body: body}
		case openapi.KindProbeFailed, openapi.KindDownloadFailed:
			body.Details = upstreamDetails(ingestErr)
			return apiError{Status: http.StatusBadGateway, Body: body}
		}
	}

	switch {
	case errors.IsInvalidRequestError(err):
		return apiError{Status: http.StatusBadRequest, Body: ErrorResponse{
			Code: CodeInvalidRequest, Message: "Invalid request payload.",
		}}
	case errors.IsConflictError(err):
		return apiError{Status: http.StatusConflict, Body: ErrorResponse{
			Code: CodeNoSpecLoaded, Message: "No spec has been loaded yet.",
		}}
	}

	return apiError{Status: http.StatusInternalServerError, Body: ErrorResponse{
		Code: CodeInternal, Message: "Unexpected server error.",
	}}
}

func upstreamDetails(e *openapi.Error) map[string]interface{} {
	details := map[string]interface{}{}
	if e.Status != 0 {
		details["status"] = e.Status
	}
	if e.Timeout() {
		details["timeout"] = true
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

// outcomeLabel is the metrics label for an ingestion result
func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	if kind := openapi.KindOf(err); kind != "" {
		return string(kind)
	}
	return CodeInternal
}
