package server

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/teranos/specix/errors"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// writeError writes the mapped status and error body for err
func writeError(w http.ResponseWriter, err error) apiError {
	mapped := mapError(err)
	_ = writeJSON(w, mapped.Status, mapped.Body)
	return mapped
}

// readSpecRequest decodes a SpecRequest from a JSON body of at most maxBytes.
// Bodies that are not declared as JSON are treated as empty.
func readSpecRequest(w http.ResponseWriter, r *http.Request, maxBytes int64) (*SpecRequest, error) {
	req := &SpecRequest{}

	if isJSON(r.Header.Get("Content-Type")) {
		body := http.MaxBytesReader(w, r.Body, maxBytes)
		if err := json.NewDecoder(body).Decode(req); err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.NewInvalidRequestError("invalid request body: %v", err)
		}
	}

	if !isAbsoluteURL(req.URL) {
		return nil, errors.NewInvalidRequestError("url must be an absolute URL")
	}
	return req, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

// isAbsoluteURL is the shape check done before ingestion; scheme and host
// policy belong to admission
func isAbsoluteURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && (u.Host != "" || u.Opaque != "")
}
