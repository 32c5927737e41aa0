package commands

import (
	"fmt"
	"strings"

	"github.com/teranos/specix/am"
	"github.com/teranos/specix/errors"
	"github.com/teranos/specix/internal/httpclient"
	"github.com/teranos/specix/ixgest/openapi"
	"github.com/teranos/specix/logger"
)

// loadConfig loads and validates the configuration
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

// newIngester wires an Ingester from cfg
func newIngester(cfg *am.Config, store *openapi.Store) *openapi.Ingester {
	clientOpts := cfg.HTTPClientOptions()
	clientOpts.Logger = logger.ComponentLogger("httpclient")

	return openapi.NewIngester(cfg.IngestOptions(),
		openapi.WithHTTPClient(httpclient.New(clientOpts)),
		openapi.WithStore(store),
		openapi.WithLogger(logger.ComponentLogger("ingest.openapi")),
	)
}

// FormatError renders err with any hints attached to it
func FormatError(err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error: %v", err)
	for _, hint := range errors.GetAllHints(err) {
		fmt.Fprintf(&b, "\nHint: %s", hint)
	}
	return b.String()
}
