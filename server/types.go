package server

import (
	"context"
	"time"

	"github.com/teranos/specix/ixgest/openapi"
)

// ServerState represents the server lifecycle phase
type ServerState int32

const (
	ServerStateRunning ServerState = iota
	ServerStateDraining
	ServerStateStopped
)

const (
	// ShutdownTimeout bounds graceful HTTP shutdown
	ShutdownTimeout = 10 * time.Second

	// MaxClients caps concurrent status stream connections
	MaxClients = 64

	// minSweepInterval is the shortest period between temp-dir sweeps
	minSweepInterval = time.Minute
)

// Ingestor runs the document pipeline. *openapi.Ingester satisfies it.
type Ingestor interface {
	Ingest(ctx context.Context, url string, opts openapi.Options) (*openapi.Result, error)
	Release(path string)
	SetDefaults(opts openapi.Options)
}

// SpecRequest is the body of POST /api/spec
type SpecRequest struct {
	URL string `json:"url"`
}

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Code     string                 `json:"code"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`
	MaxBytes *int64                 `json:"maxBytes,omitempty"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	State   string `json:"state"`
	Builder string `json:"builder"`
}

// StreamMessage is one frame on the status WebSocket
type StreamMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}
