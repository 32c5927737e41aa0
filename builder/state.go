// Package builder tracks the single build derived from the most recently
// ingested document.
package builder

import (
	"time"

	"github.com/teranos/specix/ixgest/openapi"
)

// Status is the tracker's current phase
type Status string

const (
	StatusIdle     Status = "idle"
	StatusBuilding Status = "building"
	StatusReady    Status = "ready"
	StatusError    Status = "error"
)

// Statuses lists every Status in transition order
var Statuses = []Status{StatusIdle, StatusBuilding, StatusReady, StatusError}

// IsValidStatus returns true if s names a Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusIdle, StatusBuilding, StatusReady, StatusError:
		return true
	default:
		return false
	}
}

// Progress counts processed operations of the current document
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// Percentage calculates progress as a percentage (0-100)
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Processed) / float64(p.Total) * 100
}

// Tool is one callable derived from the document
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Method      string `json:"method,omitempty"`
	Path        string `json:"path,omitempty"`
}

// BuildError is the failure recorded in the error state
type BuildError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// State is a snapshot of the tracker. Snapshots are copies; mutating one
// never affects the tracker.
type State struct {
	Status       Status            `json:"status"`
	RunID        string            `json:"runId,omitempty"`
	SpecURL      string            `json:"specUrl,omitempty"`
	RequestedAt  *time.Time        `json:"requestedAt,omitempty"`
	Metadata     *openapi.Metadata `json:"metadata,omitempty"`
	BytesWritten int64             `json:"bytesWritten,omitempty"`
	CacheHit     bool              `json:"cacheHit"` // always false: there is no cache
	Progress     *Progress         `json:"progress,omitempty"`
	Tools        []Tool            `json:"tools"`
	Error        *BuildError       `json:"error,omitempty"`
}

func idleState() State {
	return State{Status: StatusIdle, Tools: []Tool{}}
}

// clone deep-copies the pointer and slice fields
func (s State) clone() State {
	out := s
	if s.RequestedAt != nil {
		t := *s.RequestedAt
		out.RequestedAt = &t
	}
	if s.Metadata != nil {
		m := *s.Metadata
		out.Metadata = &m
	}
	if s.Progress != nil {
		p := *s.Progress
		out.Progress = &p
	}
	if s.Error != nil {
		e := *s.Error
		out.Error = &e
	}
	out.Tools = append([]Tool{}, s.Tools...)
	return out
}
