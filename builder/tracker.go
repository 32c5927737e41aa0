package builder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teranos/specix/errors"
	"github.com/teranos/specix/ixgest/openapi"
	"github.com/teranos/specix/logger"
	"go.uber.org/zap"
)

// Releaser deletes a downloaded artifact. *openapi.Ingester satisfies it.
type Releaser interface {
	Release(path string)
}

// subscriberBuffer is the number of snapshots a slow subscriber may lag behind
const subscriberBuffer = 8

// Tracker is the build status state machine. Start, Succeed, Fail and Stop
// are its only transitions.
//
// Start and Stop are serialised by writeMu and each awaits the previous build
// before touching state, so at most one build runs and its artifact is always
// released before the next run begins. mu guards the state itself and is
// never held while waiting on a build.
type Tracker struct {
	writeMu sync.Mutex

	mu          sync.Mutex
	state       State
	lastSpecURL string
	cancel      context.CancelFunc
	done        chan struct{}
	subscribers map[chan State]struct{}

	build    BuildFunc
	releaser Releaser
	log      *zap.SugaredLogger
}

// Option configures a Tracker
type Option func(*Tracker)

// WithBuildFunc replaces PlaceholderBuild
func WithBuildFunc(fn BuildFunc) Option {
	return func(t *Tracker) { t.build = fn }
}

// WithLogger sets the logger
func WithLogger(log *zap.SugaredLogger) Option {
	return func(t *Tracker) { t.log = log }
}

// New creates an idle Tracker. releaser receives every artifact once its
// build ends.
func New(releaser Releaser, opts ...Option) *Tracker {
	t := &Tracker{
		state:       idleState(),
		subscribers: make(map[chan State]struct{}),
		build:       PlaceholderBuild,
		releaser:    releaser,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logger.ComponentLogger("builder")
	}
	return t
}

// Start moves any state to building for result and launches the build.
// An in-flight build is cancelled and awaited first. The tracker owns
// result.FilePath from here on.
func (t *Tracker) Start(result *openapi.Result) State {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.haltLocked()

	now := time.Now().UTC()
	runID := uuid.NewString()
	specURL := ""
	if result.Metadata != nil {
		specURL = result.Metadata.URL
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	t.mu.Lock()
	t.state = State{
		Status:       StatusBuilding,
		RunID:        runID,
		SpecURL:      specURL,
		RequestedAt:  &now,
		Metadata:     result.Metadata,
		BytesWritten: result.BytesWritten,
		Tools:        []Tool{},
	}
	t.lastSpecURL = specURL
	t.cancel = cancel
	t.done = done
	snapshot := t.publishLocked()
	t.mu.Unlock()

	t.log.Infow("Build started",
		logger.FieldRunID, runID,
		logger.FieldURL, specURL,
		logger.FieldBytes, result.BytesWritten)

	go t.run(ctx, runID, result, done)
	return snapshot
}

// Succeed moves building to ready with tools. Stale run IDs are ignored.
func (t *Tracker) Succeed(runID string, tools []Tool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Status != StatusBuilding || t.state.RunID != runID {
		return false
	}
	t.state.Status = StatusReady
	t.state.Tools = append([]Tool{}, tools...)
	t.publishLocked()

	t.log.Infow("Build ready", logger.FieldRunID, runID, logger.FieldCount, len(tools))
	return true
}

// Fail moves building to error. Stale run IDs are ignored.
func (t *Tracker) Fail(runID string, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Status != StatusBuilding || t.state.RunID != runID {
		return false
	}
	message := "Builder failed"
	if err != nil {
		message = err.Error()
	}
	t.state.Status = StatusError
	t.state.Error = &BuildError{Code: string(openapi.KindOf(err)), Message: message}
	t.publishLocked()

	t.log.Warnw("Build failed", logger.FieldRunID, runID, logger.FieldError, err)
	return true
}

// Stop moves any state to idle, cancelling and awaiting the build.
// The last spec URL is kept for restarts.
func (t *Tracker) Stop() State {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.haltLocked()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = idleState()
	t.log.Infow("Build stopped")
	return t.publishLocked()
}

// haltLocked cancels the running build and waits for it to release its
// artifact. The caller holds writeMu.
func (t *Tracker) haltLocked() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	// A new run ID is assigned by Start; clearing it here keeps the cancelled
	// build from reporting into the next run.
	t.state.RunID = ""
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (t *Tracker) run(ctx context.Context, runID string, result *openapi.Result, done chan struct{}) {
	defer close(done)
	defer t.releaser.Release(result.FilePath)

	tools, err := t.safeBuild(ctx, runID, result.Document)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		t.Fail(runID, err)
		return
	}
	t.Succeed(runID, tools)
}

func (t *Tracker) safeBuild(ctx context.Context, runID string, doc *openapi.Document) (tools []Tool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("build panicked: %v", r)
		}
	}()
	if doc == nil {
		return nil, errors.New("no document to build")
	}
	return t.build(ctx, doc, func(p Progress) { t.report(runID, p) })
}

func (t *Tracker) report(runID string, p Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Status != StatusBuilding || t.state.RunID != runID {
		return
	}
	t.state.Progress = &p
	t.publishLocked()
}

// Status returns a snapshot of the current state
func (t *Tracker) Status() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.clone()
}

// LastSpecURL returns the URL of the most recent Start, or "" if none
func (t *Tracker) LastSpecURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSpecURL
}

// Wait blocks until the current build ends or ctx is done
func (t *Tracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for build")
	}
}

// Subscribe returns a channel that receives the current state immediately
// and every state published afterwards. A subscriber that falls behind loses
// its oldest snapshots, never the newest. Call the returned func to
// unsubscribe; it closes the channel.
func (t *Tracker) Subscribe() (<-chan State, func()) {
	ch := make(chan State, subscriberBuffer)

	t.mu.Lock()
	t.subscribers[ch] = struct{}{}
	ch <- t.state.clone()
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subscribers, ch)
			close(ch)
			t.mu.Unlock()
		})
	}
}

// publishLocked fans the state out to subscribers and returns the snapshot.
// The caller holds mu.
func (t *Tracker) publishLocked() State {
	snapshot := t.state.clone()
	for ch := range t.subscribers {
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot.clone():
			default:
			}
		}
	}
	return snapshot
}

// String renders the state for logs
func (s State) String() string {
	if s.Progress != nil {
		return fmt.Sprintf("%s %d/%d", s.Status, s.Progress.Processed, s.Progress.Total)
	}
	return string(s.Status)
}
