package builder

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teranos/specix/errors"
	"github.com/teranos/specix/ixgest/openapi"
	"go.uber.org/zap/zaptest"
)

const twoOperations = `{
  "openapi": "3.0.3",
  "info": {"title": "Tracker", "version": "1.0.0"},
  "paths": {
    "/pets": {
      "get": {"responses": {"200": {"description": "ok"}}},
      "post": {"responses": {"201": {"description": "created"}}}
    }
  }
}`

type recordingReleaser struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingReleaser) Release(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *recordingReleaser) released() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.paths...)
}

func newResult(t *testing.T, n int) *openapi.Result {
	t.Helper()
	doc, err := openapi3.NewLoader().LoadFromData([]byte(twoOperations))
	require.NoError(t, err)

	url := fmt.Sprintf("https://example.com/spec-%d.json", n)
	return &openapi.Result{
		Metadata:     &openapi.Metadata{URL: url},
		FilePath:     fmt.Sprintf("/tmp/openapi-spec-%d/spec.json", n),
		BytesWritten: 512,
		Document:     &openapi.Document{T: doc},
	}
}

func blockingBuild(ctx context.Context, _ *openapi.Document, _ func(Progress)) ([]Tool, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTracker(t *testing.T, opts ...Option) (*Tracker, *recordingReleaser) {
	releaser := &recordingReleaser{}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t).Sugar())}, opts...)
	return New(releaser, opts...), releaser
}

func waitFor(t *testing.T, tr *Tracker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tr.Wait(ctx))
}

func TestTracker_Lifecycle(t *testing.T) {
	tr, releaser := newTracker(t)

	idle := tr.Status()
	assert.Equal(t, StatusIdle, idle.Status)
	assert.NotNil(t, idle.Tools)
	assert.Empty(t, tr.LastSpecURL())

	result := newResult(t, 1)
	started := tr.Start(result)
	assert.Equal(t, StatusBuilding, started.Status)
	assert.Equal(t, result.Metadata.URL, started.SpecURL)
	assert.EqualValues(t, 512, started.BytesWritten)
	assert.False(t, started.CacheHit)
	assert.NotEmpty(t, started.RunID)
	require.NotNil(t, started.RequestedAt)

	waitFor(t, tr)

	ready := tr.Status()
	assert.Equal(t, StatusReady, ready.Status)
	assert.Empty(t, ready.Tools)
	require.NotNil(t, ready.Progress)
	assert.Equal(t, Progress{Processed: 2, Total: 2}, *ready.Progress)
	assert.Equal(t, []string{result.FilePath}, releaser.released(), "artifact released when the build ends")
	assert.Equal(t, result.Metadata.URL, tr.LastSpecURL())

	stopped := tr.Stop()
	assert.Equal(t, StatusIdle, stopped.Status)
	assert.Empty(t, stopped.SpecURL)
	assert.Equal(t, result.Metadata.URL, tr.LastSpecURL(), "stop keeps the URL for restart")
}

func TestTracker_StartCancelsInFlightBuild(t *testing.T) {
	tr, releaser := newTracker(t, WithBuildFunc(blockingBuild))

	first := newResult(t, 1)
	firstState := tr.Start(first)
	second := newResult(t, 2)
	secondState := tr.Start(second)

	assert.Equal(t, []string{first.FilePath}, releaser.released(), "previous artifact released before Start returns")
	assert.NotEqual(t, firstState.RunID, secondState.RunID)

	status := tr.Status()
	assert.Equal(t, StatusBuilding, status.Status)
	assert.Equal(t, second.Metadata.URL, status.SpecURL)

	stopped := tr.Stop()
	assert.Equal(t, StatusIdle, stopped.Status)
	assert.Equal(t, []string{first.FilePath, second.FilePath}, releaser.released())
	assert.Equal(t, second.Metadata.URL, tr.LastSpecURL())
}

func TestTracker_Fail(t *testing.T) {
	tr, releaser := newTracker(t, WithBuildFunc(func(context.Context, *openapi.Document, func(Progress)) ([]Tool, error) {
		return nil, errors.New("schema too deep")
	}))

	result := newResult(t, 1)
	tr.Start(result)
	waitFor(t, tr)

	status := tr.Status()
	assert.Equal(t, StatusError, status.Status)
	require.NotNil(t, status.Error)
	assert.Equal(t, "schema too deep", status.Error.Message)
	assert.Empty(t, status.Error.Code)
	assert.Equal(t, []string{result.FilePath}, releaser.released())
}

func TestTracker_PanickingBuildFails(t *testing.T) {
	tr, releaser := newTracker(t, WithBuildFunc(func(context.Context, *openapi.Document, func(Progress)) ([]Tool, error) {
		panic("boom")
	}))

	tr.Start(newResult(t, 1))
	waitFor(t, tr)

	status := tr.Status()
	assert.Equal(t, StatusError, status.Status)
	assert.Contains(t, status.Error.Message, "boom")
	assert.Len(t, releaser.released(), 1)
}

func TestTracker_StaleRunIDsIgnored(t *testing.T) {
	tr, _ := newTracker(t, WithBuildFunc(blockingBuild))
	defer tr.Stop()

	assert.False(t, tr.Succeed("nope", nil), "idle tracker accepts no results")

	state := tr.Start(newResult(t, 1))
	assert.False(t, tr.Succeed("nope", nil))
	assert.False(t, tr.Fail("nope", errors.New("x")))
	assert.Equal(t, StatusBuilding, tr.Status().Status)

	require.True(t, tr.Succeed(state.RunID, []Tool{{Name: "listPets"}}))
	assert.Equal(t, StatusReady, tr.Status().Status)
	assert.False(t, tr.Fail(state.RunID, errors.New("late")), "ready is not building")
}

func TestTracker_FailCarriesIngestKind(t *testing.T) {
	tr, _ := newTracker(t, WithBuildFunc(blockingBuild))
	defer tr.Stop()

	state := tr.Start(newResult(t, 1))
	ingestErr := &openapi.Error{Kind: openapi.KindValidationFailed, Message: "Spec failed OpenAPI validation."}
	require.True(t, tr.Fail(state.RunID, ingestErr))

	status := tr.Status()
	assert.Equal(t, "validation_failed", status.Error.Code)
}

func TestTracker_StatusIsACopy(t *testing.T) {
	tr, _ := newTracker(t, WithBuildFunc(blockingBuild))
	defer tr.Stop()

	tr.Start(newResult(t, 1))
	snapshot := tr.Status()
	snapshot.Metadata.URL = "mutated"
	snapshot.Tools = append(snapshot.Tools, Tool{Name: "x"})

	status := tr.Status()
	assert.NotEqual(t, "mutated", status.Metadata.URL)
	assert.Empty(t, status.Tools)
}

func TestTracker_Subscribe(t *testing.T) {
	tr, _ := newTracker(t)
	updates, unsubscribe := tr.Subscribe()

	first := <-updates
	assert.Equal(t, StatusIdle, first.Status)

	tr.Start(newResult(t, 1))

	seen := map[Status]bool{}
	deadline := time.After(2 * time.Second)
	for !seen[StatusReady] {
		select {
		case state := <-updates:
			seen[state.Status] = true
		case <-deadline:
			t.Fatalf("never saw ready, saw %v", seen)
		}
	}
	assert.True(t, seen[StatusBuilding])

	unsubscribe()
	unsubscribe()
	_, open := <-drain(updates)
	assert.False(t, open)
}

// drain discards buffered snapshots and returns the closed channel
func drain(ch <-chan State) <-chan State {
	for range ch {
	}
	return ch
}

func TestTracker_SlowSubscriberKeepsNewest(t *testing.T) {
	tr, _ := newTracker(t, WithBuildFunc(blockingBuild))
	defer tr.Stop()

	updates, unsubscribe := tr.Subscribe()
	defer unsubscribe()

	var last State
	for i := 0; i < subscriberBuffer*3; i++ {
		last = tr.Start(newResult(t, i))
	}

	var newest State
	for len(updates) > 0 {
		newest = <-updates
	}
	assert.Equal(t, last.RunID, newest.RunID)
}

func TestTracker_ConcurrentStarts(t *testing.T) {
	tr, releaser := newTracker(t, WithBuildFunc(blockingBuild))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr.Start(newResult(t, i))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, StatusBuilding, tr.Status().Status)
	assert.Len(t, releaser.released(), 9, "every superseded artifact released")

	tr.Stop()
	released := releaser.released()
	assert.Len(t, released, 10)
	unique := map[string]bool{}
	for _, p := range released {
		unique[p] = true
	}
	assert.Len(t, unique, 10, "each artifact released exactly once")
}

func TestPlaceholderBuild(t *testing.T) {
	result := newResult(t, 1)
	var reports []Progress

	tools, err := PlaceholderBuild(context.Background(), result.Document, func(p Progress) {
		reports = append(reports, p)
	})
	require.NoError(t, err)
	assert.NotNil(t, tools)
	assert.Empty(t, tools)
	assert.Equal(t, []Progress{{Total: 2}, {Processed: 1, Total: 2}, {Processed: 2, Total: 2}}, reports)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = PlaceholderBuild(ctx, result.Document, func(Progress) {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProgressPercentage(t *testing.T) {
	assert.Zero(t, Progress{}.Percentage())
	assert.InDelta(t, 50.0, Progress{Processed: 1, Total: 2}.Percentage(), 0.001)
}

func TestIsValidStatus(t *testing.T) {
	for _, s := range Statuses {
		assert.True(t, IsValidStatus(string(s)))
	}
	assert.False(t, IsValidStatus("paused"))
}
