package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/teranos/specix/am"
	"github.com/teranos/specix/builder"
	"github.com/teranos/specix/ixgest/openapi"
	"go.uber.org/zap/zaptest"
)

const petstoreURL = "https://example.com/petstore.json"

// fakeIngestor answers Ingest from per-URL errors, succeeding otherwise
type fakeIngestor struct {
	mu       sync.Mutex
	errs     map[string]error
	calls    []string
	released []string
	defaults openapi.Options
}

func newFakeIngestor() *fakeIngestor {
	return &fakeIngestor{errs: map[string]error{}}
}

func (f *fakeIngestor) Ingest(_ context.Context, url string, _ openapi.Options) (*openapi.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	return &openapi.Result{
		Metadata:     &openapi.Metadata{URL: url},
		FilePath:     "/tmp/openapi-spec-test/" + url[len(url)-6:],
		BytesWritten: 2048,
		Document:     &openapi.Document{},
	}, nil
}

func (f *fakeIngestor) Release(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, path)
}

func (f *fakeIngestor) SetDefaults(opts openapi.Options) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaults = opts
}

func (f *fakeIngestor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testConfig() *am.Config {
	return &am.Config{
		Fetch: am.FetchConfig{MaxBytes: am.DefaultMaxBytes, TimeoutMS: am.DefaultTimeoutMS},
		Server: am.ServerConfig{
			Port:                am.DefaultServerPort,
			Bind:                "127.0.0.1",
			IngestRatePerMinute: 600,
			IngestBurst:         100,
			MaxRequestBytes:     1024,
			AllowedOrigins:      []string{"http://localhost"},
		},
		Storage: am.StorageConfig{SweepAfterMinutes: am.DefaultSweepAfterMinutes},
	}
}

// noopBuild keeps the tracker in building until the test moves it
func noopBuild(ctx context.Context, _ *openapi.Document, _ func(builder.Progress)) ([]builder.Tool, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestServer(t *testing.T, cfg *am.Config, ing Ingestor, opts ...Option) *Server {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	tracker := builder.New(ing, builder.WithLogger(log), builder.WithBuildFunc(noopBuild))
	opts = append([]Option{WithLogger(log), WithTracker(tracker)}, opts...)
	s := New(cfg, ing, opts...)
	t.Cleanup(func() { tracker.Stop() })
	return s
}

func postJSON(t *testing.T, h http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
