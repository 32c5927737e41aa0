package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teranos/specix/builder"
	"github.com/teranos/specix/ixgest/openapi"
)

func TestHandleSpec_Accepted(t *testing.T) {
	ing := newFakeIngestor()
	s := newTestServer(t, testConfig(), ing)

	rec := postJSON(t, s.Handler(), "/api/spec", SpecRequest{URL: petstoreURL})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	state := decode[builder.State](t, rec)
	assert.Equal(t, builder.StatusBuilding, state.Status)
	assert.Equal(t, petstoreURL, state.SpecURL)
	assert.EqualValues(t, 2048, state.BytesWritten)
	assert.False(t, state.CacheHit)
	assert.NotNil(t, state.Tools)
	assert.Equal(t, []string{petstoreURL}, ing.calls)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	status := httptest.NewRecorder()
	s.Handler().ServeHTTP(status, httptest.NewRequest(http.MethodGet, "/api/server", nil))
	assert.Equal(t, http.StatusOK, status.Code)
	assert.Equal(t, petstoreURL, decode[builder.State](t, status).SpecURL)
}

func TestHandleSpec_InvalidRequest(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{name: "missing url", contentType: "application/json", body: `{}`},
		{name: "empty body", contentType: "application/json", body: ``},
		{name: "malformed json", contentType: "application/json", body: `{"url":`},
		{name: "wrong type", contentType: "application/json", body: `{"url": 42}`},
		{name: "relative url", contentType: "application/json", body: `{"url": "/petstore.json"}`},
		{name: "not json", contentType: "text/plain", body: `{"url": "https://example.com/petstore.json"}`},
		{name: "oversized", contentType: "application/json", body: `{"url": "https://example.com/` + strings.Repeat("a", 2048) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := newFakeIngestor()
			s := newTestServer(t, testConfig(), ing)

			req := httptest.NewRequest(http.MethodPost, "/api/spec", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode[ErrorResponse](t, rec)
			assert.Equal(t, CodeInvalidRequest, body.Code)
			assert.Equal(t, "Invalid request payload.", body.Message)
			assert.Zero(t, ing.callCount(), "invalid requests never reach ingestion")
		})
	}
}

func TestHandleSpec_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "invalid url", err: &openapi.Error{Kind: openapi.KindInvalidURL, Message: "Only HTTPS spec URLs are allowed."}, wantStatus: 422, wantCode: "invalid_url"},
		{name: "probe failed", err: &openapi.Error{Kind: openapi.KindProbeFailed, Message: "HEAD request failed with status 404.", Status: 404}, wantStatus: 502, wantCode: "head_failed"},
		{name: "download failed", err: &openapi.Error{Kind: openapi.KindDownloadFailed, Message: "Failed to download spec."}, wantStatus: 502, wantCode: "download_failed"},
		{name: "validation failed", err: &openapi.Error{Kind: openapi.KindValidationFailed, Message: "Spec failed OpenAPI validation."}, wantStatus: 422, wantCode: "validation_failed"},
		{name: "size exceeded", err: &openapi.Error{Kind: openapi.KindSizeExceeded, Message: "Spec exceeds allowed size (16 bytes).", MaxBytes: 16}, wantStatus: 413, wantCode: "size_exceeded"},
		{name: "unclassified", err: fmt.Errorf("disk on fire"), wantStatus: 500, wantCode: "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := newFakeIngestor()
			ing.errs[petstoreURL] = tt.err
			s := newTestServer(t, testConfig(), ing)

			rec := postJSON(t, s.Handler(), "/api/spec", SpecRequest{URL: petstoreURL})
			assert.Equal(t, tt.wantStatus, rec.Code)

			body := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.NotEmpty(t, body.Message)
			assert.NotContains(t, body.Message, "disk on fire", "internal causes are not exposed")
			assert.Equal(t, builder.StatusIdle, s.Tracker().Status().Status, "failed ingestion never starts a build")
		})
	}
}

func TestHandleSpec_ErrorDetails(t *testing.T) {
	ing := newFakeIngestor()
	ing.errs[petstoreURL] = &openapi.Error{Kind: openapi.KindSizeExceeded, Message: "Spec exceeds allowed size (16 bytes).", MaxBytes: 16}
	ing.errs["https://example.com/missing.json"] = &openapi.Error{Kind: openapi.KindProbeFailed, Message: "HEAD request failed with status 404.", Status: 404}
	s := newTestServer(t, testConfig(), ing)

	size := decode[map[string]interface{}](t, postJSON(t, s.Handler(), "/api/spec", SpecRequest{URL: petstoreURL}))
	assert.EqualValues(t, 16, size["maxBytes"])
	assert.NotContains(t, size, "details")

	probe := decode[map[string]interface{}](t, postJSON(t, s.Handler(), "/api/spec", SpecRequest{URL: "https://example.com/missing.json"}))
	details, ok := probe["details"].(map[string]interface{})
	require.True(t, ok, "upstream failures carry details")
	assert.EqualValues(t, 404, details["status"])
}

func TestHandleRestart(t *testing.T) {
	ing := newFakeIngestor()
	s := newTestServer(t, testConfig(), ing)

	rec := postJSON(t, s.Handler(), "/api/server/restart", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, CodeNoSpecLoaded, body.Code)
	assert.Equal(t, "No spec has been loaded yet.", body.Message)

	require.Equal(t, http.StatusAccepted, postJSON(t, s.Handler(), "/api/spec", SpecRequest{URL: petstoreURL}).Code)
	first := s.Tracker().Status()

	rec = postJSON(t, s.Handler(), "/api/server/restart", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	restarted := decode[builder.State](t, rec)
	assert.Equal(t, petstoreURL, restarted.SpecURL)
	assert.NotEqual(t, first.RunID, restarted.RunID)
	assert.Equal(t, []string{petstoreURL, petstoreURL}, ing.calls)
	assert.Len(t, ing.released, 1, "the superseded artifact is released")
}

func TestHandleStop(t *testing.T) {
	ing := newFakeIngestor()
	s := newTestServer(t, testConfig(), ing)

	require.Equal(t, http.StatusAccepted, postJSON(t, s.Handler(), "/api/spec", SpecRequest{URL: petstoreURL}).Code)

	rec := postJSON(t, s.Handler(), "/api/server/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, builder.StatusIdle, decode[builder.State](t, rec).Status)
	assert.Len(t, ing.released, 1)
	assert.Equal(t, petstoreURL, s.Tracker().LastSpecURL(), "restart still possible after stop")
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, testConfig(), newFakeIngestor())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/spec", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.IngestRatePerMinute = 1
	cfg.Server.IngestBurst = 1
	ing := newFakeIngestor()
	s := newTestServer(t, cfg, ing)

	require.Equal(t, http.StatusAccepted, postJSON(t, s.Handler(), "/api/spec", SpecRequest{URL: petstoreURL}).Code)

	rec := postJSON(t, s.Handler(), "/api/spec", SpecRequest{URL: petstoreURL})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, CodeRateLimited, decode[ErrorResponse](t, rec).Code)

	rec = postJSON(t, s.Handler(), "/api/server/restart", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "restart shares the ingestion budget")
	assert.Equal(t, 1, ing.callCount())

	s.ApplyConfig(testConfig())
	assert.Equal(t, http.StatusAccepted, postJSON(t, s.Handler(), "/api/spec", SpecRequest{URL: petstoreURL}).Code,
		"reloaded limit applies without restart")
}

func TestApplyConfig(t *testing.T) {
	ing := newFakeIngestor()
	s := newTestServer(t, testConfig(), ing)

	cfg := testConfig()
	cfg.Fetch.MaxBytes = 4096
	cfg.Fetch.TimeoutMS = 500
	cfg.Fetch.AllowHTTP = true
	cfg.Server.AllowedOrigins = []string{"https://app.example.com"}
	s.ApplyConfig(cfg)

	assert.Equal(t, openapi.Options{MaxBytes: 4096, Timeout: 500 * time.Millisecond, AllowInsecureScheme: true}, ing.defaults)
	assert.True(t, s.originAllowed("https://app.example.com"))
	assert.False(t, s.originAllowed("http://localhost:3000"))
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, testConfig(), newFakeIngestor())

	tests := []struct {
		name    string
		method  string
		path    string
		origin  string
		allowed bool
	}{
		{"preflight from allowed host on any port", http.MethodOptions, "/api/spec", "http://localhost:5173", true},
		{"allowed host without port", http.MethodGet, "/api/server", "http://localhost", true},
		{"foreign host", http.MethodGet, "/api/server", "https://evil.example.com", false},
		{"look-alike host", http.MethodOptions, "/api/spec", "http://localhost.evil.example", false},
		{"look-alike host with port", http.MethodOptions, "/api/server/stop", "http://localhost.evil.example:5173", false},
		{"scheme mismatch", http.MethodGet, "/api/server", "https://localhost", false},
		{"userinfo trick", http.MethodGet, "/api/server", "http://localhost@evil.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			if tt.allowed {
				assert.Equal(t, tt.origin, rec.Header().Get("Access-Control-Allow-Origin"))
			} else {
				assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestOriginAllowed(t *testing.T) {
	s := newTestServer(t, testConfig(), newFakeIngestor())

	origins := []string{"https://app.example.com:8443", "HTTP://Dashboard.Example.com"}
	s.allowedOrigins.Store(&origins)

	assert.True(t, s.originAllowed("https://app.example.com"))
	assert.True(t, s.originAllowed("https://app.example.com:3000"))
	assert.True(t, s.originAllowed("http://dashboard.example.com:8080"))
	assert.False(t, s.originAllowed("https://app.example.com.evil.example"))
	assert.False(t, s.originAllowed("http://app.example.com"))
	assert.False(t, s.originAllowed("not a url"))
	assert.False(t, s.originAllowed("null"))

	wildcard := []string{"*"}
	s.allowedOrigins.Store(&wildcard)
	assert.True(t, s.originAllowed("https://anything.example"))
	assert.True(t, s.originAllowed("null"))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, testConfig(), newFakeIngestor())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "running", health.State)
	assert.Equal(t, "idle", health.Builder)
	assert.NotEmpty(t, health.Version)
}

func TestMetrics(t *testing.T) {
	ing := newFakeIngestor()
	ing.errs["https://example.com/big.json"] = &openapi.Error{Kind: openapi.KindSizeExceeded, MaxBytes: 1}
	s := newTestServer(t, testConfig(), ing)

	postJSON(t, s.Handler(), "/api/spec", SpecRequest{URL: petstoreURL})
	postJSON(t, s.Handler(), "/api/spec", SpecRequest{URL: "https://example.com/big.json"})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `specix_ingest_total{outcome="success"} 1`)
	assert.Contains(t, body, `specix_ingest_total{outcome="size_exceeded"} 1`)
	assert.Contains(t, body, `specix_builder_status{status="building"} 1`)
	assert.Contains(t, body, "specix_ingest_duration_seconds_count 2")
}

func TestMapError(t *testing.T) {
	timedOut := &openapi.Error{Kind: openapi.KindDownloadFailed, Message: "Spec download timed out.",
		Cause: fmt.Errorf("read: %w", context.DeadlineExceeded)}
	mapped := mapError(timedOut)
	assert.Equal(t, http.StatusBadGateway, mapped.Status)
	assert.Equal(t, true, mapped.Body.Details["timeout"])

	assert.Equal(t, "success", outcomeLabel(nil))
	assert.Equal(t, "download_failed", outcomeLabel(timedOut))
	assert.Equal(t, CodeInternal, outcomeLabel(fmt.Errorf("x")))
}

func TestStatusStream(t *testing.T) {
	ing := newFakeIngestor()
	s := newTestServer(t, testConfig(), ing)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/server/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	var msg struct {
		Type string        `json:"type"`
		Data builder.State `json:"data"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "status", msg.Type)
	assert.Equal(t, builder.StatusIdle, msg.Data.Status)

	require.Equal(t, http.StatusAccepted, postJSON(t, s.Handler(), "/api/spec", SpecRequest{URL: petstoreURL}).Code)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, builder.StatusBuilding, msg.Data.Status)
	assert.Equal(t, petstoreURL, msg.Data.SpecURL)
}

func TestStatusStream_RejectsForeignOrigin(t *testing.T) {
	s := newTestServer(t, testConfig(), newFakeIngestor())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	for _, origin := range []string{"https://evil.example.com", "http://localhost.evil.example"} {
		t.Run(origin, func(t *testing.T) {
			header := http.Header{"Origin": []string{origin}}
			_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/server/ws", header)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

func TestStatusStream_RegisterAfterStop(t *testing.T) {
	s := newTestServer(t, testConfig(), newFakeIngestor())
	require.NoError(t, s.Stop())

	assert.False(t, s.register(&Client{server: s, id: "late"}))
	assert.Empty(t, s.clients)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("rejected client left pumps reserved on the wait group")
	}
}

func TestServe_ShutdownOnCancel(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := openapi.NewStore(fs, "/tmp/specix-server")
	stale, err := store.Create()
	require.NoError(t, err)
	require.NoError(t, stale.Close())
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, fs.Chtimes(filepath.Dir(stale.Name()), old, old))

	ing := newFakeIngestor()
	s := newTestServer(t, testConfig(), ing, WithStore(store))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	runs, err := store.Runs()
	require.NoError(t, err)
	assert.Empty(t, runs, "stale runs swept at start")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Equal(t, ServerStateStopped, s.getState())
	assert.NoError(t, s.Stop(), "second Stop is a no-op")
}
