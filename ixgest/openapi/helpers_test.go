package openapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	petstoreURL = "https://example.com/petstore.json"
	largeURL    = "https://example.com/petstore-large.json"
	invalidURL  = "https://example.com/invalid.json"
	testRoot    = "/tmp/specix-test"
)

// response describes one mocked reply. chunked > 0 streams that many bytes of
// 'a' in 256-byte chunks with no declared length.
type response struct {
	status  int
	header  map[string]string
	body    []byte
	chunked int
	block   bool // wait for the request context to end
	err     error
}

type scenario struct {
	head *response
	get  *response
}

// mockTransport answers requests from URL-keyed scenarios
type mockTransport struct {
	scenarios map[string]scenario
	calls     atomic.Int32
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m.calls.Add(1)

	sc, ok := m.scenarios[req.URL.String()]
	if !ok {
		return nil, &testTransportError{"no mock scenario for " + req.URL.String()}
	}
	r := sc.get
	if req.Method == http.MethodHead {
		r = sc.head
	}
	if r == nil {
		return nil, &testTransportError{"no mock for " + req.Method + " " + req.URL.String()}
	}
	if r.err != nil {
		return nil, r.err
	}

	if r.block {
		<-req.Context().Done()
		return nil, req.Context().Err()
	}

	status := r.status
	if status == 0 {
		status = http.StatusOK
	}

	header := http.Header{}
	for k, v := range r.header {
		header.Set(k, v)
	}

	resp := &http.Response{
		StatusCode:    status,
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		Header:        header,
		Request:       req,
		ContentLength: -1,
		Body:          http.NoBody,
	}

	switch {
	case req.Method == http.MethodHead:
		if cl := header.Get("Content-Length"); cl != "" {
			n, _ := strconv.ParseInt(cl, 10, 64)
			resp.ContentLength = n
		}
	case r.chunked > 0:
		resp.Body = io.NopCloser(&chunkedBody{remaining: r.chunked})
	case r.body != nil:
		resp.Body = io.NopCloser(bytes.NewReader(r.body))
		resp.ContentLength = int64(len(r.body))
		if cl := header.Get("Content-Length"); cl != "" {
			resp.ContentLength, _ = strconv.ParseInt(cl, 10, 64)
		}
	}

	return resp, nil
}

type testTransportError struct{ msg string }

func (e *testTransportError) Error() string { return e.msg }

// chunkedBody emits 256-byte chunks of 'a' until remaining is exhausted
type chunkedBody struct {
	remaining int
}

func (c *chunkedBody) Read(p []byte) (int, error) {
	if c.remaining <= 0 {
		return 0, io.EOF
	}
	n := min(len(p), 256, c.remaining)
	copy(p, strings.Repeat("a", n))
	c.remaining -= n
	return n, nil
}

// stallingBody yields one chunk then blocks until ctx ends
type stallingBody struct {
	ctx  context.Context
	sent bool
}

func (s *stallingBody) Read(p []byte) (int, error) {
	if !s.sent {
		s.sent = true
		return copy(p, `{"openapi":`), nil
	}
	<-s.ctx.Done()
	return 0, s.ctx.Err()
}

// stallingTransport returns headers immediately and a body that stalls
type stallingTransport struct{}

func (stallingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Header:        http.Header{},
		Request:       req,
		ContentLength: -1,
		Body:          io.NopCloser(&stallingBody{ctx: req.Context()}),
	}, nil
}

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/" + name)
	require.NoError(t, err)
	return data
}

func newTestIngester(t *testing.T, transport http.RoundTripper) (*Ingester, *Store) {
	t.Helper()
	store := NewStore(afero.NewMemMapFs(), testRoot)
	ing := NewIngester(DefaultOptions(),
		WithHTTPClient(&http.Client{Transport: transport}),
		WithStore(store),
		WithLogger(zaptest.NewLogger(t).Sugar()),
	)
	return ing, store
}

func petstoreScenario(t *testing.T) scenario {
	body := readFixture(t, "petstore-small.json")
	return scenario{
		head: &response{header: map[string]string{"Content-Length": strconv.Itoa(len(body)), "ETag": `"v1"`}},
		get:  &response{header: map[string]string{"Content-Type": "application/json"}, body: body},
	}
}

func requireNoRuns(t *testing.T, store *Store) {
	t.Helper()
	runs, err := store.Runs()
	require.NoError(t, err)
	require.Empty(t, runs, "temp run directories leaked")
}

func mustSanitize(t *testing.T, raw string) *SanitizedURL {
	t.Helper()
	u, err := Sanitize(raw, false)
	require.NoError(t, err)
	return u
}
