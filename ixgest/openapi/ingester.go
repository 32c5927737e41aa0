package openapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/teranos/specix/internal/httpclient"
	"github.com/teranos/specix/logger"
	"go.uber.org/zap"
)

const (
	DefaultMaxBytes int64 = 10 * 1024 * 1024
	DefaultTimeout        = 15 * time.Second
)

// Doer sends HTTP requests. *httpclient.SaferClient and *http.Client satisfy it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Options bounds a single ingestion. Zero MaxBytes or Timeout fall back to the
// Ingester defaults; AllowInsecureScheme is OR-ed with the default.
type Options struct {
	MaxBytes            int64
	Timeout             time.Duration
	AllowInsecureScheme bool
}

// DefaultOptions returns the built-in ceilings
func DefaultOptions() Options {
	return Options{MaxBytes: DefaultMaxBytes, Timeout: DefaultTimeout}
}

// Metadata is what the HEAD probe learned about the remote document
type Metadata struct {
	URL           string `json:"url" yaml:"url"`
	ContentLength *int64 `json:"contentLength,omitempty" yaml:"contentLength,omitempty"`
	ETag          string `json:"etag,omitempty" yaml:"etag,omitempty"`
	LastModified  string `json:"lastModified,omitempty" yaml:"lastModified,omitempty"`
	ContentType   string `json:"contentType,omitempty" yaml:"contentType,omitempty"`
}

// Artifact is a downloaded document in temp storage
type Artifact struct {
	Path         string
	BytesWritten int64
}

// Document is a validated OpenAPI 3.x document with every internal $ref resolved
type Document struct {
	*openapi3.T
	Version *semver.Version // Parsed from the openapi field; nil if not semver
}

// PathCount returns the number of path items
func (d *Document) PathCount() int {
	if d.T == nil || d.Paths == nil {
		return 0
	}
	return d.Paths.Len()
}

// OperationCount returns the number of operations across all paths
func (d *Document) OperationCount() int {
	if d.T == nil || d.Paths == nil {
		return 0
	}
	count := 0
	for _, item := range d.Paths.Map() {
		if item != nil {
			count += len(item.Operations())
		}
	}
	return count
}

// Title returns info.title, or "" when info is missing
func (d *Document) Title() string {
	if d.T == nil || d.Info == nil {
		return ""
	}
	return d.Info.Title
}

// Result is a successful ingestion. The caller owns FilePath.
type Result struct {
	Metadata     *Metadata
	FilePath     string
	BytesWritten int64
	Document     *Document
}

// Ingester runs the fetch pipeline. It is safe for concurrent use; calls share
// nothing but the read-mostly defaults.
type Ingester struct {
	mu       sync.RWMutex
	defaults Options

	client Doer
	store  *Store
	log    *zap.SugaredLogger
}

// Option configures an Ingester
type Option func(*Ingester)

// WithHTTPClient sets the client used for probe and download
func WithHTTPClient(client Doer) Option {
	return func(ing *Ingester) { ing.client = client }
}

// WithStore sets the temp storage
func WithStore(store *Store) Option {
	return func(ing *Ingester) { ing.store = store }
}

// WithLogger sets the logger
func WithLogger(log *zap.SugaredLogger) Option {
	return func(ing *Ingester) { ing.log = log }
}

// NewIngester creates an Ingester. Without options it fetches through a
// hardened SaferClient and stores artifacts under the OS temp dir.
func NewIngester(defaults Options, opts ...Option) *Ingester {
	ing := &Ingester{defaults: normalize(defaults, DefaultOptions())}
	for _, opt := range opts {
		opt(ing)
	}

	if ing.client == nil {
		// Scheme policy belongs to Sanitize; the client still refuses
		// private targets and https-to-http redirects.
		ing.client = httpclient.New(httpclient.Options{
			AllowHTTP:      true,
			BlockPrivateIP: true,
			MaxRedirects:   5,
		})
	}
	if ing.store == nil {
		ing.store = NewOsStore("")
	}
	if ing.log == nil {
		ing.log = logger.ComponentLogger("ingest.openapi")
	}
	return ing
}

// Defaults returns the current default options
func (ing *Ingester) Defaults() Options {
	ing.mu.RLock()
	defer ing.mu.RUnlock()
	return ing.defaults
}

// SetDefaults replaces the default options, e.g. after a config reload.
// Zero fields keep the built-in ceilings.
func (ing *Ingester) SetDefaults(defaults Options) {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	ing.defaults = normalize(defaults, DefaultOptions())
}

// Store returns the temp storage in use
func (ing *Ingester) Store() *Store {
	return ing.store
}

// Release deletes an artifact's run directory. Failures are logged, never returned.
func (ing *Ingester) Release(path string) {
	if path == "" {
		return
	}
	if err := ing.store.Remove(path); err != nil {
		ing.log.Warnw("Failed to remove temp artifact",
			logger.FieldFile, path,
			logger.FieldError, err)
	}
}

func (ing *Ingester) resolve(opts Options) Options {
	defaults := ing.Defaults()
	resolved := normalize(opts, defaults)
	resolved.AllowInsecureScheme = opts.AllowInsecureScheme || defaults.AllowInsecureScheme
	return resolved
}

// normalize fills zero or negative ceilings from fallback
func normalize(opts, fallback Options) Options {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = fallback.MaxBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = fallback.Timeout
	}
	return opts
}

// timedOut reports whether err came from ctx's deadline
func timedOut(ctx context.Context, err error) bool {
	if ctx.Err() == context.DeadlineExceeded {
		return true
	}
	type timeout interface{ Timeout() bool }
	t, ok := err.(timeout)
	return ok && t.Timeout()
}
