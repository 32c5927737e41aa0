package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teranos/specix/am"
	"github.com/teranos/specix/builder"
	"github.com/teranos/specix/ixgest/openapi"
	"github.com/teranos/specix/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Server exposes document ingestion and the build tracker over HTTP
type Server struct {
	ingestor Ingestor
	tracker  *builder.Tracker
	store    *openapi.Store // nil disables the temp-dir sweeper

	limiter         atomic.Pointer[rate.Limiter] // POST /api/spec and restart budget
	maxRequestBytes atomic.Int64
	sweepAfter      atomic.Int64 // time.Duration
	allowedOrigins  atomic.Pointer[[]string]
	addr            string

	configWatcher *am.ConfigWatcher
	metrics       *metrics
	logger        *zap.SugaredLogger

	clients map[*Client]bool
	mu      sync.Mutex

	httpServer *http.Server
	handler    http.Handler

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	state  atomic.Int32
}

// Option configures a Server
type Option func(*Server)

// WithStore enables periodic sweeping of orphaned run directories in store
func WithStore(store *openapi.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithLogger sets the logger
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Server) { s.logger = log }
}

// WithTracker replaces the default build tracker
func WithTracker(tracker *builder.Tracker) Option {
	return func(s *Server) { s.tracker = tracker }
}

// WithConfigWatcher applies config reloads to the running server.
// The server starts and stops the watcher.
func WithConfigWatcher(cw *am.ConfigWatcher) Option {
	return func(s *Server) { s.configWatcher = cw }
}

// New creates a Server for cfg. ing owns every artifact it returns until the
// tracker takes it over.
func New(cfg *am.Config, ing Ingestor, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		ingestor: ing,
		addr:     cfg.Addr(),
		metrics:  newMetrics(),
		clients:  make(map[*Client]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.ComponentLogger("server")
	}
	if s.tracker == nil {
		s.tracker = builder.New(ing, builder.WithLogger(logger.ComponentLogger("builder")))
	}

	s.applyServerConfig(cfg)
	s.metrics.setBuilderStatus(s.tracker.Status().Status)
	s.handler = s.routes()
	s.state.Store(int32(ServerStateRunning))

	if s.configWatcher != nil {
		s.configWatcher.OnReload(func(newCfg *am.Config) error {
			s.ApplyConfig(newCfg)
			return nil
		})
	}

	return s
}

// Handler returns the HTTP handler serving every route
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Tracker returns the build tracker
func (s *Server) Tracker() *builder.Tracker {
	return s.tracker
}

// ApplyConfig re-applies reloadable settings: fetch defaults, the ingestion
// rate limit, the request body cap, allowed origins and the sweep age.
// The listen address is not reloadable.
func (s *Server) ApplyConfig(cfg *am.Config) {
	s.ingestor.SetDefaults(cfg.IngestOptions())
	s.applyServerConfig(cfg)

	s.logger.Infow("Applied reloaded config",
		logger.FieldMaxBytes, cfg.Fetch.MaxBytes,
		logger.FieldTimeoutMS, cfg.Fetch.TimeoutMS,
		"ingest_rate_per_minute", cfg.Server.IngestRatePerMinute)
}

func (s *Server) applyServerConfig(cfg *am.Config) {
	// A reload starts a fresh budget
	s.limiter.Store(rate.NewLimiter(perMinute(cfg.Server.IngestRatePerMinute), cfg.Server.IngestBurst))
	s.maxRequestBytes.Store(cfg.Server.MaxRequestBytes)
	s.sweepAfter.Store(int64(cfg.SweepAfter()))

	origins := append([]string{}, cfg.Server.AllowedOrigins...)
	s.allowedOrigins.Store(&origins)
}

func perMinute(n int) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Every(time.Minute / time.Duration(n))
}

func (s *Server) getState() ServerState {
	return ServerState(s.state.Load())
}

func (s *Server) setState(newState ServerState) {
	s.state.Store(int32(newState))
	s.logger.Infow("Server state changed", logger.FieldState, stateString(newState))
}

// stateString returns human-readable state name
func stateString(state ServerState) string {
	switch state {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
