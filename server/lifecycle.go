package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/teranos/specix/errors"
	"github.com/teranos/specix/logger"
)

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.WithHintf(errors.Wrapf(err, "failed to listen on %s", s.addr),
			"set server.port or SPECIX_SERVER_PORT to a free port")
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or Stop is called
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	s.startBackgroundServices()

	s.logger.Infow("Server ready", logger.FieldURL, "http://"+ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = s.Stop()
			return errors.Wrap(err, "server failed")
		}
		return nil
	case <-ctx.Done():
		return s.Stop()
	case <-s.ctx.Done():
		return nil
	}
}

// startBackgroundServices starts the config watcher, the temp-dir sweeper and
// the builder status gauge
func (s *Server) startBackgroundServices() {
	if s.configWatcher != nil {
		s.configWatcher.Start()
		s.logger.Infow("Config watcher started")
	}

	if s.store != nil {
		s.sweep()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runSweeper()
		}()
	}

	updates, unsubscribe := s.tracker.Subscribe()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		for {
			select {
			case <-s.ctx.Done():
				return
			case state := <-updates:
				s.metrics.setBuilderStatus(state.Status)
			}
		}
	}()
}

func (s *Server) runSweeper() {
	ticker := time.NewTicker(s.sweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
			ticker.Reset(s.sweepInterval())
		}
	}
}

func (s *Server) sweepInterval() time.Duration {
	interval := time.Duration(s.sweepAfter.Load()) / 2
	if interval < minSweepInterval {
		return minSweepInterval
	}
	return interval
}

// sweep removes run directories older than the configured age.
// A zero age disables sweeping.
func (s *Server) sweep() {
	age := time.Duration(s.sweepAfter.Load())
	if s.store == nil || age <= 0 {
		return
	}

	removed, err := s.store.Sweep(time.Now().Add(-age))
	if removed > 0 {
		s.metrics.sweptRuns.Add(float64(removed))
		s.logger.Infow("Swept orphaned temp runs",
			logger.FieldCount, removed,
			logger.FieldPath, s.store.Root())
	}
	if err != nil {
		s.logger.Warnw("Temp run sweep incomplete", logger.FieldError, err)
	}
}

// Stop drains HTTP traffic, stops the build and closes status streams.
// It is safe to call more than once.
func (s *Server) Stop() error {
	s.mu.Lock()
	draining := s.state.CompareAndSwap(int32(ServerStateRunning), int32(ServerStateDraining))
	s.mu.Unlock()
	if !draining {
		return nil
	}
	s.logger.Infow("Initiating server shutdown")

	var shutdownErr error
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			shutdownErr = errors.Wrap(err, "HTTP shutdown incomplete")
		}
		cancel()
	}

	// Releases the active artifact
	s.tracker.Stop()

	if s.configWatcher != nil {
		if err := s.configWatcher.Stop(); err != nil {
			s.logger.Warnw("Failed to stop config watcher", logger.FieldError, err)
		}
	}

	s.mu.Lock()
	clientsToClose := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clientsToClose = append(clientsToClose, client)
	}
	s.mu.Unlock()

	// Cancel context to stop write pumps and background services
	s.cancel()
	for _, client := range clientsToClose {
		_ = client.conn.Close() // unblocks readPump
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Debugw("All goroutines stopped cleanly")
	case <-time.After(ShutdownTimeout):
		s.logger.Warnw("Goroutine shutdown timed out", logger.FieldTimeoutMS, ShutdownTimeout.Milliseconds())
	}

	s.setState(ServerStateStopped)
	s.logger.Infow("Server shutdown complete")
	return shutdownErr
}
