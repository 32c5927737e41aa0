package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/specix/am"
	"github.com/teranos/specix/errors"
	"github.com/teranos/specix/ixgest/openapi"
	"github.com/teranos/specix/logger"
	"github.com/teranos/specix/server"
)

var (
	servePort int
	serveBind string
)

// ServeCmd starts the HTTP API
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the specix HTTP API",
	Long: `Start the HTTP API that accepts spec URLs and tracks the build.

Endpoints:
  POST /api/spec             ingest a document and start a build
  GET  /api/server           current build status
  POST /api/server/stop      stop the build and release the artifact
  POST /api/server/restart   re-ingest the last accepted URL
  GET  /api/server/ws        status stream (WebSocket)
  GET  /health               liveness
  GET  /metrics              Prometheus metrics

The active config file is watched; edits to fetch limits, rate limits and
allowed origins apply without a restart.`,
	RunE: runServe,
}

func init() {
	ServeCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides server.port)")
	ServeCmd.Flags().StringVar(&serveBind, "bind", "", "Address to bind (overrides server.bind)")
}

func runServe(cmd *cobra.Command, args []string) error {
	verbosity, _ := cmd.Flags().GetCount("verbose")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveBind != "" {
		cfg.Server.Bind = serveBind
	}

	store := openapi.NewOsStore(cfg.Storage.TempDir)
	opts := []server.Option{
		server.WithStore(store),
		server.WithLogger(logger.ComponentLogger("server")),
	}

	configFile := am.ActiveConfigFile()
	if configFile != "" {
		watcher, err := am.NewConfigWatcher(configFile)
		if err != nil {
			logger.Warnw("Config hot-reload disabled", logger.FieldFile, configFile, logger.FieldError, err)
			configFile = ""
		} else {
			opts = append(opts, server.WithConfigWatcher(watcher))
		}
	}

	srv := server.New(cfg, newIngester(cfg, store), opts...)

	printStartupBanner(cfg, verbosity, configFile)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		// Failed to listen, or stopped through POST /api/server/stop
		if err != nil {
			return errors.Wrap(err, "server stopped")
		}
		pterm.Success.Println("Server stopped")
		return nil
	case <-sigChan:
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")
		cancel()

		select {
		case err := <-errChan:
			if err != nil {
				return errors.Wrap(err, "shutdown error")
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil
		}
	}
}
