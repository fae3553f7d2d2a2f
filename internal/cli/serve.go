package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mediaverse/hub/internal/bus"
	"github.com/mediaverse/hub/internal/config"
	"github.com/mediaverse/hub/internal/faults"
	"github.com/mediaverse/hub/internal/httpapi"
	"github.com/mediaverse/hub/internal/media"
	"github.com/mediaverse/hub/internal/orchestrator"
	"github.com/mediaverse/hub/internal/orders"
	"github.com/mediaverse/hub/internal/platform"
	"github.com/mediaverse/hub/internal/prodconfig"
	"github.com/mediaverse/hub/internal/queue"
	"github.com/mediaverse/hub/internal/registry"
	"github.com/mediaverse/hub/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen   string
	Database string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the hub server",
		Long: `Start the dispatch hub: webhook endpoint, media API, background
worker pool and event bus.

Example:
  hub serve --db ./hub.db
  hub serve --config ./hub.yaml --listen :9090 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Listen != "" {
		cfg.ListenAddr = opts.Listen
	}
	if opts.Database != "" {
		cfg.DatabasePath = opts.Database
	}
	if opts.Verbose {
		cfg.Verbose = true
	}

	logLevel := slog.LevelInfo
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	}
	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})

	// The bus carries the log stream too, so it gets a plain logger.
	evb := bus.New(bus.WithLogger(slog.New(textHandler)), bus.WithHistorySize(cfg.HistorySize))
	logger := slog.New(bus.NewLogSink(textHandler, evb))
	slog.SetDefault(logger)

	slog.Info("opening database", "path", cfg.DatabasePath)
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	library := prodconfig.NewLibrary()
	if _, err := os.Stat(cfg.MediaRoot); err == nil {
		loaded, errs := library.LoadDir(cfg.MediaRoot)
		for _, loadErr := range errs {
			slog.Warn("product configuration skipped", "error", loadErr)
		}
		slog.Info("product configurations loaded", "count", loaded)
	}

	reg := registry.New(evb)
	flt := faults.New(evb, logger)
	q := queue.New(queue.WithBus(evb), queue.WithLogger(logger))
	pool := queue.NewPool(q, cfg.Workers, evb, logger)
	builder := orders.NewBuilder(st, library, platform.NewRegistry(), evb, orders.WithLogger(logger))
	orch := orchestrator.New(st, builder, reg, flt, evb, logger)
	importer := media.NewImporter(st, library, q, evb, logger)
	if err := importer.RegisterHandlers(pool); err != nil {
		return WrapExitError(ExitCommandError, "failed to register job handlers", err)
	}

	api := httpapi.New(orch, st, reg, q, flt, logger)
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	evb.StartAsyncWorker()
	pool.Start(ctx)

	errChan := make(chan error, 1)
	go func() {
		slog.Info("hub listening", "addr", cfg.ListenAddr, "workers", cfg.Workers)
		errChan <- server.ListenAndServe()
	}()
	fmt.Fprintln(cmd.OutOrStdout(), "Hub started. Press Ctrl-C to stop.")

	select {
	case <-ctx.Done():
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			pool.Stop()
			evb.StopAsyncWorker()
			return WrapExitError(ExitFailure, "server error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	pool.Stop()
	q.Close()
	evb.StopAsyncWorker()

	slog.Info("hub stopped")
	return nil
}
