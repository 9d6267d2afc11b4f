package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Tap30/beacon-go/internal/config"
	"github.com/Tap30/beacon-go/internal/events"
	"github.com/Tap30/beacon-go/internal/httpapi"
	"github.com/Tap30/beacon-go/internal/ingest"
	"github.com/Tap30/beacon-go/internal/metrics"
	"github.com/Tap30/beacon-go/internal/profiles"
	"github.com/Tap30/beacon-go/internal/session"
	"github.com/Tap30/beacon-go/internal/storage/backend"
	"github.com/Tap30/beacon-go/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the beacon ingestion server",
		Long: `Run the HTTP endpoint that decodes beacons and stores profiles and events.

Configuration comes from the environment or a .env file:
  BEACON_STORAGE_CONNECTION  memory:, sqlite:<path>, file:<path> or postgres://… (required)
  HTTP_ADDR                  listen address (default :7071)
  ROUTE_PATH                 ingestion route (default /api/beacon)
  SESSION_INACTIVITY         session gap (default 30m)
  LOG_LEVEL                  debug, info, warn or error (default info)
  MAX_BODY_BYTES             stack trace body limit (default 65536)
  MIGRATE_ON_START           apply Postgres migrations at startup (default true)
  OTEL_ENDPOINT              OTLP/HTTP trace endpoint (tracing off when empty)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.SlogLevel(), rootOpts.Verbose, cfg.IsProduction())
			slog.SetDefault(logger)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			go func() {
				select {
				case sig := <-sigChan:
					logger.Info("received signal, shutting down", "signal", sig)
					cancel()
				case <-ctx.Done():
				}
			}()

			return runServer(ctx, cfg, logger, nil)
		},
	}
}

// runServer serves until ctx ends. ready, if set, receives the bound address.
func runServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, ready func(addr string)) error {
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Error("error flushing traces", "error", err)
		}
	}()

	store, kind, err := backend.Open(cfg.StorageConnection, backend.Options{Migrate: cfg.MigrateOnStart})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("error closing storage", "error", err)
		}
	}()
	logger.Info("storage ready", "backend", string(kind))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	resolver := session.NewResolver(store, session.WithWindow(cfg.Inactivity()))
	eventStore := events.NewStore(store, resolver)
	profileStore := profiles.NewStore(store, eventStore)
	svc := ingest.NewService(profileStore, eventStore, ingest.WithMetrics(m), ingest.WithLogger(logger))

	srv := &http.Server{
		Handler: httpapi.NewHandler(svc, httpapi.Options{
			RoutePath:    cfg.RoutePath,
			MaxBodyBytes: cfg.MaxBodyBytes,
			Logger:       logger,
			Gatherer:     reg,
			Ping:         store.Ping,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
	}
	logger.Info("serving beacons", "addr", ln.Addr().String(), "route", cfg.RoutePath, "session_inactivity", cfg.Inactivity())
	if ready != nil {
		ready(ln.Addr().String())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
