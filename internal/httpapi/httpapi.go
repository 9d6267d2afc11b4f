// Package httpapi serves the beacon ingestion endpoint.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tap30/beacon-go/internal/ingest"
	"github.com/Tap30/beacon-go/protocol"
)

// LegacyRoutePath is the route deployed clients were built against.
const LegacyRoutePath = "/api/expressAnalytics"

// DefaultMaxBodyBytes caps the _error stack body when Options leaves it unset.
const DefaultMaxBodyBytes = 64 << 10

const processedBody = "Processed"

// Processor persists one beacon.
type Processor interface {
	Process(ctx context.Context, values url.Values, body string) (ingest.Result, error)
}

// Options configure NewHandler.
type Options struct {
	// RoutePath is the ingestion route; defaults to /api/beacon.
	RoutePath    string
	MaxBodyBytes int64
	Logger       *slog.Logger
	// Gatherer backs /metrics. The route is omitted when nil.
	Gatherer prometheus.Gatherer
	// Ping backs /healthz. Nil reports healthy.
	Ping func(ctx context.Context) error
}

type handler struct {
	processor    Processor
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewHandler returns the HTTP handler for the ingestion server.
func NewHandler(processor Processor, opts Options) http.Handler {
	if opts.RoutePath == "" {
		opts.RoutePath = "/api/beacon"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h := &handler{
		processor:    processor,
		maxBodyBytes: opts.MaxBodyBytes,
		logger:       opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(tracing)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	paths := []string{opts.RoutePath}
	if opts.RoutePath != LegacyRoutePath {
		paths = append(paths, LegacyRoutePath)
	}
	for _, path := range paths {
		r.Get(path, h.serveBeacon)
		r.Post(path, h.serveBeacon)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := opts.Ping(ctx); err != nil {
				h.logger.WarnContext(r.Context(), "health check failed", "err", err)
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		writeText(w, http.StatusOK, "ok")
	})

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// serveBeacon answers 200 "Processed" or 401 with the error text.
func (h *handler) serveBeacon(w http.ResponseWriter, r *http.Request) {
	values, err := url.ParseQuery(r.URL.RawQuery)
	if err != nil {
		h.reject(w, r, err)
		return
	}

	var body string
	if r.Method == http.MethodPost && values.Get(string(protocol.KeyEvent)) == protocol.EventError {
		b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				err = errors.New("stack trace exceeds the body limit")
			}
			h.reject(w, r, err)
			return
		}
		body = string(b)
	}

	if _, err := h.processor.Process(r.Context(), values, body); err != nil {
		h.reject(w, r, err)
		return
	}
	writeText(w, http.StatusOK, processedBody)
}

func (h *handler) reject(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WarnContext(r.Context(), "beacon rejected",
		"err", err,
		"request_id", middleware.GetReqID(r.Context()),
	)
	writeText(w, http.StatusUnauthorized, err.Error())
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
