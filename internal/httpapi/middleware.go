package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/Tap30/beacon-go/internal/telemetry"
)

const tracerName = "github.com/Tap30/beacon-go/internal/httpapi"

// tracing starts a server span per request, continuing a trace the caller
// propagated.
func tracing(next http.Handler) http.Handler {
	tracer := telemetry.Tracer(tracerName)
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method)
		defer span.End()
		r = r.WithContext(ctx)

		wrw := middleware.NewWrapResponseWriter(rw, r.ProtoMajor)
		next.ServeHTTP(wrw, r)

		// the route is known only once the router has matched
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route != "" {
			span.SetName(fmt.Sprintf("%s %s", r.Method, route))
			span.SetAttributes(semconv.HTTPRoute(route))
		}
		span.SetAttributes(semconv.HTTPRequestMethodKey.String(r.Method))

		status := wrw.Status()
		if status == 0 {
			status = http.StatusOK
		}
		span.SetAttributes(semconv.HTTPResponseStatusCode(status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	})
}

// requestLogger logs one line per request. Query strings carry user ids and
// are never logged.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrw := middleware.NewWrapResponseWriter(rw, r.ProtoMajor)
			next.ServeHTTP(wrw, r)

			status := wrw.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelDebug
			if status >= http.StatusBadRequest {
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", wrw.BytesWritten()),
				slog.Duration("took", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
