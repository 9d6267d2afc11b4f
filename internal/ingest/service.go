// Package ingest decodes beacons and persists them as profiles and events.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/coder/quartz"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tap30/beacon-go/internal/events"
	"github.com/Tap30/beacon-go/internal/metrics"
	"github.com/Tap30/beacon-go/internal/profiles"
	"github.com/Tap30/beacon-go/internal/storage"
	"github.com/Tap30/beacon-go/internal/telemetry"
	"github.com/Tap30/beacon-go/protocol"
)

const tracerName = "github.com/Tap30/beacon-go/internal/ingest"

// ProfileUpserter stores _user beacons.
type ProfileUpserter interface {
	Upsert(ctx context.Context, p *storage.UserProfile) (profiles.Outcome, error)
}

// EventAppender stores every other beacon.
type EventAppender interface {
	Append(ctx context.Context, req events.AppendRequest) (*storage.EventRecord, error)
}

// Result describes what a processed beacon produced.
type Result struct {
	Event string
	// Outcome is set for _user beacons.
	Outcome profiles.Outcome
	// Record is the appended event, for every other beacon.
	Record *storage.EventRecord
}

// Service routes decoded beacons to the profile and event stores.
type Service struct {
	profiles ProfileUpserter
	events   EventAppender
	metrics  *metrics.Metrics
	logger   *slog.Logger
	clock    quartz.Clock
	tracer   trace.Tracer
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock sets the clock used to time beacons.
func WithClock(clock quartz.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

func NewService(profiles ProfileUpserter, events EventAppender, opts ...Option) *Service {
	s := &Service{
		profiles: profiles,
		events:   events,
		logger:   slog.Default(),
		clock:    quartz.NewReal(),
		tracer:   telemetry.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process decodes one beacon and persists it.
func (s *Service) Process(ctx context.Context, values url.Values, body string) (Result, error) {
	start := s.clock.Now()
	kind := values.Get(string(protocol.KeyEvent))

	ctx, span := s.tracer.Start(ctx, "ingest.Process",
		trace.WithAttributes(attribute.String("beacon.kind", metrics.KindLabel(kind))))
	defer span.End()

	res, err := s.process(ctx, values, body)
	s.metrics.RecordBeacon(kind, s.clock.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	if res.Outcome != 0 {
		span.SetAttributes(attribute.String("beacon.profile_outcome", res.Outcome.String()))
	}
	return res, nil
}

func (s *Service) process(ctx context.Context, values url.Values, body string) (Result, error) {
	req, err := Decode(values, body)
	if err != nil {
		return Result{}, err
	}
	return s.Handle(ctx, req)
}

// Handle persists an already decoded request.
func (s *Service) Handle(ctx context.Context, req Request) (Result, error) {
	hdr := req.Header()
	logger := s.logger.With("event", hdr.Event, "add_on", hdr.AddOn)

	switch r := req.(type) {
	case *UserUpsertRequest:
		outcome, err := s.profiles.Upsert(ctx, r.Profile())
		if err != nil {
			return Result{}, fmt.Errorf("process %s: %w", hdr.Event, err)
		}
		s.metrics.RecordUpsert(outcome.String())
		logger.DebugContext(ctx, "profile upserted", "outcome", outcome.String())
		return Result{Event: hdr.Event, Outcome: outcome}, nil

	case *ErrorEventRequest:
		rec, err := s.events.Append(ctx, events.AppendRequest{
			AddOn:      hdr.AddOn,
			UserID:     hdr.UserID,
			Kind:       hdr.Event,
			Error:      r.Detail(),
			Extensions: hdr.Extensions,
		})
		if err != nil {
			return Result{}, fmt.Errorf("process %s: %w", hdr.Event, err)
		}
		logger.DebugContext(ctx, "error recorded", "error_name", r.Name, "session", rec.SessionID)
		return Result{Event: hdr.Event, Record: rec}, nil

	case *GenericEventRequest:
		rec, err := s.events.Append(ctx, events.AppendRequest{
			AddOn:      hdr.AddOn,
			UserID:     hdr.UserID,
			Kind:       hdr.Event,
			Extensions: hdr.Extensions,
		})
		if err != nil {
			return Result{}, fmt.Errorf("process %s: %w", hdr.Event, err)
		}
		logger.DebugContext(ctx, "event recorded", "session", rec.SessionID)
		return Result{Event: hdr.Event, Record: rec}, nil

	default:
		return Result{}, fmt.Errorf("unsupported request %T", req)
	}
}
