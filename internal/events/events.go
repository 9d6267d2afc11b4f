// Package events appends tracked events to the event table, stamping each
// with the server time and the session it belongs to.
package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/Tap30/beacon-go/internal/session"
	"github.com/Tap30/beacon-go/internal/storage"
	"github.com/Tap30/beacon-go/protocol"
)

// AppendRequest describes one event to record.
type AppendRequest struct {
	AddOn  string
	UserID string
	Kind   string
	// Error is set for _error events.
	Error      *storage.ErrorDetail
	Extensions map[string]string
}

// Store is the append-only event log.
type Store struct {
	events   storage.EventStore
	sessions *session.Resolver
	clock    quartz.Clock
}

type Option func(*Store)

// WithClock sets the clock events are stamped with.
func WithClock(clock quartz.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

func NewStore(events storage.EventStore, sessions *session.Resolver, opts ...Option) *Store {
	s := &Store{
		events:   events,
		sessions: sessions,
		clock:    quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append stamps req with the current time, resolves its session and inserts it.
func (s *Store) Append(ctx context.Context, req AppendRequest) (*storage.EventRecord, error) {
	if req.AddOn == "" || req.UserID == "" || req.Kind == "" {
		return nil, errors.New("append event: add-on, user id and kind are required")
	}

	now := storage.Normalize(s.clock.Now())
	partitionKey := protocol.PartitionKey(req.AddOn, req.UserID)

	sessionID, err := s.sessions.Resolve(ctx, partitionKey, now)
	if err != nil {
		return nil, fmt.Errorf("append %s event: %w", req.Kind, err)
	}

	rowID, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("append %s event: row id: %w", req.Kind, err)
	}

	rec := &storage.EventRecord{
		PartitionKey: partitionKey,
		RowKey:       protocol.RowKey(req.Kind, rowID.String()),
		Event:        req.Kind,
		Timestamp:    now,
		SessionID:    sessionID,
		Error:        req.Error,
		Extensions:   storage.CompactExtensions(req.Extensions),
	}
	if err := s.events.InsertEvent(ctx, rec); err != nil {
		return nil, fmt.Errorf("append %s event: %w", req.Kind, err)
	}
	return rec, nil
}
