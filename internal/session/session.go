// Package session stitches events into sessions without a session token:
// an event joins the session of the partition's latest event within the
// inactivity window, or starts a new one.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Tap30/beacon-go/internal/storage"
)

// DefaultInactivity is the gap after which the next event starts a new session.
const DefaultInactivity = 30 * time.Minute

// Resolver assigns session ids by scanning recent events.
//
// Resolution is read-then-write without locking: two first events of an
// identity arriving together can each mint their own session.
type Resolver struct {
	events storage.EventStore
	window time.Duration
	newID  func() (string, error)
}

type Option func(*Resolver)

// WithWindow overrides DefaultInactivity.
func WithWindow(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithIDGenerator replaces the UUIDv7 session id generator.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(r *Resolver) {
		r.newID = fn
	}
}

func NewResolver(events storage.EventStore, opts ...Option) *Resolver {
	r := &Resolver{
		events: events,
		window: DefaultInactivity,
		newID:  newSessionID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Window returns the inactivity window.
func (r *Resolver) Window() time.Duration {
	return r.window
}

// Resolve returns the session id for an event of partitionKey at time at.
// Among records since at-window, the most recent one carrying a session id
// wins; ties on timestamp go to the greatest row key.
func (r *Resolver) Resolve(ctx context.Context, partitionKey string, at time.Time) (string, error) {
	records, err := r.events.ListEventsSince(ctx, partitionKey, at.Add(-r.window))
	if err != nil {
		return "", fmt.Errorf("resolve session: %w", err)
	}

	var latest *storage.EventRecord
	for _, rec := range records {
		if rec.SessionID == "" {
			continue
		}
		if latest == nil || newer(rec, latest) {
			latest = rec
		}
	}
	if latest != nil {
		return latest.SessionID, nil
	}

	id, err := r.newID()
	if err != nil {
		return "", fmt.Errorf("resolve session: new id: %w", err)
	}
	return id, nil
}

func newer(a, b *storage.EventRecord) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.RowKey > b.RowKey
}

func newSessionID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
