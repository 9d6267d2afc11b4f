// Package profiles keeps the latest profile of every user, preserving the
// time the user was first seen.
package profiles

import (
	"context"
	"errors"
	"fmt"

	"github.com/coder/quartz"

	"github.com/Tap30/beacon-go/internal/events"
	"github.com/Tap30/beacon-go/internal/storage"
	"github.com/Tap30/beacon-go/protocol"
)

// Outcome reports which path an upsert took.
type Outcome int

const (
	OutcomeCreated Outcome = iota + 1
	OutcomeUpdated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// EventAppender records the _pulse emitted when a known user returns.
type EventAppender interface {
	Append(ctx context.Context, req events.AppendRequest) (*storage.EventRecord, error)
}

// Store upserts user profiles.
type Store struct {
	users  storage.UserStore
	events EventAppender
	clock  quartz.Clock
}

type Option func(*Store)

// WithClock sets the clock for FirstUsage and UpdatedAt.
func WithClock(clock quartz.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

func NewStore(users storage.UserStore, events EventAppender, opts ...Option) *Store {
	s := &Store{
		users:  users,
		events: events,
		clock:  quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert stores p as the user's current profile.
//
// A new user is inserted with FirstUsage set to now. A known user has every
// field replaced except FirstUsage, which keeps its stored value, and a
// _pulse event carrying p's extensions is appended. If the insert loses a
// race with a concurrent creation the upsert continues as an update.
func (s *Store) Upsert(ctx context.Context, p *storage.UserProfile) (Outcome, error) {
	if p.AddOn == "" || p.UserID == "" {
		return 0, errors.New("upsert user: add-on and user id are required")
	}

	now := storage.Normalize(s.clock.Now())
	profile := p.Clone()
	profile.UpdatedAt = now

	existing, err := s.users.GetUser(ctx, profile.AddOn, profile.UserID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		profile.FirstUsage = now
		err = s.users.InsertUser(ctx, profile)
		if err == nil {
			return OutcomeCreated, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return 0, fmt.Errorf("upsert user: %w", err)
		}
		existing, err = s.users.GetUser(ctx, profile.AddOn, profile.UserID)
		if err != nil {
			return 0, fmt.Errorf("upsert user: after conflict: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("upsert user: %w", err)
	}

	profile.FirstUsage = existing.FirstUsage
	if err := s.users.UpdateUser(ctx, profile); err != nil {
		return 0, fmt.Errorf("upsert user: %w", err)
	}

	_, err = s.events.Append(ctx, events.AppendRequest{
		AddOn:      profile.AddOn,
		UserID:     profile.UserID,
		Kind:       protocol.EventPulse,
		Extensions: profile.Extensions,
	})
	if err != nil {
		return OutcomeUpdated, fmt.Errorf("upsert user: pulse: %w", err)
	}
	return OutcomeUpdated, nil
}
