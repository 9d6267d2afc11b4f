// Package storage defines the records the ingestion backend persists and the
// table-storage interfaces its backends implement.
package storage

import (
	"context"
	"errors"
	"io"
	"maps"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when inserting a record whose key is taken.
	ErrConflict = errors.New("storage: conflict")
)

// UserProfile is the latest known state of one user of one add-on.
type UserProfile struct {
	AddOn  string
	UserID string

	Width                int
	Height               int
	ColorDepth           int
	PixelDepth           int
	Locale               string
	Theme                string
	Format               string
	Platform             string
	DeviceClass          string
	InAppPurchaseAllowed bool
	PremiumUser          bool
	Version              string
	APIVersion           string
	// SimulateFreeUser is nil unless a development client sent it.
	SimulateFreeUser *bool

	Extensions map[string]string

	// FirstUsage is set once, when the profile is created.
	FirstUsage time.Time
	UpdatedAt  time.Time
}

// Clone returns a deep copy of p.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	out := *p
	if p.SimulateFreeUser != nil {
		v := *p.SimulateFreeUser
		out.SimulateFreeUser = &v
	}
	out.Extensions = maps.Clone(p.Extensions)
	return &out
}

// ErrorDetail is the payload of an _error event.
type ErrorDetail struct {
	Name    string
	Message string
	Cause   string
	Stack   string
}

// EventRecord is one appended event. Records are never updated.
type EventRecord struct {
	// PartitionKey is "<addOn>|<userID>" with each part escaped, see
	// protocol.PartitionKey.
	PartitionKey string
	// RowKey is "<kind>|<uuid>".
	RowKey    string
	Event     string
	Timestamp time.Time
	SessionID string
	Error     *ErrorDetail

	Extensions map[string]string
}

// Clone returns a deep copy of r.
func (r *EventRecord) Clone() *EventRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Error != nil {
		e := *r.Error
		out.Error = &e
	}
	out.Extensions = maps.Clone(r.Extensions)
	return &out
}

// UserStore persists user profiles keyed by (AddOn, UserID).
type UserStore interface {
	// GetUser returns ErrNotFound when no profile exists.
	GetUser(ctx context.Context, addOn, userID string) (*UserProfile, error)
	// InsertUser returns ErrConflict when the profile already exists.
	InsertUser(ctx context.Context, p *UserProfile) error
	// UpdateUser replaces every column of an existing profile. It returns
	// ErrNotFound when there is nothing to replace.
	UpdateUser(ctx context.Context, p *UserProfile) error
}

// EventStore persists event records keyed by (PartitionKey, RowKey).
type EventStore interface {
	// InsertEvent returns ErrConflict when the row key is taken.
	InsertEvent(ctx context.Context, r *EventRecord) error
	// ListEventsSince returns the partition's events with
	// Timestamp >= since, oldest first, ties ordered by RowKey.
	ListEventsSince(ctx context.Context, partitionKey string, since time.Time) ([]*EventRecord, error)
}

// Store is a complete storage backend.
type Store interface {
	UserStore
	EventStore
	Ping(ctx context.Context) error
	io.Closer
}

// Precision is the timestamp resolution every backend preserves.
const Precision = time.Millisecond

// Normalize truncates t to Precision in UTC, matching what a backend
// returns after a round trip.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(Precision)
}

// CompactExtensions returns nil for an empty map so that every backend
// reports "no extensions" the same way.
func CompactExtensions(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}
