// Package memory is an in-process storage.Store for tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Tap30/beacon-go/internal/storage"
)

type userKey struct {
	addOn  string
	userID string
}

// Store keeps profiles and events in maps guarded by a single mutex.
type Store struct {
	mu     sync.RWMutex
	users  map[userKey]*storage.UserProfile
	events map[string]map[string]*storage.EventRecord
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:  make(map[userKey]*storage.UserProfile),
		events: make(map[string]map[string]*storage.EventRecord),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) GetUser(_ context.Context, addOn, userID string) (*storage.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.users[userKey{addOn, userID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *Store) InsertUser(_ context.Context, p *storage.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userKey{p.AddOn, p.UserID}
	if _, ok := s.users[key]; ok {
		return storage.ErrConflict
	}
	s.users[key] = normalizeProfile(p)
	return nil
}

func (s *Store) UpdateUser(_ context.Context, p *storage.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userKey{p.AddOn, p.UserID}
	if _, ok := s.users[key]; !ok {
		return storage.ErrNotFound
	}
	s.users[key] = normalizeProfile(p)
	return nil
}

func (s *Store) InsertEvent(_ context.Context, r *storage.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	partition, ok := s.events[r.PartitionKey]
	if !ok {
		partition = make(map[string]*storage.EventRecord)
		s.events[r.PartitionKey] = partition
	}
	if _, ok := partition[r.RowKey]; ok {
		return storage.ErrConflict
	}
	c := r.Clone()
	c.Timestamp = storage.Normalize(c.Timestamp)
	c.Extensions = storage.CompactExtensions(c.Extensions)
	partition[r.RowKey] = c
	return nil
}

func (s *Store) ListEventsSince(_ context.Context, partitionKey string, since time.Time) ([]*storage.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*storage.EventRecord
	for _, r := range s.events[partitionKey] {
		if !r.Timestamp.Before(since) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].RowKey < out[j].RowKey
	})
	return out, nil
}

func normalizeProfile(p *storage.UserProfile) *storage.UserProfile {
	c := p.Clone()
	c.FirstUsage = storage.Normalize(c.FirstUsage)
	c.UpdatedAt = storage.Normalize(c.UpdatedAt)
	c.Extensions = storage.CompactExtensions(c.Extensions)
	return c
}
