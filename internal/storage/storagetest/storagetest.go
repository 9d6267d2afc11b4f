// Package storagetest is a behavioral test suite shared by every
// storage.Store backend.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tap30/beacon-go/internal/storage"
)

// Run exercises newStore against the storage.Store contract. newStore must
// return an empty store; Run closes it.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Helper()

	open := func(t *testing.T) storage.Store {
		s := newStore(t)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}

	t.Run("Ping", func(t *testing.T) {
		require.NoError(t, open(t).Ping(context.Background()))
	})
	t.Run("GetUserNotFound", func(t *testing.T) { testGetUserNotFound(t, open(t)) })
	t.Run("InsertUser", func(t *testing.T) { testInsertUser(t, open(t)) })
	t.Run("InsertUserConflict", func(t *testing.T) { testInsertUserConflict(t, open(t)) })
	t.Run("UpdateUser", func(t *testing.T) { testUpdateUser(t, open(t)) })
	t.Run("UpdateUserNotFound", func(t *testing.T) { testUpdateUserNotFound(t, open(t)) })
	t.Run("UsersIsolatedByAddOn", func(t *testing.T) { testUsersIsolatedByAddOn(t, open(t)) })
	t.Run("InsertEvent", func(t *testing.T) { testInsertEvent(t, open(t)) })
	t.Run("InsertEventConflict", func(t *testing.T) { testInsertEventConflict(t, open(t)) })
	t.Run("ListEventsSince", func(t *testing.T) { testListEventsSince(t, open(t)) })
	t.Run("ListEventsOrdering", func(t *testing.T) { testListEventsOrdering(t, open(t)) })
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func boolPtr(b bool) *bool { return &b }

// Profile returns a fully populated profile for tests.
func Profile(addOn, userID string) *storage.UserProfile {
	return &storage.UserProfile{
		AddOn:                addOn,
		UserID:               userID,
		Width:                1920,
		Height:               1080,
		ColorDepth:           24,
		PixelDepth:           24,
		Locale:               "en-US",
		Theme:                "light",
		Format:               "en-US",
		Platform:             "chromeBrowser",
		DeviceClass:          "desktop",
		InAppPurchaseAllowed: true,
		PremiumUser:          false,
		Version:              "2.0.1",
		APIVersion:           "1.3.0",
		SimulateFreeUser:     boolPtr(false),
		Extensions:           map[string]string{"plan": "trial"},
		FirstUsage:           baseTime,
		UpdatedAt:            baseTime,
	}
}

// RequireProfileEqual compares profiles, treating timestamps by instant.
func RequireProfileEqual(t *testing.T, want, got *storage.UserProfile) {
	t.Helper()
	require.NotNil(t, got)
	require.True(t, want.FirstUsage.Equal(got.FirstUsage), "FirstUsage: want %v, got %v", want.FirstUsage, got.FirstUsage)
	require.True(t, want.UpdatedAt.Equal(got.UpdatedAt), "UpdatedAt: want %v, got %v", want.UpdatedAt, got.UpdatedAt)

	w, g := want.Clone(), got.Clone()
	w.FirstUsage, g.FirstUsage = time.Time{}, time.Time{}
	w.UpdatedAt, g.UpdatedAt = time.Time{}, time.Time{}
	require.Equal(t, w, g)
}

// RequireEventEqual compares events, treating timestamps by instant.
func RequireEventEqual(t *testing.T, want, got *storage.EventRecord) {
	t.Helper()
	require.NotNil(t, got)
	require.True(t, want.Timestamp.Equal(got.Timestamp), "Timestamp: want %v, got %v", want.Timestamp, got.Timestamp)

	w, g := want.Clone(), got.Clone()
	w.Timestamp, g.Timestamp = time.Time{}, time.Time{}
	require.Equal(t, w, g)
}

func testGetUserNotFound(t *testing.T, s storage.Store) {
	_, err := s.GetUser(context.Background(), "MyAddOn", "nobody")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testInsertUser(t *testing.T, s storage.Store) {
	ctx := context.Background()
	p := Profile("MyAddOn", "u1")
	require.NoError(t, s.InsertUser(ctx, p))

	got, err := s.GetUser(ctx, "MyAddOn", "u1")
	require.NoError(t, err)
	RequireProfileEqual(t, p, got)

	got.Extensions["plan"] = "mutated"
	again, err := s.GetUser(ctx, "MyAddOn", "u1")
	require.NoError(t, err)
	assert.Equal(t, "trial", again.Extensions["plan"], "returned profiles are copies")
}

func testInsertUserConflict(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertUser(ctx, Profile("MyAddOn", "u1")))
	require.ErrorIs(t, s.InsertUser(ctx, Profile("MyAddOn", "u1")), storage.ErrConflict)
}

func testUpdateUser(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertUser(ctx, Profile("MyAddOn", "u1")))

	updated := Profile("MyAddOn", "u1")
	updated.Width = 800
	updated.Theme = "dark"
	updated.PremiumUser = true
	updated.SimulateFreeUser = nil
	updated.Extensions = nil
	updated.UpdatedAt = baseTime.Add(time.Hour)
	require.NoError(t, s.UpdateUser(ctx, updated))

	got, err := s.GetUser(ctx, "MyAddOn", "u1")
	require.NoError(t, err)
	RequireProfileEqual(t, updated, got)
}

func testUpdateUserNotFound(t *testing.T, s storage.Store) {
	err := s.UpdateUser(context.Background(), Profile("MyAddOn", "ghost"))
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testUsersIsolatedByAddOn(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := Profile("AddOnA", "u1")
	b := Profile("AddOnB", "u1")
	b.Theme = "dark"
	require.NoError(t, s.InsertUser(ctx, a))
	require.NoError(t, s.InsertUser(ctx, b))

	got, err := s.GetUser(ctx, "AddOnA", "u1")
	require.NoError(t, err)
	assert.Equal(t, "light", got.Theme)

	got, err = s.GetUser(ctx, "AddOnB", "u1")
	require.NoError(t, err)
	assert.Equal(t, "dark", got.Theme)
}

func testInsertEvent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	plain := &storage.EventRecord{
		PartitionKey: "MyAddOn|u1",
		RowKey:       "create_rectangle|0001",
		Event:        "create_rectangle",
		Timestamp:    baseTime,
		SessionID:    "s1",
		Extensions:   map[string]string{"param1": "_test"},
	}
	failure := &storage.EventRecord{
		PartitionKey: "MyAddOn|u1",
		RowKey:       "_error|0002",
		Event:        "_error",
		Timestamp:    baseTime.Add(time.Second),
		SessionID:    "s1",
		Error:        &storage.ErrorDetail{Name: "TypeError", Message: "x is undefined", Cause: "boom", Stack: "at a.ts:1"},
	}
	require.NoError(t, s.InsertEvent(ctx, plain))
	require.NoError(t, s.InsertEvent(ctx, failure))

	got, err := s.ListEventsSince(ctx, "MyAddOn|u1", baseTime)
	require.NoError(t, err)
	require.Len(t, got, 2)
	RequireEventEqual(t, plain, got[0])
	RequireEventEqual(t, failure, got[1])
}

func testInsertEventConflict(t *testing.T, s storage.Store) {
	ctx := context.Background()
	r := &storage.EventRecord{PartitionKey: "MyAddOn|u1", RowKey: "click|1", Event: "click", Timestamp: baseTime}
	require.NoError(t, s.InsertEvent(ctx, r))
	require.ErrorIs(t, s.InsertEvent(ctx, r), storage.ErrConflict)
}

func testListEventsSince(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for i, offset := range []time.Duration{0, 10 * time.Minute, 20 * time.Minute} {
		require.NoError(t, s.InsertEvent(ctx, &storage.EventRecord{
			PartitionKey: "MyAddOn|u1",
			RowKey:       "click|" + string(rune('a'+i)),
			Event:        "click",
			Timestamp:    baseTime.Add(offset),
		}))
	}
	require.NoError(t, s.InsertEvent(ctx, &storage.EventRecord{
		PartitionKey: "MyAddOn|u2",
		RowKey:       "click|z",
		Event:        "click",
		Timestamp:    baseTime.Add(15 * time.Minute),
	}))

	got, err := s.ListEventsSince(ctx, "MyAddOn|u1", baseTime.Add(10*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2, "the lower bound is inclusive")
	assert.Equal(t, "click|b", got[0].RowKey)
	assert.Equal(t, "click|c", got[1].RowKey)

	got, err = s.ListEventsSince(ctx, "MyAddOn|u1", baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.ListEventsSince(ctx, "Other|u1", baseTime)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testListEventsOrdering(t *testing.T, s storage.Store) {
	ctx := context.Background()
	insert := func(rowKey string, at time.Time) {
		require.NoError(t, s.InsertEvent(ctx, &storage.EventRecord{
			PartitionKey: "MyAddOn|u1", RowKey: rowKey, Event: "click", Timestamp: at,
		}))
	}
	insert("click|c", baseTime.Add(time.Minute))
	insert("click|b", baseTime)
	insert("click|a", baseTime)

	got, err := s.ListEventsSince(ctx, "MyAddOn|u1", baseTime)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"click|a", "click|b", "click|c"},
		[]string{got[0].RowKey, got[1].RowKey, got[2].RowKey})
}
