package profiles_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tap30/beacon-go/internal/events"
	"github.com/Tap30/beacon-go/internal/profiles"
	"github.com/Tap30/beacon-go/internal/session"
	"github.com/Tap30/beacon-go/internal/storage"
	"github.com/Tap30/beacon-go/internal/storage/memory"
	"github.com/Tap30/beacon-go/internal/storage/storagetest"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	backing  *memory.Store
	profiles *profiles.Store
	clock    *quartz.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mClock := quartz.NewMock(t)
	mClock.Set(t0)
	backing := memory.New()
	eventStore := events.NewStore(backing, session.NewResolver(backing), events.WithClock(mClock))
	return &fixture{
		backing:  backing,
		profiles: profiles.NewStore(backing, eventStore, profiles.WithClock(mClock)),
		clock:    mClock,
	}
}

func (f *fixture) events(t *testing.T) []*storage.EventRecord {
	t.Helper()
	recs, err := f.backing.ListEventsSince(context.Background(), "MyAddOn|u1", time.Time{})
	require.NoError(t, err)
	return recs
}

func TestUpsert_FirstAndSecondVisit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := storagetest.Profile("MyAddOn", "u1")
	first.FirstUsage = time.Time{}
	outcome, err := f.profiles.Upsert(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, profiles.OutcomeCreated, outcome)
	assert.Empty(t, f.events(t), "a new user emits no pulse")

	stored, err := f.backing.GetUser(ctx, "MyAddOn", "u1")
	require.NoError(t, err)
	assert.True(t, t0.Equal(stored.FirstUsage))

	f.clock.Advance(time.Hour)
	second := storagetest.Profile("MyAddOn", "u1")
	second.Theme = "dark"
	second.Width = 1280
	second.Extensions = map[string]string{"plan": "pro"}
	outcome, err = f.profiles.Upsert(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, profiles.OutcomeUpdated, outcome)

	stored, err = f.backing.GetUser(ctx, "MyAddOn", "u1")
	require.NoError(t, err)
	assert.True(t, t0.Equal(stored.FirstUsage), "first usage survives updates")
	assert.True(t, t0.Add(time.Hour).Equal(stored.UpdatedAt))
	assert.Equal(t, "dark", stored.Theme)
	assert.Equal(t, 1280, stored.Width)
	assert.Equal(t, map[string]string{"plan": "pro"}, stored.Extensions)

	recs := f.events(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "_pulse", recs[0].Event)
	assert.Equal(t, map[string]string{"plan": "pro"}, recs[0].Extensions)
}

func TestUpsert_IgnoresCallerFirstUsage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := storagetest.Profile("MyAddOn", "u1")
	p.FirstUsage = t0.Add(-24 * time.Hour)
	_, err := f.profiles.Upsert(ctx, p)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	p.FirstUsage = t0.Add(time.Hour)
	_, err = f.profiles.Upsert(ctx, p)
	require.NoError(t, err)

	stored, err := f.backing.GetUser(ctx, "MyAddOn", "u1")
	require.NoError(t, err)
	assert.True(t, t0.Equal(stored.FirstUsage))
	assert.True(t, t0.Add(time.Hour).Equal(p.FirstUsage), "the caller's profile is not modified")
}

func TestUpsert_RepeatedVisitsPulseEachTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.profiles.Upsert(ctx, storagetest.Profile("MyAddOn", "u1"))
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}
	recs := f.events(t)
	require.Len(t, recs, 2)
	assert.Equal(t, recs[0].SessionID, recs[1].SessionID)
}

// racingUsers reports the user missing, then loses the insert to a
// concurrent creation.
type racingUsers struct {
	*memory.Store
	raced bool
}

func (r *racingUsers) GetUser(ctx context.Context, addOn, userID string) (*storage.UserProfile, error) {
	if !r.raced {
		r.raced = true
		winner := storagetest.Profile(addOn, userID)
		winner.FirstUsage = t0.Add(-time.Minute)
		if err := r.Store.InsertUser(ctx, winner); err != nil {
			return nil, err
		}
		return nil, storage.ErrNotFound
	}
	return r.Store.GetUser(ctx, addOn, userID)
}

func TestUpsert_InsertConflictFallsBackToUpdate(t *testing.T) {
	mClock := quartz.NewMock(t)
	mClock.Set(t0)
	backing := memory.New()
	users := &racingUsers{Store: backing}
	eventStore := events.NewStore(backing, session.NewResolver(backing), events.WithClock(mClock))
	store := profiles.NewStore(users, eventStore, profiles.WithClock(mClock))

	p := storagetest.Profile("MyAddOn", "u1")
	p.Theme = "dark"
	outcome, err := store.Upsert(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, profiles.OutcomeUpdated, outcome)

	stored, err := backing.GetUser(context.Background(), "MyAddOn", "u1")
	require.NoError(t, err)
	assert.Equal(t, "dark", stored.Theme)
	assert.True(t, t0.Add(-time.Minute).Equal(stored.FirstUsage), "the winner's first usage is kept")
}

type brokenUsers struct{ *memory.Store }

func (brokenUsers) GetUser(context.Context, string, string) (*storage.UserProfile, error) {
	return nil, errors.New("connection reset")
}

type failingAppender struct{}

func (failingAppender) Append(context.Context, events.AppendRequest) (*storage.EventRecord, error) {
	return nil, errors.New("event table full")
}

func TestUpsert_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("lookup failure", func(t *testing.T) {
		store := profiles.NewStore(brokenUsers{memory.New()}, failingAppender{})
		_, err := store.Upsert(ctx, storagetest.Profile("MyAddOn", "u1"))
		require.ErrorContains(t, err, "connection reset")
	})

	t.Run("pulse failure", func(t *testing.T) {
		backing := memory.New()
		store := profiles.NewStore(backing, failingAppender{})
		_, err := store.Upsert(ctx, storagetest.Profile("MyAddOn", "u1"))
		require.NoError(t, err)

		outcome, err := store.Upsert(ctx, storagetest.Profile("MyAddOn", "u1"))
		require.ErrorContains(t, err, "event table full")
		assert.Equal(t, profiles.OutcomeUpdated, outcome)
	})

	t.Run("missing identity", func(t *testing.T) {
		store := profiles.NewStore(memory.New(), failingAppender{})
		_, err := store.Upsert(ctx, &storage.UserProfile{AddOn: "MyAddOn"})
		require.Error(t, err)
	})
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "created", profiles.OutcomeCreated.String())
	assert.Equal(t, "updated", profiles.OutcomeUpdated.String())
	assert.Equal(t, "unknown", profiles.Outcome(0).String())
}
