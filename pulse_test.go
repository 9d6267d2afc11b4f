package beacon

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestPulse_Ticks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mClock := quartz.NewMock(t)
	httpAdapter := &mockHTTPAdapter{}
	client := createTestClient(t, httpAdapter)

	pulse := NewPulse(client, WithPulseClock(mClock))
	require.Equal(t, DefaultPulseInterval, pulse.Interval())
	require.NoError(t, pulse.Start(ctx))
	defer pulse.Stop()

	assert.Equal(t, 0, httpAdapter.calls(), "no pulse before the first interval")

	mClock.Advance(DefaultPulseInterval).MustWait(ctx)
	require.Equal(t, 1, httpAdapter.calls())

	u, err := url.Parse(httpAdapter.last().URL)
	require.NoError(t, err)
	assert.Equal(t, "_pulse", u.Query().Get("e"))
	assert.Equal(t, "u123", u.Query().Get("u"))

	mClock.Advance(DefaultPulseInterval).MustWait(ctx)
	assert.Equal(t, 2, httpAdapter.calls())
}

func TestPulse_CustomInterval(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mClock := quartz.NewMock(t)
	httpAdapter := &mockHTTPAdapter{}
	pulse := NewPulse(createTestClient(t, httpAdapter),
		WithPulseClock(mClock), WithPulseInterval(time.Minute), WithPulseInterval(-1))
	require.Equal(t, time.Minute, pulse.Interval())

	require.NoError(t, pulse.Start(ctx))
	defer pulse.Stop()

	mClock.Advance(time.Minute).MustWait(ctx)
	assert.Equal(t, 1, httpAdapter.calls())
}

func TestPulse_StartTwice(t *testing.T) {
	mClock := quartz.NewMock(t)
	pulse := NewPulse(createTestClient(t, &mockHTTPAdapter{}), WithPulseClock(mClock))

	require.NoError(t, pulse.Start(context.Background()))
	assert.True(t, pulse.Running())
	assert.ErrorIs(t, pulse.Start(context.Background()), ErrPulseRunning)

	pulse.Stop()
	assert.False(t, pulse.Running())
	pulse.Stop()

	require.NoError(t, pulse.Start(context.Background()), "a stopped pulse restarts")
	pulse.Stop()
}

func TestPulse_OnePerClient(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mClock := quartz.NewMock(t)
	httpAdapter := &mockHTTPAdapter{}
	client := createTestClient(t, httpAdapter)

	first := NewPulse(client, WithPulseClock(mClock))
	second := NewPulse(client, WithPulseClock(mClock))

	require.NoError(t, first.Start(ctx))
	assert.ErrorIs(t, second.Start(ctx), ErrPulseRunning)
	assert.False(t, second.Running())

	mClock.Advance(DefaultPulseInterval).MustWait(ctx)
	assert.Equal(t, 1, httpAdapter.calls(), "only one ticker runs per client")

	first.Stop()
	require.NoError(t, second.Start(ctx), "the client is free once the first pulse stops")
	second.Stop()

	other := NewPulse(createTestClient(t, &mockHTTPAdapter{}), WithPulseClock(mClock))
	require.NoError(t, first.Start(ctx))
	require.NoError(t, other.Start(ctx), "pulses of different clients are independent")
	first.Stop()
	other.Stop()
}

func TestPulse_ContextCanceled(t *testing.T) {
	mClock := quartz.NewMock(t)
	client := createTestClient(t, &mockHTTPAdapter{})
	pulse := NewPulse(client, WithPulseClock(mClock))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pulse.Start(ctx))
	cancel()

	require.Eventually(t, func() bool { return !pulse.Running() }, 5*time.Second, time.Millisecond)

	require.NoError(t, pulse.Start(context.Background()), "a pulse whose context ended restarts")
	pulse.Stop()

	second := NewPulse(client, WithPulseClock(mClock))
	require.NoError(t, second.Start(context.Background()))
	second.Stop()
}

func TestPulse_StopAfterFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mClock := quartz.NewMock(t)
	httpAdapter := &mockHTTPAdapter{statusCode: 500}
	pulse := NewPulse(createTestClient(t, httpAdapter), WithPulseClock(mClock))
	require.NoError(t, pulse.Start(ctx))

	mClock.Advance(DefaultPulseInterval).MustWait(ctx)
	mClock.Advance(DefaultPulseInterval).MustWait(ctx)
	assert.Equal(t, 2, httpAdapter.calls(), "failed pulses do not stop the ticker")

	pulse.Stop()
	assert.False(t, pulse.Running())
}

func TestPulse_NoLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pulse := NewPulse(createTestClient(t, &mockHTTPAdapter{}), WithPulseInterval(time.Millisecond))
	require.NoError(t, pulse.Start(context.Background()))
	time.Sleep(5 * time.Millisecond)
	pulse.Stop()
}
