// ABOUTME: Tests for the progress channel registry
// ABOUTME: Covers acquire, publish, drain-on-complete, sweep, cancellation and concurrency

package progress

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/sourcing-gateway/internal/metrics"
)

func recvWithin(t *testing.T, ch *Channel, d time.Duration) (Event, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), d)
	defer cancel()
	return ch.Recv(ctx)
}

func TestRegistry_AcquireIsIdempotent(t *testing.T) {
	r := NewRegistry(Config{})
	defer r.Close()

	a := r.Acquire("conv-1")
	b := r.Acquire("conv-1")
	c := r.Acquire("conv-2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, "conv-1", a.ID())
}

func TestRegistry_PublishDeliversInOrder(t *testing.T) {
	r := NewRegistry(Config{})
	defer r.Close()

	ch := r.Acquire("conv-1")
	for _, msg := range []string{"one", "two", "three"} {
		require.True(t, r.Publish("conv-1", Event{Message: msg, Status: StatusInProgress}))
	}

	for _, want := range []string{"one", "two", "three"} {
		ev, err := recvWithin(t, ch, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, ev.Message)
		assert.False(t, ev.Timestamp.IsZero(), "publish stamps missing timestamps")
	}
}

func TestRegistry_PublishWithoutChannelIsDropped(t *testing.T) {
	m := metrics.New()
	r := NewRegistry(Config{Metrics: m})
	defer r.Close()

	assert.False(t, r.Publish("nobody", Event{Message: "lost"}))
	assert.Equal(t, 0, r.Len(), "publish must not create a channel")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProgressEvents.WithLabelValues("dropped")))
}

func TestRegistry_DroppedEventsLogWarnings(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistry(Config{Logger: slog.New(slog.NewTextHandler(&buf, nil))})
	defer r.Close()

	r.Acquire("conv-1")
	r.Complete("conv-1")
	assert.False(t, r.Publish("conv-1", Event{Tool: "keyword_search", Message: "late"}))
	assert.False(t, r.Publish("conv-2", Event{Tool: "keyword_search", Message: "lost"}))

	out := buf.String()
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("level=WARN msg=\"dropped progress event")), out)
	assert.Contains(t, out, "conversation_id=conv-2")
}

func TestRegistry_CompleteDrainsBeforeClosed(t *testing.T) {
	r := NewRegistry(Config{})
	defer r.Close()

	ch := r.Acquire("conv-1")
	const n = 5
	for i := 0; i < n; i++ {
		r.Publish("conv-1", Event{Message: "step", Status: StatusInProgress})
	}
	r.Complete("conv-1")

	assert.Equal(t, 0, r.Len())
	assert.True(t, ch.Closed())

	for i := 0; i < n; i++ {
		_, err := recvWithin(t, ch, time.Second)
		require.NoError(t, err, "event %d should still be readable", i)
	}
	_, err := recvWithin(t, ch, time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRegistry_PublishAfterCompleteIsDropped(t *testing.T) {
	r := NewRegistry(Config{})
	defer r.Close()

	ch := r.Acquire("conv-1")
	r.Complete("conv-1")

	assert.False(t, r.Publish("conv-1", Event{Message: "late"}))
	_, err := recvWithin(t, ch, time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRegistry_CompleteUnknownIsNoOp(t *testing.T) {
	r := NewRegistry(Config{})
	defer r.Close()

	assert.NotPanics(t, func() {
		r.Complete("missing")
		r.Complete("missing")
	})
}

func TestRegistry_CompleteWakesBlockedReader(t *testing.T) {
	r := NewRegistry(Config{})
	defer r.Close()

	ch := r.Acquire("conv-1")
	errc := make(chan error, 1)
	go func() {
		_, err := ch.Recv(t.Context())
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	r.Complete("conv-1")

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("reader was not woken by completion")
	}
}

func TestRegistry_RecvHonoursCancellation(t *testing.T) {
	r := NewRegistry(Config{})
	defer r.Close()

	ch := r.Acquire("conv-1")
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	r.Publish("conv-1", Event{Message: "queued"})
	_, err := ch.Recv(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, ch.Len(), "a cancelled reader must not consume events")
}

func TestRegistry_SweepRemovesOnlyExpired(t *testing.T) {
	m := metrics.New()
	r := NewRegistry(Config{Metrics: m})
	defer r.Close()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base.Add(-2 * time.Hour) }
	old := r.Acquire("old")
	r.now = func() time.Time { return base.Add(-10 * time.Minute) }
	fresh := r.Acquire("fresh")
	r.now = func() time.Time { return base }

	removed := r.SweepExpired(time.Hour)

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, r.Len())
	assert.True(t, old.Closed())
	assert.False(t, fresh.Closed())
	assert.Same(t, fresh, r.Acquire("fresh"))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProgressSwept))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProgressChannels))
}

func TestRegistry_StartSchedulesSweep(t *testing.T) {
	r := NewRegistry(Config{TTL: time.Millisecond, SweepInterval: time.Second})
	require.NoError(t, r.Start())
	require.NoError(t, r.Start(), "second start is a no-op")

	r.Acquire("abandoned")
	assert.Eventually(t, func() bool { return r.Len() == 0 }, 3*time.Second, 50*time.Millisecond)

	r.Close()
	assert.Error(t, r.Start())
}

func TestRegistry_CloseCompletesRemaining(t *testing.T) {
	r := NewRegistry(Config{})
	a := r.Acquire("a")
	b := r.Acquire("b")

	r.Close()
	r.Close()

	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ConcurrentAcquireAndPublish(t *testing.T) {
	r := NewRegistry(Config{})
	defer r.Close()

	const workers = 20
	var wg sync.WaitGroup
	channels := make([]*Channel, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			channels[i] = r.Acquire("shared")
			r.Publish("shared", Event{Message: "hello"})
		}(i)
	}
	wg.Wait()

	for _, ch := range channels {
		assert.Same(t, channels[0], ch)
	}
	assert.Equal(t, workers, channels[0].Len())
}
