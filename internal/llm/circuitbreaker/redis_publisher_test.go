package circuitbreaker_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-promptexec/internal/llm/circuitbreaker"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisPublisherPublishAndLoad(t *testing.T) {
	mr, client := newRedis(t)
	pub := circuitbreaker.NewRedisPublisher(client)
	t.Cleanup(func() { _ = pub.Close() })
	ctx := context.Background()

	openedAt := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	want := circuitbreaker.Status{State: circuitbreaker.StateOpen, FailureCount: 3, OpenedAt: openedAt}
	require.NoError(t, pub.Publish(ctx, "fast", want))

	assert.Equal(t, "promptexec:circuit:fast", pub.Key("fast"))
	assert.Equal(t, "open", mr.HGet("promptexec:circuit:fast", "state"))
	assert.Equal(t, "3", mr.HGet("promptexec:circuit:fast", "failure_count"))

	got, err := pub.Load(ctx, "fast")
	require.NoError(t, err)
	assert.True(t, want.OpenedAt.Equal(got.OpenedAt))
	assert.Equal(t, want.State, got.State)
	assert.Equal(t, want.FailureCount, got.FailureCount)

	require.NoError(t, pub.Publish(ctx, "fast", circuitbreaker.Status{State: circuitbreaker.StateClosed}))
	got, err = pub.Load(ctx, "fast")
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.Status{State: circuitbreaker.StateClosed}, got)
}

func TestRedisPublisherLoadMissing(t *testing.T) {
	_, client := newRedis(t)
	pub := circuitbreaker.NewRedisPublisher(client)
	t.Cleanup(func() { _ = pub.Close() })

	_, err := pub.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, circuitbreaker.ErrStatusNotFound)
}

func TestRedisPublisherPrefixAndTTL(t *testing.T) {
	mr, client := newRedis(t)
	pub := circuitbreaker.NewRedisPublisher(client,
		circuitbreaker.WithKeyPrefix("test:cb:"),
		circuitbreaker.WithStatusTTL(time.Minute),
	)
	t.Cleanup(func() { _ = pub.Close() })

	require.NoError(t, pub.PublishAll(context.Background(), map[string]circuitbreaker.Status{
		"a": {State: circuitbreaker.StateClosed},
		"b": {State: circuitbreaker.StateClosed, FailureCount: 1},
	}))

	assert.True(t, mr.Exists("test:cb:a"))
	assert.True(t, mr.Exists("test:cb:b"))
	assert.Equal(t, time.Minute, mr.TTL("test:cb:a"))
}

func TestRedisPublisherObservesBreaker(t *testing.T) {
	_, client := newRedis(t)
	pub := circuitbreaker.NewRedisPublisher(client)

	b := circuitbreaker.New(circuitbreaker.Config{Name: "quality", FailureThreshold: 2},
		circuitbreaker.WithObserver(pub))
	b.RecordFailure()
	b.RecordFailure()

	// Close flushes queued updates before returning.
	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close())

	got, err := pub.Load(context.Background(), "quality")
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateOpen, got.State)
	assert.Equal(t, 2, got.FailureCount)
	assert.False(t, got.OpenedAt.IsZero())

	// Updates after Close are ignored rather than blocking or panicking.
	b.Reset()
	got, err = pub.Load(context.Background(), "quality")
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateOpen, got.State)
	assert.Equal(t, uint64(1), got.Version)
}

func TestRedisPublisherKeepsNewestStatus(t *testing.T) {
	mr, client := newRedis(t)
	pub := circuitbreaker.NewRedisPublisher(client)

	// A burst larger than any queue, delivered newest-last, then one stale
	// update arriving late.
	for v := uint64(1); v <= 500; v++ {
		st := circuitbreaker.Status{State: circuitbreaker.StateOpen, FailureCount: int(v), Version: v}
		if v%2 == 0 {
			st = circuitbreaker.Status{State: circuitbreaker.StateClosed, Version: v}
		}
		pub.OnStateChange("burst", circuitbreaker.StateClosed, st.State, st)
	}
	pub.OnStateChange("burst", circuitbreaker.StateClosed, circuitbreaker.StateOpen,
		circuitbreaker.Status{State: circuitbreaker.StateOpen, FailureCount: 3, Version: 499})
	require.NoError(t, pub.Close())

	got, err := pub.Load(context.Background(), "burst")
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateClosed, got.State)
	assert.Equal(t, uint64(500), got.Version)
	assert.Equal(t, "closed", mr.HGet("promptexec:circuit:burst", "state"))
}

func TestRedisPublisherFollowsConcurrentBreaker(t *testing.T) {
	_, client := newRedis(t)
	pub := circuitbreaker.NewRedisPublisher(client)
	b := circuitbreaker.New(circuitbreaker.Config{Name: "busy", FailureThreshold: 1},
		circuitbreaker.WithObserver(pub))

	var g errgroup.Group
	for i := range 200 {
		g.Go(func() error {
			if i%2 == 0 {
				b.RecordFailure()
			} else {
				b.RecordSuccess()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	b.RecordSuccess()
	require.NoError(t, pub.Close())

	want := b.Snapshot()
	got, err := pub.Load(context.Background(), "busy")
	require.NoError(t, err)
	assert.Equal(t, want.State, got.State)
	assert.Equal(t, want.Version, got.Version)
}
