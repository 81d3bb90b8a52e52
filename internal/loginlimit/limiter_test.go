package loginlimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, cfg), mr
}

func TestLockAfterMaxFailures(t *testing.T) {
	l, _ := newLimiter(t, Config{MaxFailures: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Check(ctx, "alice", ""))
		require.NoError(t, l.Fail(ctx, "alice", ""))
	}
	require.ErrorIs(t, l.Check(ctx, "alice", ""), ErrLocked)
	require.NoError(t, l.Check(ctx, "bob", ""))

	n, err := l.Failures(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestWindowExpires(t *testing.T) {
	l, mr := newLimiter(t, Config{MaxFailures: 1, Window: 30 * time.Second})
	ctx := context.Background()

	require.NoError(t, l.Fail(ctx, "alice", ""))
	require.ErrorIs(t, l.Check(ctx, "alice", ""), ErrLocked)

	mr.FastForward(31 * time.Second)
	require.NoError(t, l.Check(ctx, "alice", ""))
}

func TestResetClearsCounters(t *testing.T) {
	l, _ := newLimiter(t, Config{MaxFailures: 1, PerIP: true})
	ctx := context.Background()

	require.NoError(t, l.Fail(ctx, "alice", "10.0.0.1"))
	require.ErrorIs(t, l.Check(ctx, "mallory", "10.0.0.1"), ErrLocked)

	require.NoError(t, l.Reset(ctx, "alice", "10.0.0.1"))
	require.NoError(t, l.Check(ctx, "alice", "10.0.0.1"))
	n, err := l.Failures(ctx, "alice")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRedisDown(t *testing.T) {
	l, mr := newLimiter(t, Config{})
	mr.Close()
	require.ErrorIs(t, l.Check(context.Background(), "alice", ""), ErrRedisUnavailable)
}
