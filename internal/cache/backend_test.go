package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseBackend(t *testing.T, b Backend, advance func(time.Duration)) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := b.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Set(ctx, "k", []byte("v"), time.Minute))
	got, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	won, err := b.SetNX(ctx, "k", []byte("other"), time.Minute)
	require.NoError(t, err)
	assert.False(t, won)

	require.NoError(t, b.Delete(ctx, "k"))
	won, err = b.SetNX(ctx, "k", []byte("other"), time.Minute)
	require.NoError(t, err)
	assert.True(t, won)

	advance(2 * time.Minute)
	_, ok, err = b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "entry expires after ttl")
}

func TestMemoryBackend(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	exerciseBackend(t, NewMemory(clk.Now), clk.Advance)
}

func TestMemoryBackend_SweepsUnreadExpiredKeys(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	m := NewMemory(clk.Now)
	ctx := context.Background()

	for i := range 24 {
		key := fmt.Sprintf("perf:graph:LOC:search:day:%d", i)
		require.NoError(t, m.Set(ctx, key, []byte("{}"), time.Hour))
	}
	require.NoError(t, m.Set(ctx, "pinned", []byte("{}"), 0))
	assert.Len(t, m.items, 25)

	clk.Advance(2 * time.Hour)
	require.NoError(t, m.Set(ctx, "fresh", []byte("{}"), time.Hour))
	assert.Len(t, m.items, 2, "expired keys are dropped without being read")

	won, err := m.SetNX(ctx, "jobs:graphs", []byte("id"), time.Minute)
	require.NoError(t, err)
	assert.True(t, won)
	assert.Len(t, m.items, 3)
}

func TestRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	exerciseBackend(t, NewRedisWithClient(client), mr.FastForward)
}

func TestRedisBackend_JobGate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := New(NewRedisWithClient(client))
	ctx := context.Background()
	ok, err := c.ActiveJobID(ctx, "datatable", "one")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.ActiveJobID(ctx, "datatable", "two")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, mr.Exists("authmon:job:datatable"))
}

func TestNewRedis_Unreachable(t *testing.T) {
	_, err := NewRedis(context.Background(), "127.0.0.1:1", "", 0)
	assert.Error(t, err)
}
