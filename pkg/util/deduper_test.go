package util

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeduper(t *testing.T, ttl time.Duration) (*Deduper, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewDeduper(rdb, ttl, nil), mr
}

func TestDeduper_AcquireOnce(t *testing.T) {
	ctx := context.Background()
	d, mr := newTestDeduper(t, time.Minute)

	assert.True(t, d.AcquireOnce(ctx, "project_update", "key-1"))
	assert.False(t, d.AcquireOnce(ctx, "project_update", "key-1"))
	assert.True(t, d.AcquireOnce(ctx, "project_update", "key-2"))
	assert.True(t, d.AcquireOnce(ctx, "other_handler", "key-1"))

	mr.FastForward(2 * time.Minute)
	assert.True(t, d.AcquireOnce(ctx, "project_update", "key-1"))
}

func TestDeduper_Release(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDeduper(t, time.Minute)

	require.True(t, d.AcquireOnce(ctx, "project_update", "k"))
	d.Release(ctx, "project_update", "k")
	assert.True(t, d.AcquireOnce(ctx, "project_update", "k"))
}

func TestDeduper_FailOpen(t *testing.T) {
	ctx := context.Background()
	d, mr := newTestDeduper(t, time.Minute)
	mr.Close()

	assert.True(t, d.AcquireOnce(ctx, "project_update", "k"))
	assert.True(t, d.AcquireOnce(ctx, "project_update", "k"))
}
