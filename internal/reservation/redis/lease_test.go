package redis_test

import (
	"context"
	"testing"
	"time"

	leasestore "ms-raffle/internal/reservation/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestLeaseIsExclusive(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()

	a := leasestore.NewLease(client, "instance-a", 45*time.Second)
	b := leasestore.NewLease(client, "instance-b", 45*time.Second)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	holder, err := b.Holder(ctx)
	require.NoError(t, err)
	assert.Equal(t, "instance-a", holder)

	// b cannot drop a's lease.
	require.NoError(t, b.Release(ctx))
	assert.True(t, mr.Exists(leasestore.DefaultLeaseKey))

	require.NoError(t, a.Release(ctx))
	assert.False(t, mr.Exists(leasestore.DefaultLeaseKey))

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLeaseExpires(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()

	a := leasestore.NewLease(client, "instance-a", 30*time.Second)
	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(31 * time.Second)

	b := leasestore.NewLease(client, "instance-b", 30*time.Second)
	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "a crashed holder's lease lapses with its TTL")
}

func TestLeaseHolderRenews(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()

	a := leasestore.NewLease(client, "instance-a", 45*time.Second)
	b := leasestore.NewLease(client, "instance-b", 45*time.Second)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(40 * time.Second)
	ok, err = a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "the holder renews its own lease")
	assert.Equal(t, 45*time.Second, mr.TTL(leasestore.DefaultLeaseKey))

	mr.FastForward(40 * time.Second)
	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "renewal keeps other instances out")
}

func TestLeaseReleaseWhenFree(t *testing.T) {
	_, client := setupRedis(t)
	a := leasestore.NewLease(client, "instance-a", time.Second)

	assert.NoError(t, a.Release(context.Background()))
	holder, err := a.Holder(context.Background())
	require.NoError(t, err)
	assert.Empty(t, holder)
}
