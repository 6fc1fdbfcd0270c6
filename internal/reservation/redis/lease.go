package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const DefaultLeaseKey = "raffle:sweep:lease"

// Lease is a SETNX lock with an owner value, so only the holder can drop it.
type Lease struct {
	Client *redis.Client
	Key    string
	Owner  string
	TTL    time.Duration
}

func NewLease(client *redis.Client, owner string, ttl time.Duration) *Lease {
	return &Lease{
		Client: client,
		Key:    DefaultLeaseKey,
		Owner:  owner,
		TTL:    ttl,
	}
}

// renewScript extends the key's TTL only when ARGV[1] still owns it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// TryAcquire takes the lease, or renews it when this owner already holds it.
// The lease is kept until its TTL lapses, so a holder that sweeps once per
// TTL keeps sweeping and everyone else skips.
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.Client.SetNX(ctx, l.Key, l.Owner, l.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.Key, err)
	}
	if ok {
		return true, nil
	}
	renewed, err := renewScript.Run(ctx, l.Client, []string{l.Key}, l.Owner, l.TTL.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("renew lease %s: %w", l.Key, err)
	}
	return renewed == 1, nil
}

// Release deletes the key only if this owner still holds it.
func (l *Lease) Release(ctx context.Context) error {
	val, err := l.Client.Get(ctx, l.Key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if val != l.Owner {
		return nil
	}
	return l.Client.Del(ctx, l.Key).Err()
}

// Holder returns the current owner, or "" when the lease is free.
func (l *Lease) Holder(ctx context.Context) (string, error) {
	val, err := l.Client.Get(ctx, l.Key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}
