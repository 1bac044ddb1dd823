// Package lock implements a single-holder Redis lease used to keep periodic
// jobs from running on more than one replica at a time.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrNotHeld = errors.New("lock not held")

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out leases on Redis keys. A Locker with a nil client grants
// every lease, which is how single-instance setups without Redis run.
type Locker struct {
	client *redis.Client
	prefix string
}

func NewLocker(client *redis.Client, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// Lease is a held lock. Release it when the guarded work is done; it also
// expires on its own after the TTL passed to TryAcquire.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// TryAcquire attempts SET key token NX PX ttl. It returns (nil, nil) when
// another holder owns the key.
func (l *Locker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	lease := &Lease{locker: l, key: l.prefix + name, token: uuid.NewString()}
	if l.client == nil {
		return lease, nil
	}

	ok, err := l.client.SetNX(ctx, lease.key, lease.token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return lease, nil
}

// Release frees the lease if it is still ours.
func (le *Lease) Release(ctx context.Context) error {
	if le == nil || le.locker.client == nil {
		return nil
	}

	n, err := releaseScript.Run(ctx, le.locker.client, []string{le.key}, le.token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
