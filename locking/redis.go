package locking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLockLost is returned by the unlock path when the TTL expired and
// another worker took the key in the meantime.
var ErrLockLost = errors.New("lock expired before release")

// releaseScript deletes the key only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry out only if we still own the key.
var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a SET NX PX lock with an owner token. The TTL bounds how
// long a crashed worker can hold a collector; while the holder is alive
// the TTL is renewed every TTL/3, so a run may outlast it. If a renewal
// finds the key gone or owned by someone else, OnLost is called once.
type RedisLocker struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
	Poll   time.Duration
	OnLost func(key string, err error)
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		Client: client,
		Prefix: "commission-engine:lock:",
		TTL:    ttl,
		Poll:   100 * time.Millisecond,
	}
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	full := r.Prefix + key
	token := uuid.NewString()

	for {
		ok, err := r.Client.SetNX(ctx, full, token, r.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.Poll):
		}
	}

	stop := make(chan struct{})
	lost := make(chan struct{})
	extend := func(ctx context.Context) (bool, error) {
		n, err := extendScript.Run(ctx, r.Client, []string{full}, token, r.TTL.Milliseconds()).Int()
		return n == 1, err
	}
	var renewErr error
	go func() {
		defer close(lost)
		renewErr = keepAlive(stop, r.TTL/3, extend)
		if renewErr != nil && r.OnLost != nil {
			r.OnLost(key, renewErr)
		}
	}()

	return func() {
		close(stop)
		<-lost
		if renewErr != nil {
			return
		}

		// Release with a fresh context: the caller's may already be done.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		n, err := releaseScript.Run(ctx, r.Client, []string{full}, token).Int()
		if err == nil && n == 0 {
			err = ErrLockLost
		}
		if err != nil && r.OnLost != nil {
			r.OnLost(key, err)
		}
	}, nil
}

// keepAlive calls extend every interval until stop is closed. It returns
// ErrLockLost as soon as extend reports the key is no longer ours, or the
// error of a failed call.
func keepAlive(stop <-chan struct{}, interval time.Duration, extend func(context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			held, err := extend(ctx)
			cancel()
			if err != nil {
				return fmt.Errorf("extend lock: %w", err)
			}
			if !held {
				return ErrLockLost
			}
		}
	}
}
