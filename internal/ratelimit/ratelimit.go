// Package ratelimit implements the offer rate limiter: a mutex keyed
// by (resource, time slice) rather than by resource alone. Holding a
// key means "this ticket type has been reserved for this window"; the
// key self-expires when the window ends, so a crashed holder never
// wedges the window shut.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cinetick/reservation-engine/internal/errs"
)

// acquireScript takes every key or none. Running server-side makes
// the batch atomic with respect to other concurrent batches, and the
// sequential set-with-rollback also rejects a batch that names the
// same window twice: the second claim sees the first and fails the
// whole call.
//
// ARGV pairs: holder_i, window_end_unix_i for KEYS[i].
var acquireScript = redis.NewScript(`
    local set = {}
    for i = 1, #KEYS do
        if redis.call('SETNX', KEYS[i], ARGV[i*2-1]) == 1 then
            redis.call('EXPIREAT', KEYS[i], ARGV[i*2])
            table.insert(set, KEYS[i])
        else
            for _, k in ipairs(set) do
                redis.call('DEL', k)
            end
            return 0
        end
    end
    return 1
`)

// Key identifies one rate-limit window claim. Scope names the
// limited resource (in practice the ticket type id), UnitInSeconds is
// the window width, StartDate is the event start the reservation
// targets, and Holder is the reservation number that will own the
// window.
type Key struct {
	Scope         string
	UnitInSeconds int64
	StartDate     time.Time
	Holder        string
}

// windowStart truncates the key's start date down to its window
// boundary: startUnix - startUnix mod unit.
func (k Key) windowStart() int64 {
	unix := k.StartDate.Unix()
	return unix - unix%k.UnitInSeconds
}

func (k Key) validate() error {
	if k.Scope == "" {
		return errs.NewArgumentNull("key.scope")
	}
	if k.UnitInSeconds <= 0 {
		return errs.NewArgument("key.unitInSeconds", "must be positive")
	}
	if k.Holder == "" {
		return errs.NewArgumentNull("key.holder")
	}
	return nil
}

// Limiter caps reservation frequency per (ticket type, window) on a
// shared Redis instance.
type Limiter struct {
	client *redis.Client
	prefix string
}

// NewLimiter returns a Limiter writing under the given key prefix.
// The full key shape is
// "<prefix>:rateLimit:offer:<scope>:<windowStartUnixSeconds>" and
// must not change while interoperating with an existing deployment.
func NewLimiter(client *redis.Client, prefix string) *Limiter {
	return &Limiter{client: client, prefix: prefix}
}

func (l *Limiter) redisKey(k Key) string {
	return fmt.Sprintf("%s:rateLimit:offer:%s:%d", l.prefix, k.Scope, k.windowStart())
}

// Lock claims every key for its holder, with each key expiring at its
// window end. The batch is all-or-nothing: when any window is already
// held the call fails with errs.ErrRateLimitExceeded and no key is
// left claimed by this call.
func (l *Limiter) Lock(ctx context.Context, keys []Key) error {
	if len(keys) == 0 {
		return nil
	}
	redisKeys := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		if err := k.validate(); err != nil {
			return err
		}
		redisKeys = append(redisKeys, l.redisKey(k))
		args = append(args, k.Holder, k.windowStart()+k.UnitInSeconds)
	}

	res, err := acquireScript.Run(ctx, l.client, redisKeys, args...).Int()
	if err != nil {
		return fmt.Errorf("rate limit script: %w", err)
	}
	if res != 1 {
		return errs.ErrRateLimitExceeded
	}
	return nil
}

// Unlock releases every key. Releasing a key with no current holder
// is a no-op.
func (l *Limiter) Unlock(ctx context.Context, keys []Key) error {
	if len(keys) == 0 {
		return nil
	}
	redisKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := k.validate(); err != nil {
			return err
		}
		redisKeys = append(redisKeys, l.redisKey(k))
	}
	if err := l.client.Del(ctx, redisKeys...).Err(); err != nil {
		return fmt.Errorf("rate limit unlock: %w", err)
	}
	return nil
}

// Holder returns the reservation number currently holding the key's
// window, or ok=false when the window is free.
func (l *Limiter) Holder(ctx context.Context, k Key) (string, bool, error) {
	if err := k.validate(); err != nil {
		return "", false, err
	}
	holder, err := l.client.Get(ctx, l.redisKey(k)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("rate limit holder: %w", err)
	}
	return holder, true, nil
}
