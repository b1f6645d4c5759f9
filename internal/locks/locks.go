// Package locks provides short-lived exclusive locks keyed by string.
package locks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned when a lock is already owned by someone else.
var ErrNotHeld = errors.New("locks: lock held by another owner")

// Locker acquires a lock for key. The returned release func is safe to call
// once the caller is done; it never blocks the caller on failure.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker using SET NX with a TTL.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedis builds a Redis locker. Keys are stored as prefix+key.
func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	if client == nil {
		panic("locks: redis client required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	full := r.prefix + key
	ok, err := r.client.SetNX(ctx, full, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("locks: acquire %s: %w", full, err)
	}
	if !ok {
		return nil, ErrNotHeld
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, r.client, []string{full}, token).Err()
	}, nil
}

// Noop grants every lock. It is used when Redis is not configured.
type Noop struct{}

func (Noop) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("locks: token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
