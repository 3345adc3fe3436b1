// Package redislock implements [cache.Locker] with Redis SET NX leases so
// that API replicas sharing a store elect one producer per key.
package redislock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rodolfogoulart/mms-tts-api/internal/cache"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lease taken over by another replica is never released by us.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Client is the subset of the go-redis API used by [Locker]. *redis.Client,
// *redis.ClusterClient and redis.UniversalClient satisfy it.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Option configures a [Locker].
type Option func(*Locker)

// WithPrefix sets the key namespace. Defaults to "mmstts:lock:".
func WithPrefix(p string) Option {
	return func(l *Locker) { l.prefix = p }
}

// WithTTL sets the lease length. A holder that crashes frees the key after
// ttl. It must exceed the longest synthesis plus alignment run.
func WithTTL(d time.Duration) Option {
	return func(l *Locker) {
		if d > 0 {
			l.ttl = d
		}
	}
}

// WithRetryInterval sets how often a waiting caller polls the key.
func WithRetryInterval(d time.Duration) Option {
	return func(l *Locker) {
		if d > 0 {
			l.retry = d
		}
	}
}

// Locker is a Redis-backed [cache.Locker].
type Locker struct {
	client Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// Compile-time interface check.
var _ cache.Locker = (*Locker)(nil)

// New returns a [Locker] using client.
func New(client Client, opts ...Option) *Locker {
	l := &Locker{
		client: client,
		prefix: "mmstts:lock:",
		ttl:    2 * time.Minute,
		retry:  100 * time.Millisecond,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Lock blocks until key is held or ctx is done. The returned unlock function
// is safe to call once; it uses a fresh context so it still runs after ctx
// is cancelled.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	full := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, full, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redislock: acquire %q: %w", key, err)
		}
		if ok {
			return func() { l.release(full, token) }, nil
		}

		t := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("redislock: acquire %q: %w", key, ctx.Err())
		case <-t.C:
		}
	}
}

func (l *Locker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
		slog.Warn("redislock: release failed; lease will expire", "key", key, "err", err)
	}
}
