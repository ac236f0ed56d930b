package keylock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockTimeout is returned when a key could not be acquired within the wait budget.
var ErrLockTimeout = errors.New("keylock: timed out waiting for key")

// releaseScript deletes the key only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RedisOptions tunes the Redis locker.
type RedisOptions struct {
	Prefix     string
	TTL        time.Duration // upper bound on how long a crashed holder blocks a key
	RetryDelay time.Duration
	MaxWait    time.Duration
	Logger     *zap.Logger
}

// Redis is a Locker shared between service instances.
type Redis struct {
	client redis.UniversalClient
	opts   RedisOptions
}

// NewRedis creates a Redis-backed locker.
func NewRedis(client redis.UniversalClient, opts RedisOptions) *Redis {
	if opts.Prefix == "" {
		opts.Prefix = "phonedesk:lock:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 25 * time.Millisecond
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Redis{client: client, opts: opts}
}

// Lock acquires key with SET NX, retrying until MaxWait elapses or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	redisKey := r.opts.Prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(r.opts.MaxWait)

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.opts.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.opts.RetryDelay):
		}
	}

	return func() {
		// Release must run even when the caller's context is already cancelled.
		if err := releaseScript.Run(context.Background(), r.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			r.opts.Logger.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
