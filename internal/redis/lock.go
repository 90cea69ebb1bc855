package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("practitioner lock not acquired")
)

// Locker is used by the appointment service to serialize writes to one
// practitioner's calendar across API replicas.
type Locker interface {
	WithPractitionerLock(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisPractitionerLocker struct {
	client   *redis.Client
	ttl      time.Duration
	attempts int
	backoff  time.Duration
}

// NewRedisPractitionerLocker creates a locker that uses a per practitioner
// Redis key. attempts bounds how many times a held lock is retried.
func NewRedisPractitionerLocker(client *redis.Client, ttl time.Duration, attempts int) Locker {
	if attempts < 1 {
		attempts = 1
	}
	return &redisPractitionerLocker{
		client:   client,
		ttl:      ttl,
		attempts: attempts,
		backoff:  50 * time.Millisecond,
	}
}

func lockKey(practitionerID uuid.UUID) string {
	return fmt.Sprintf("lock:practitioner:%s", practitionerID.String())
}

func (l *redisPractitionerLocker) WithPractitionerLock(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context) error) error {
	key := lockKey(practitionerID)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		// release with a fresh context so a canceled request still frees the key
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisPractitionerLocker) acquire(ctx context.Context, key, token string) error {
	wait := l.backoff
	for attempt := 1; ; attempt++ {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire practitioner lock: %w", err)
		}
		if ok {
			return nil
		}
		if attempt >= l.attempts {
			return ErrLockNotAcquired
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait *= 2
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisPractitionerLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release practitioner lock: %w", err)
	}
	return nil
}

// NoopLocker runs fn without coordination. Single-process tools use it.
type NoopLocker struct{}

func (NoopLocker) WithPractitionerLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
