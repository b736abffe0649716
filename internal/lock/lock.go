// Package lock provides short-lived mutual exclusion scoped to one subject and resource,
// so concurrent requests for the same user cannot race on contact creation.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when the subject+resource token is held by someone else.
var ErrLocked = errors.New("lock: resource is locked")

// Locker acquires a token for subject+resource that expires after ttl if never released.
type Locker interface {
	Acquire(ctx context.Context, subject, resource string, ttl time.Duration) (release func(), err error)
}

func key(subject, resource string) string {
	return "lock:" + subject + ":" + resource
}

// MemoryLocker is an in-process Locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]memoryToken
	nowF func() time.Time
}

type memoryToken struct {
	id      string
	expires time.Time
}

// NewMemoryLocker returns an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryToken), nowF: time.Now}
}

func (l *MemoryLocker) Acquire(ctx context.Context, subject, resource string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k := key(subject, resource)
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowF()
	if tok, ok := l.held[k]; ok && now.Before(tok.expires) {
		return nil, ErrLocked
	}
	id := uuid.NewString()
	l.held[k] = memoryToken{id: id, expires: now.Add(ttl)}
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if tok, ok := l.held[k]; ok && tok.id == id {
			delete(l.held, k)
		}
	}, nil
}

// RedisLocker is a Locker shared across server instances (SET NX PX, token-checked delete).
type RedisLocker struct {
	redis redis.UniversalClient
}

// NewRedisLocker returns a RedisLocker over client.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{redis: client}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (l *RedisLocker) Acquire(ctx context.Context, subject, resource string, ttl time.Duration) (func(), error) {
	k := key(subject, resource)
	id := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, k, id, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() {
		// Release must work after the request context is gone.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, l.redis, []string{k}, id).Err()
	}, nil
}
