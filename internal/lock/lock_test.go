package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testLockers(t *testing.T) map[string]Locker {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return map[string]Locker{
		"memory": NewMemoryLocker(),
		"redis":  NewRedisLocker(rdb),
	}
}

func TestLocker_ExclusiveUntilRelease(t *testing.T) {
	for name, l := range testLockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			release, err := l.Acquire(ctx, "u1", "contact:phone", time.Minute)
			if err != nil {
				t.Fatalf("Acquire: %v", err)
			}
			if _, err := l.Acquire(ctx, "u1", "contact:phone", time.Minute); !errors.Is(err, ErrLocked) {
				t.Fatalf("second Acquire err = %v, want ErrLocked", err)
			}
			other, err := l.Acquire(ctx, "u2", "contact:phone", time.Minute)
			if err != nil {
				t.Fatalf("other subject should not be blocked: %v", err)
			}
			other()
			release()
			again, err := l.Acquire(ctx, "u1", "contact:phone", time.Minute)
			if err != nil {
				t.Fatalf("Acquire after release: %v", err)
			}
			again()
		})
	}
}

func TestLocker_StaleReleaseDoesNotDropNewHolder(t *testing.T) {
	for name, l := range testLockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			release, err := l.Acquire(ctx, "u1", "r", time.Minute)
			if err != nil {
				t.Fatalf("Acquire: %v", err)
			}
			release()
			second, err := l.Acquire(ctx, "u1", "r", time.Minute)
			if err != nil {
				t.Fatalf("Acquire: %v", err)
			}
			defer second()
			release()
			if _, err := l.Acquire(ctx, "u1", "r", time.Minute); !errors.Is(err, ErrLocked) {
				t.Errorf("stale release freed the lock: err = %v", err)
			}
		})
	}
}

func TestMemoryLocker_Expires(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Now()
	l.nowF = func() time.Time { return now }
	if _, err := l.Acquire(context.Background(), "u1", "r", time.Second); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	now = now.Add(2 * time.Second)
	if _, err := l.Acquire(context.Background(), "u1", "r", time.Second); err != nil {
		t.Errorf("expired token should be replaceable: %v", err)
	}
}
