package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
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
	return New(rdb, "test"), mr
}

func TestLimiter_AllowUntilMax(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Max: 2, Window: 30 * time.Second}
	for i := 0; i < 2; i++ {
		if err := l.Allow(ctx, "sms", "f1", rule); err != nil {
			t.Fatalf("Allow #%d: %v", i+1, err)
		}
	}
	err := l.Allow(ctx, "sms", "f1", rule)
	var limited *LimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("Allow #3 err = %v, want *LimitedError", err)
	}
	if limited.RetryAfter <= 0 || limited.RetryAfter > 30*time.Second {
		t.Errorf("RetryAfter = %v, want within (0, 30s]", limited.RetryAfter)
	}
	if err := l.Allow(ctx, "sms", "f2", rule); err != nil {
		t.Errorf("other key should be independent: %v", err)
	}
}

func TestLimiter_WindowExpires(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Max: 1, Window: 10 * time.Second}
	_ = l.Allow(ctx, "sms", "f1", rule)
	if err := l.Allow(ctx, "sms", "f1", rule); err == nil {
		t.Fatal("second Allow should be limited")
	}
	mr.FastForward(11 * time.Second)
	if err := l.Allow(ctx, "sms", "f1", rule); err != nil {
		t.Errorf("Allow after window: %v", err)
	}
}

func TestLimiter_CheckAndReset(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Max: 1, Window: time.Minute}
	if err := l.Check(ctx, "verify", "f1", rule); err != nil {
		t.Fatalf("Check on empty key: %v", err)
	}
	_ = l.Allow(ctx, "verify", "f1", rule)
	if err := l.Check(ctx, "verify", "f1", rule); err == nil {
		t.Fatal("Check should report limited after budget used")
	}
	if err := l.Reset(ctx, "verify", "f1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := l.Check(ctx, "verify", "f1", rule); err != nil {
		t.Errorf("Check after Reset: %v", err)
	}
}

func TestLimiter_DisabledRule(t *testing.T) {
	l, _ := newTestLimiter(t)
	for i := 0; i < 5; i++ {
		if err := l.Allow(context.Background(), "sms", "f1", Rule{}); err != nil {
			t.Fatalf("zero rule should never limit: %v", err)
		}
	}
}

func TestLimiter_Unavailable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer rdb.Close()
	l := New(rdb, "test")
	err := l.Allow(context.Background(), "sms", "f1", Rule{Max: 1, Window: time.Second})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}
