package ratelimit

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestSlidingWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewSlidingWindow(2, time.Minute)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if ok, _, _ := l.Allow(ctx, "a", base.Add(time.Duration(i)*time.Second)); !ok {
			t.Fatalf("event %d denied", i)
		}
	}
	ok, retry, err := l.Allow(ctx, "a", base.Add(2*time.Second))
	if err != nil || ok {
		t.Fatalf("third event allowed=%v err=%v", ok, err)
	}
	if retry != 58*time.Second {
		t.Fatalf("retryAfter=%v want 58s", retry)
	}

	if ok, _, _ := l.Allow(ctx, "b", base.Add(2*time.Second)); !ok {
		t.Fatalf("independent key denied")
	}
	if ok, _, _ := l.Allow(ctx, "a", base.Add(61*time.Second)); !ok {
		t.Fatalf("event after window denied")
	}
}

func TestNewSlidingWindow_Defaults(t *testing.T) {
	t.Parallel()

	l := NewSlidingWindow(0, 0)
	if l.limit != DefaultEvents || l.window != DefaultWindow {
		t.Fatalf("defaults not applied: %d %v", l.limit, l.window)
	}
}

// Redis tests are enabled when TASKCHAT_TEST_REDIS_ADDR is set.
func TestRedisLimiter(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("TASKCHAT_TEST_REDIS_ADDR"))
	if addr == "" {
		t.Skip("integration test skipped: TASKCHAT_TEST_REDIS_ADDR is not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	l, err := NewRedisLimiter(rdb, 2, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisLimiter: %v", err)
	}
	ctx := context.Background()
	key := "it-" + time.Now().Format(time.RFC3339Nano)
	now := time.Now()

	for i := 0; i < 2; i++ {
		ok, _, err := l.Allow(ctx, key, now)
		if err != nil || !ok {
			t.Fatalf("event %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, retry, err := l.Allow(ctx, key, now.Add(time.Second))
	if err != nil || ok {
		t.Fatalf("third event: ok=%v err=%v", ok, err)
	}
	if retry <= 0 || retry > time.Minute {
		t.Fatalf("retryAfter=%v", retry)
	}
}
