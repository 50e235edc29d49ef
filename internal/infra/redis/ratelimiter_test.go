package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestRedisRateLimiterAllowWindow(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)

	now := time.Unix(1_700_000_000, 0)
	limiter, err := newRedisRateLimiter(rdb, 2, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	for i, want := range []bool{true, true, false} {
		allowed, err := limiter.Allow(context.Background(), "hiya")
		if err != nil {
			t.Fatalf("Allow() call %d error = %v", i, err)
		}
		if allowed != want {
			t.Fatalf("Allow() call %d = %v, want %v", i, allowed, want)
		}
	}

	if !mr.Exists("callscreen:calls:hiya:1700000000") {
		t.Fatalf("expected per-second window key, keys = %v", mr.Keys())
	}
	if ttl := mr.TTL("callscreen:calls:hiya:1700000000"); ttl != time.Second {
		t.Fatalf("window ttl = %v, want 1s", ttl)
	}

	now = now.Add(time.Second)
	allowed, err := limiter.Allow(context.Background(), "hiya")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("new second window should allow call")
	}
}

func TestRedisRateLimiterAllowPerProvider(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)

	now := time.Unix(1_700_000_100, 0)
	limiter, err := newRedisRateLimiter(rdb, 1, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	ctx := context.Background()
	if allowed, _ := limiter.Allow(ctx, "hiya"); !allowed {
		t.Fatal("hiya should be allowed on first request")
	}
	if allowed, _ := limiter.Allow(ctx, "truecaller"); !allowed {
		t.Fatal("truecaller should be allowed on first request")
	}
	if allowed, _ := limiter.Allow(ctx, " HIYA "); allowed {
		t.Fatal("hiya second request should be rejected")
	}

	if _, err := limiter.Allow(ctx, " "); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestRedisRateLimiterWait(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)

	now := time.Unix(1_700_000_200, 0)
	var slept []time.Duration
	limiter, err := newRedisRateLimiter(
		rdb,
		1,
		func() time.Time { return now },
		func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			if len(slept) == 3 {
				now = now.Add(time.Second)
			}
			return nil
		},
	)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	if allowed, _ := limiter.Allow(context.Background(), "hiya"); !allowed {
		t.Fatal("expected first call to be allowed")
	}
	if err := limiter.Wait(context.Background(), "hiya"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	want := []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 150 * time.Millisecond}
	if len(slept) != len(want) {
		t.Fatalf("sleeps = %v, want %v", slept, want)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("sleeps = %v, want %v", slept, want)
		}
	}
}

func TestRedisRateLimiterWaitContextDeadline(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)

	now := time.Unix(1_700_000_300, 0)
	limiter, err := newRedisRateLimiter(rdb, 1, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	if allowed, _ := limiter.Allow(context.Background(), "hiya"); !allowed {
		t.Fatal("expected first call to be allowed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	err = limiter.Wait(ctx, "hiya")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestNewRedis(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}

	addr := mr.Addr()

	client, err := NewRedis(context.Background(), "redis://"+addr)
	if err != nil {
		mr.Close()
		t.Fatalf("NewRedis() error = %v", err)
	}
	_ = client.Close()

	if _, err := NewRedis(context.Background(), "not a url"); err == nil {
		t.Fatal("expected parse error")
	}

	mr.Close()
	if _, err := NewRedis(context.Background(), "redis://"+addr); err == nil {
		t.Fatal("expected ping error once the server is gone")
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return mr, rdb
}
