package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, cfg), mr
}

func TestLoginBudget(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		EnableLoginThrottle: true,
		MaxLoginAttempts:    3,
		LoginWindow:         time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.CheckLogin(ctx, "a@x", "1.2.3.4"); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if err := l.IncrementLogin(ctx, "a@x", "1.2.3.4"); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}

	if err := l.CheckLogin(ctx, "a@x", "1.2.3.4"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("exhausted check = %v, want ErrRateLimited", err)
	}

	// Budgets are keyed per (ip, email).
	if err := l.CheckLogin(ctx, "a@x", "5.6.7.8"); err != nil {
		t.Fatalf("other ip: %v", err)
	}
	if err := l.CheckLogin(ctx, "b@x", "1.2.3.4"); err != nil {
		t.Fatalf("other email: %v", err)
	}
}

func TestLoginWindowExpires(t *testing.T) {
	l, mr := newTestLimiter(t, Config{
		EnableLoginThrottle: true,
		MaxLoginAttempts:    1,
		LoginWindow:         time.Minute,
	})
	ctx := context.Background()

	if err := l.IncrementLogin(ctx, "a@x", "1.2.3.4"); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := l.CheckLogin(ctx, "a@x", "1.2.3.4"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("check = %v, want ErrRateLimited", err)
	}

	mr.FastForward(61 * time.Second)

	if err := l.CheckLogin(ctx, "a@x", "1.2.3.4"); err != nil {
		t.Fatalf("check after window: %v", err)
	}
}

func TestResetLoginClearsCounter(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		EnableLoginThrottle: true,
		MaxLoginAttempts:    1,
		LoginWindow:         time.Minute,
	})
	ctx := context.Background()

	if err := l.IncrementLogin(ctx, "a@x", "1.2.3.4"); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := l.ResetLogin(ctx, "a@x", "1.2.3.4"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	n, err := l.LoginAttempts(ctx, "a@x", "1.2.3.4")
	if err != nil {
		t.Fatalf("attempts: %v", err)
	}
	if n != 0 {
		t.Fatalf("attempts = %d, want 0", n)
	}
}

func TestRefreshBudget(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		EnableRefreshThrottle: true,
		MaxRefreshAttempts:    2,
		RefreshWindow:         time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.CheckRefresh(ctx, "fam-1"); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
	if err := l.CheckRefresh(ctx, "fam-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("over budget = %v, want ErrRateLimited", err)
	}

	if err := l.CheckRefresh(ctx, "fam-2"); err != nil {
		t.Fatalf("other family: %v", err)
	}
}

func TestDisabledThrottlesAreNoOps(t *testing.T) {
	l, _ := newTestLimiter(t, Config{})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := l.CheckLogin(ctx, "a@x", "1.2.3.4"); err != nil {
			t.Fatalf("check: %v", err)
		}
		if err := l.IncrementLogin(ctx, "a@x", "1.2.3.4"); err != nil {
			t.Fatalf("increment: %v", err)
		}
		if err := l.CheckRefresh(ctx, "fam"); err != nil {
			t.Fatalf("refresh: %v", err)
		}
	}
}

func TestRedisDownSurfacesSentinel(t *testing.T) {
	l, mr := newTestLimiter(t, Config{
		EnableLoginThrottle: true,
		MaxLoginAttempts:    3,
		LoginWindow:         time.Minute,
	})
	mr.Close()

	err := l.IncrementLogin(context.Background(), "a@x", "1.2.3.4")
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("err = %v, want ErrRedisUnavailable", err)
	}
}
