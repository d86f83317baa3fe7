package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestTenantLimiterCapacity(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewTenantLimiter(client, 2, 1, time.Minute)

	allowed, err := limiter.Allow(ctx, "acme")
	if err != nil || !allowed {
		t.Fatalf("expected first request allowed, got allowed=%v err=%v", allowed, err)
	}
	allowed, _ = limiter.Allow(ctx, "acme")
	if !allowed {
		t.Fatal("expected second request allowed")
	}
	allowed, _ = limiter.Allow(ctx, "acme")
	if allowed {
		t.Fatal("expected third request rejected")
	}

	// Other tenants have their own bucket.
	allowed, _ = limiter.Allow(ctx, "globex")
	if !allowed {
		t.Fatal("expected a different tenant to be unaffected")
	}

	// Refill is time-based; exercising it here would need real sleeps.
}
