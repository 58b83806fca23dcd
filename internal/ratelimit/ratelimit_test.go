package ratelimit

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	// Two requests per minute: refill is far too slow to matter in-test.
	bucket := NewTokenBucket(client, 2)

	allowed, err := bucket.Allow(ctx, "client-a")
	if err != nil || !allowed {
		t.Fatalf("expected first request allowed, got allowed=%v err=%v", allowed, err)
	}
	allowed, _ = bucket.Allow(ctx, "client-a")
	if !allowed {
		t.Fatalf("expected second request allowed")
	}
	allowed, _ = bucket.Allow(ctx, "client-a")
	if allowed {
		t.Fatalf("expected third request rejected")
	}

	// Budgets are per key.
	allowed, _ = bucket.Allow(ctx, "client-b")
	if !allowed {
		t.Fatalf("expected a different client to have its own budget")
	}
}

func TestSlidingWindow(t *testing.T) {
	ctx := context.Background()
	w := NewSlidingWindow(3)

	for i := 0; i < 3; i++ {
		allowed, err := w.Allow(ctx, "client-a")
		if err != nil || !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if allowed, _ := w.Allow(ctx, "client-a"); allowed {
		t.Fatalf("expected fourth request inside the minute to be rejected")
	}
	if allowed, _ := w.Allow(ctx, "client-b"); !allowed {
		t.Fatalf("expected a different client to have its own budget")
	}
}
