package redis

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestMemoryCacheExpiry(t *testing.T) {
	cache := NewMemoryCache()
	now := time.Unix(1_700_000_000, 0)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	if err := cache.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := cache.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v" {
		t.Fatalf("unexpected get: %q %v %v", got, ok, err)
	}

	now = now.Add(time.Minute)
	if _, ok, _ := cache.Get(ctx, "k"); ok {
		t.Fatalf("entry should have expired")
	}

	_ = cache.Set(ctx, "forever", []byte("x"), 0)
	now = now.Add(24 * time.Hour)
	if _, ok, _ := cache.Get(ctx, "forever"); !ok {
		t.Fatalf("ttl 0 should never expire")
	}
}

func TestMemoryCacheCopiesValues(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()
	value := []byte("abc")
	_ = cache.Set(ctx, "k", value, 0)
	value[0] = 'z'

	got, _, _ := cache.Get(ctx, "k")
	got[1] = 'z'
	again, _, _ := cache.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("cache must not alias caller slices, got %q", again)
	}
}

func TestRedisCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("RISKPILOT_TEST_REDIS")
	if addr == "" {
		t.Skip("RISKPILOT_TEST_REDIS not set")
	}
	ctx := context.Background()
	cache, err := NewRedisCache(ctx, Config{Address: addr, Prefix: "riskpilot:test:"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer cache.Close()

	if _, ok, err := cache.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}
	if err := cache.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, ok, err := cache.Get(ctx, "k"); err != nil || !ok || string(got) != "v" {
		t.Fatalf("unexpected get: %q %v %v", got, ok, err)
	}
}
