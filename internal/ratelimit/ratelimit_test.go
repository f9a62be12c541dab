package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cinetick/reservation-engine/internal/errs"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLimiter(client, "test"), mr
}

func hourKey(scope string, start time.Time, holder string) Key {
	return Key{Scope: scope, UnitInSeconds: 3600, StartDate: start, Holder: holder}
}

func TestLockClaimsWindowExclusively(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	ctx := context.Background()
	start := time.Date(2026, 9, 1, 18, 15, 0, 0, time.UTC)

	if err := limiter.Lock(ctx, []Key{hourKey("tt-gold", start, "R1")}); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	// Ten minutes later, same hour window.
	err := limiter.Lock(ctx, []Key{hourKey("tt-gold", start.Add(10*time.Minute), "R2")})
	if !errors.Is(err, errs.ErrRateLimitExceeded) {
		t.Fatalf("same-window Lock = %v, want ErrRateLimitExceeded", err)
	}

	holder, held, err := limiter.Holder(ctx, hourKey("tt-gold", start, "R1"))
	if err != nil {
		t.Fatalf("Holder: %v", err)
	}
	if !held || holder != "R1" {
		t.Fatalf("Holder = (%q, %v), want (R1, true)", holder, held)
	}

	// The key shape is part of the deployed contract.
	windowStart := start.Unix() - start.Unix()%3600
	wantKey := fmt.Sprintf("test:rateLimit:offer:tt-gold:%d", windowStart)
	if !mr.Exists(wantKey) {
		t.Fatalf("expected key %s", wantKey)
	}
	if ttl := mr.TTL(wantKey); ttl <= 0 {
		t.Fatalf("expected positive TTL, got %v", ttl)
	}
}

func TestLockDistinctWindowsAndScopes(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	start := time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)

	if err := limiter.Lock(ctx, []Key{hourKey("tt-gold", start, "R1")}); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	// Next hour window of the same scope is free.
	if err := limiter.Lock(ctx, []Key{hourKey("tt-gold", start.Add(time.Hour), "R2")}); err != nil {
		t.Fatalf("next-window Lock: %v", err)
	}
	// Same window of another scope is free.
	if err := limiter.Lock(ctx, []Key{hourKey("tt-silver", start, "R3")}); err != nil {
		t.Fatalf("other-scope Lock: %v", err)
	}
}

func TestLockBatchIsAllOrNothing(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	start := time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)

	if err := limiter.Lock(ctx, []Key{hourKey("tt-silver", start, "R1")}); err != nil {
		t.Fatalf("seed Lock: %v", err)
	}

	batch := []Key{hourKey("tt-gold", start, "R2"), hourKey("tt-silver", start, "R2")}
	err := limiter.Lock(ctx, batch)
	if !errors.Is(err, errs.ErrRateLimitExceeded) {
		t.Fatalf("batch Lock = %v, want ErrRateLimitExceeded", err)
	}

	// The free window of the failed batch must have been rolled back.
	if _, held, _ := limiter.Holder(ctx, hourKey("tt-gold", start, "R2")); held {
		t.Fatalf("tt-gold window held after failed batch")
	}
}

func TestLockRejectsDuplicateWindowWithinBatch(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	start := time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)

	// Two claims on the same scope and window in one call cannot both
	// hold an exclusive window.
	batch := []Key{hourKey("tt-gold", start, "R1"), hourKey("tt-gold", start.Add(5*time.Minute), "R1")}
	err := limiter.Lock(ctx, batch)
	if !errors.Is(err, errs.ErrRateLimitExceeded) {
		t.Fatalf("duplicate-window batch = %v, want ErrRateLimitExceeded", err)
	}
	if _, held, _ := limiter.Holder(ctx, hourKey("tt-gold", start, "R1")); held {
		t.Fatalf("window held after rejected batch")
	}
}

func TestUnlockFreesWindow(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	start := time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)

	key := hourKey("tt-gold", start, "R1")
	if err := limiter.Lock(ctx, []Key{key}); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := limiter.Unlock(ctx, []Key{key}); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if _, held, _ := limiter.Holder(ctx, key); held {
		t.Fatalf("window still held after Unlock")
	}

	// Another reservation can now claim the window.
	if err := limiter.Lock(ctx, []Key{hourKey("tt-gold", start, "R2")}); err != nil {
		t.Fatalf("relock: %v", err)
	}

	// Unlocking a free window is a no-op.
	if err := limiter.Unlock(ctx, []Key{hourKey("tt-none", start, "R9")}); err != nil {
		t.Fatalf("Unlock of free window: %v", err)
	}
}

func TestLockEmptyBatchIsNoOp(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	if err := limiter.Lock(context.Background(), nil); err != nil {
		t.Fatalf("Lock(nil) = %v, want nil", err)
	}
}

func TestKeyValidation(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	start := time.Now()

	bad := []Key{
		{Scope: "", UnitInSeconds: 3600, StartDate: start, Holder: "R1"},
		{Scope: "tt", UnitInSeconds: 0, StartDate: start, Holder: "R1"},
		{Scope: "tt", UnitInSeconds: 3600, StartDate: start, Holder: ""},
	}
	for i, k := range bad {
		if err := limiter.Lock(ctx, []Key{k}); !errs.IsArgument(err) {
			t.Fatalf("case %d: Lock = %v, want argument error", i, err)
		}
	}
}
