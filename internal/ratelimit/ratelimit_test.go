package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

// TestMemorySlidingWindow 测试滑动窗口限流
func TestMemorySlidingWindow(t *testing.T) {
	mock := clock.NewMock()
	l := NewMemory(2, time.Second, mock)
	ctx := context.Background()

	if !l.Allow(ctx, "a") || !l.Allow(ctx, "a") {
		t.Fatal("first two attempts should pass")
	}
	if l.Allow(ctx, "a") {
		t.Error("third attempt inside the window should be denied")
	}
	if !l.Allow(ctx, "b") {
		t.Error("keys should be independent")
	}

	mock.Add(1001 * time.Millisecond)
	if !l.Allow(ctx, "a") {
		t.Error("attempt after the window should pass")
	}
}

func TestMemoryForget(t *testing.T) {
	l := NewMemory(1, time.Minute, clock.NewMock())
	ctx := context.Background()
	l.Allow(ctx, "a")
	if l.Allow(ctx, "a") {
		t.Fatal("expected denial")
	}
	l.Forget("a")
	if !l.Allow(ctx, "a") {
		t.Error("forgotten key should start fresh")
	}
}

func TestMemoryZeroLimitDisables(t *testing.T) {
	l := NewMemory(0, time.Second, nil)
	for i := 0; i < 10; i++ {
		if !l.Allow(context.Background(), "a") {
			t.Fatal("zero limit should never deny")
		}
	}
}

// TestRedisNilClientFailsOpen 测试没有 redis 时放行
func TestRedisNilClientFailsOpen(t *testing.T) {
	var r *Redis
	if !r.Allow(context.Background(), "a") {
		t.Error("nil limiter should allow")
	}
	if !NewRedis(nil, 1, time.Second).Allow(context.Background(), "a") {
		t.Error("limiter without client should allow")
	}
}
