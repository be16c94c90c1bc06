// Package ratelimit throttles chat fan-out per connection.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// Memory is a sliding-window limiter kept in process memory.
type Memory struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
	clock    clock.Clock
}

func NewMemory(limit int, interval time.Duration, clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.New()
	}
	return &Memory{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		clock:    clk,
	}
}

func (m *Memory) Allow(_ context.Context, key string) bool {
	if m.limit <= 0 {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	windowStart := now.Add(-m.interval)

	attempts := m.history[key]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= m.limit {
		m.history[key] = fresh
		return false
	}
	m.history[key] = append(fresh, now)
	return true
}

// Forget drops the history of key, e.g. when its connection closes.
func (m *Memory) Forget(key string) {
	m.mu.Lock()
	delete(m.history, key)
	m.mu.Unlock()
}

// Redis is a fixed-window limiter shared across processes through INCR and
// EXPIRE. Redis errors allow the request.
type Redis struct {
	client   *redis.Client
	limit    int
	interval time.Duration
	prefix   string
}

func NewRedis(client *redis.Client, limit int, interval time.Duration) *Redis {
	return &Redis{client: client, limit: limit, interval: interval, prefix: "hum:chat"}
}

// DialRedis parses a redis:// url and pings the server.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *Redis) Allow(ctx context.Context, key string) bool {
	if r == nil || r.client == nil || r.limit <= 0 {
		return true
	}
	k := fmt.Sprintf("%s:%s", r.prefix, key)
	count, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		log.Warn().Str("module", "ratelimit").Err(err).Msg("redis incr failed, allowing")
		return true
	}
	if count == 1 {
		r.client.Expire(ctx, k, r.interval)
	}
	return int(count) <= r.limit
}
