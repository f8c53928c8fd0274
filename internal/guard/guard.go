// Package guard deduplicates gap candidates across restarts. A candidate is
// claimed with SETNX before its pipeline job is submitted, so one
// symbol/window occurrence locks at most once even if the service bounces
// mid-session.
package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Guard claims gap candidates.
type Guard interface {
	// Claim returns true when this process is the first to see the
	// candidate. On a Redis error it fails open: double-submitting under a
	// broken guard beats never locking at all.
	Claim(ctx context.Context, symbol string, windowStart int64) (bool, error)
	Close() error
}

type redisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects a Redis-backed guard.
func New(addr string, ttl time.Duration) Guard {
	return NewWithClient(redis.NewClient(&redis.Options{Addr: addr}), ttl)
}

// NewWithClient wraps an existing client, used by tests.
func NewWithClient(client *redis.Client, ttl time.Duration) Guard {
	return &redisGuard{client: client, ttl: ttl}
}

func (g *redisGuard) Claim(ctx context.Context, symbol string, windowStart int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	key := fmt.Sprintf("gaplock:%s:%d", symbol, windowStart)
	ok, err := g.client.SetNX(ctx, key, 1, g.ttl).Result()
	if err != nil {
		return true, fmt.Errorf("failed to claim candidate: %w", err)
	}
	return ok, nil
}

func (g *redisGuard) Close() error {
	return g.client.Close()
}

// Nop is a guard that claims everything, used when Redis is disabled.
type Nop struct{}

func (Nop) Claim(ctx context.Context, symbol string, windowStart int64) (bool, error) {
	return true, nil
}
func (Nop) Close() error { return nil }
