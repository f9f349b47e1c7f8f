// Package idempotency remembers the outcome of call initiation requests keyed by
// the client's Idempotency-Key header.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "calls:idempotency:"
	pendingMarker = "pending"
)

// ErrInFlight is returned while another request holding the same key is still running.
var ErrInFlight = errors.New("request with this idempotency key is in flight")

// Result is what a replayed request answers with.
type Result struct {
	CallID    string    `json:"callId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type Store interface {
	// Reserve claims key. It returns the stored result and true when the key
	// has already completed.
	Reserve(ctx context.Context, key string) (Result, bool, error)
	Complete(ctx context.Context, key string, result Result) error
	Release(ctx context.Context, key string) error
}

type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Reserve(ctx context.Context, key string) (Result, bool, error) {
	ok, err := s.client.SetNX(ctx, keyPrefix+key, pendingMarker, s.ttl).Result()
	if err != nil {
		return Result{}, false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return Result{}, false, nil
	}

	raw, err := s.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) || raw == pendingMarker {
		return Result{}, false, ErrInFlight
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("read idempotency key: %w", err)
	}

	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return Result{}, false, fmt.Errorf("decode idempotency result: %w", err)
	}
	return result, true, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, result Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode idempotency result: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store idempotency result: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// Noop never deduplicates. It is used when Redis is not configured.
type Noop struct{}

func (Noop) Reserve(context.Context, string) (Result, bool, error) { return Result{}, false, nil }
func (Noop) Complete(context.Context, string, Result) error        { return nil }
func (Noop) Release(context.Context, string) error                 { return nil }

var (
	_ Store = (*RedisStore)(nil)
	_ Store = Noop{}
)
