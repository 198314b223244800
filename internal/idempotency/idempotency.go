// Package idempotency remembers the outcome of batch requests sent with an
// Idempotent-Key header so that a resent request is answered, not re-run.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"pantry-service/internal/apperr"
)

const pending = "pending"

// Response is the stored outcome of a completed request.
type Response struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Store reserves keys and records their outcome.
//
// Reserve returns (nil, nil) when the caller now owns key, the stored
// Response when key already completed, and a conflict while another request
// holding key is still running.
type Store interface {
	Reserve(ctx context.Context, key string) (*Response, error)
	Complete(ctx context.Context, key string, resp *Response) error
	Release(ctx context.Context, key string) error
}

var (
	_ Store = (*RedisStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

func redisKey(key string) string {
	return fmt.Sprintf("idempotent-key:%s", key)
}

type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Reserve(ctx context.Context, key string) (*Response, error) {
	ok, err := s.rdb.SetNX(ctx, redisKey(key), pending, s.ttl).Result()
	if err != nil {
		return nil, apperr.Unavailable(err, "reserve idempotency key")
	}
	if ok {
		return nil, nil
	}

	val, err := s.rdb.Get(ctx, redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		// Expired or released between the two calls.
		return s.Reserve(ctx, key)
	}
	if err != nil {
		return nil, apperr.Unavailable(err, "read idempotency key")
	}
	return decode(key, val)
}

func (s *RedisStore) Complete(ctx context.Context, key string, resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, redisKey(key), data, s.ttl).Err(); err != nil {
		return apperr.Unavailable(err, "store idempotent response")
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, redisKey(key)).Err(); err != nil {
		return apperr.Unavailable(err, "release idempotency key")
	}
	return nil
}

func decode(key, val string) (*Response, error) {
	if val == pending {
		return nil, apperr.Conflict("request with idempotent key %s is still in progress", key)
	}
	var resp Response
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return nil, fmt.Errorf("decode idempotent response: %w", err)
	}
	return &resp, nil
}

// MemoryStore keeps keys in process memory. Entries never expire.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: map[string]string{}}
}

func (s *MemoryStore) Reserve(_ context.Context, key string) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	val, ok := s.keys[key]
	if !ok {
		s.keys[key] = pending
		return nil, nil
	}
	return decode(key, val)
}

func (s *MemoryStore) Complete(_ context.Context, key string, resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = string(data)
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}
