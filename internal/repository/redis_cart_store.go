package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"pantry-service/internal/apperr"
	"pantry-service/internal/entity"
)

// RedisCartStore keeps one JSON document per principal under cart:<user_id>.
type RedisCartStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCartStore creates a cart store; ttl of 0 keeps carts until checkout.
func NewRedisCartStore(rdb *redis.Client, ttl time.Duration) *RedisCartStore {
	return &RedisCartStore{rdb: rdb, ttl: ttl}
}

func cartKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}

func (s *RedisCartStore) Get(ctx context.Context, userID string) (*entity.Cart, error) {
	val, err := s.rdb.Get(ctx, cartKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return &entity.Cart{UserID: userID}, nil
	}
	if err != nil {
		logger.Error().Err(err).Msgf("Error getting cart of %s from redis", userID)
		return nil, apperr.Unavailable(err, "get cart")
	}
	return decodeCart(userID, val)
}

// Take uses GETDEL (Redis 6.2+) so that replicas sharing this store can
// never both check out the same cart.
func (s *RedisCartStore) Take(ctx context.Context, userID string) (*entity.Cart, error) {
	val, err := s.rdb.GetDel(ctx, cartKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return &entity.Cart{UserID: userID}, nil
	}
	if err != nil {
		logger.Error().Err(err).Msgf("Error taking cart of %s from redis", userID)
		return nil, apperr.Unavailable(err, "take cart")
	}
	return decodeCart(userID, val)
}

func decodeCart(userID, val string) (*entity.Cart, error) {
	var cart entity.Cart
	if err := json.Unmarshal([]byte(val), &cart); err != nil {
		logger.Error().Err(err).Msgf("Error unmarshalling cart of %s", userID)
		return nil, apperr.Wrap(err, apperr.KindInternal, "decode cart")
	}
	cart.UserID = userID
	return &cart, nil
}

func (s *RedisCartStore) Save(ctx context.Context, cart *entity.Cart) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return apperr.Wrap(err, apperr.KindInternal, "encode cart")
	}
	if err := s.rdb.Set(ctx, cartKey(cart.UserID), data, s.ttl).Err(); err != nil {
		logger.Error().Err(err).Msgf("Error saving cart of %s to redis", cart.UserID)
		return apperr.Unavailable(err, "save cart")
	}
	return nil
}

func (s *RedisCartStore) Delete(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, cartKey(userID)).Err(); err != nil {
		logger.Error().Err(err).Msgf("Error deleting cart of %s from redis", userID)
		return apperr.Unavailable(err, "delete cart")
	}
	return nil
}
