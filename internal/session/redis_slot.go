package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "signaldesk:session"

// RedisSlot keeps the pair under a single Redis key.
type RedisSlot struct {
	client *redis.Client
	key    string
}

// NewRedisSlot parses redisURL, checks the connection and returns a slot
// using key (or the default key when empty).
func NewRedisSlot(ctx context.Context, redisURL, key string) (*RedisSlot, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if key == "" {
		key = defaultRedisKey
	}
	return &RedisSlot{client: client, key: key}, nil
}

func (s *RedisSlot) Load(ctx context.Context) (Pair, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Pair{}, nil
		}
		return Pair{}, fmt.Errorf("redis get: %w", err)
	}

	var pair Pair
	if err := json.Unmarshal(data, &pair); err != nil {
		return Pair{}, fmt.Errorf("%w: %v", ErrSlotCorrupt, err)
	}
	return pair, nil
}

func (s *RedisSlot) Save(ctx context.Context, pair Pair) error {
	data, err := json.Marshal(pair)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisSlot) Purge(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Client exposes the connection so other components can share it.
func (s *RedisSlot) Client() *redis.Client {
	return s.client
}

func (s *RedisSlot) Key() string {
	return s.key
}

// Close closes the Redis connection.
func (s *RedisSlot) Close() error {
	return s.client.Close()
}
