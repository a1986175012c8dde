package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"adunlock/models"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisKey        = "adunlock:state"
	defaultRedisMaxRetries = 16
)

// RedisStore keeps the state as one JSON string. Writers use WATCH/MULTI and
// retry when another client changed the key between read and write.
type RedisStore struct {
	client     *redis.Client
	key        string
	maxRetries int
	mu         sync.Mutex
}

// OpenRedisStore parses a redis:// or rediss:// URL and pings the server.
func OpenRedisStore(ctx context.Context, rawURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStore(client, defaultRedisKey), nil
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisStore{client: client, key: key, maxRetries: defaultRedisMaxRetries}
}

func (s *RedisStore) Update(ctx context.Context, fn func(state *models.State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			state, err := s.load(ctx, tx)
			if err != nil {
				return err
			}
			if err := fn(state); err != nil {
				return err
			}
			payload, err := json.Marshal(state)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, s.key, payload, 0)
				return nil
			})
			return err
		}, s.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

func (s *RedisStore) View(ctx context.Context, fn func(state *models.State) error) error {
	state, err := s.load(ctx, s.client)
	if err != nil {
		return err
	}
	return fn(state)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, c redisGetter) (*models.State, error) {
	payload, err := c.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	state := models.NewState()
	if err := json.Unmarshal(payload, state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	state.Normalize()
	return state, nil
}
