package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	logx "stockwatch/pkg/logx"
)

const defaultRedisKey = "stockwatch:state"

// RedisStore keeps the mapping in one hash: field product_id, value "1" or "0".
type RedisStore struct {
	client *redis.Client
	key    string
	log    logx.Logger
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("state.url is required for redis driver")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedis(client, cfg.Key, log), nil
}

// NewRedis wraps an existing client. The store owns it and closes it on Close.
func NewRedis(client *redis.Client, key string, log logx.Logger) *RedisStore {
	if strings.TrimSpace(key) == "" {
		key = defaultRedisKey
	}
	return &RedisStore{client: client, key: key, log: log}
}

func (s *RedisStore) Driver() string { return "redis" }

func (s *RedisStore) Load(ctx context.Context) (map[string]bool, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	state := make(map[string]bool, len(raw))
	for id, v := range raw {
		state[id] = v == "1"
	}
	return state, nil
}

// Save replaces the hash inside MULTI/EXEC.
func (s *RedisStore) Save(ctx context.Context, state map[string]bool) error {
	fields := make([]any, 0, len(state)*2)
	for id, inStock := range state {
		v := "0"
		if inStock {
			v = "1"
		}
		fields = append(fields, id, v)
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(fields) > 0 {
			pipe.HSet(ctx, s.key, fields...)
		}
		return nil
	})
	return err
}

func (s *RedisStore) Close() error { return s.client.Close() }
