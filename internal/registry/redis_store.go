// SPDX-License-Identifier: MIT

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sambitos23/walkie-lazy/internal/log"
)

const redisExchangeList = "walkie:xlog"

// RedisStore keeps token records in Redis so multiple tokend instances
// can share a registry.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// RedisConfig holds connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// OpenRedisStore connects and pings the server.
func OpenRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger := log.WithComponent("registry.redis")
	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to redis registry store")

	return &RedisStore{client: client, logger: logger}, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func redisTokenKey(token string) string { return "walkie:tok:" + token }

func (s *RedisStore) Put(ctx context.Context, rec *Record) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisTokenKey(rec.Token), buf, 0).Err()
}

func (s *RedisStore) Get(ctx context.Context, token string) (*Record, error) {
	val, err := s.client.Get(ctx, redisTokenKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStore) MarkInvalidated(ctx context.Context, token string) error {
	rec, err := s.Get(ctx, token)
	if err != nil {
		return err
	}
	rec.Invalidated = true
	return s.Put(ctx, rec)
}

func (s *RedisStore) AppendExchange(ctx context.Context, entry *ExchangeEntry) error {
	buf, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, redisExchangeList, buf).Err()
}

func (s *RedisStore) Exchanges(ctx context.Context) ([]ExchangeEntry, error) {
	vals, err := s.client.LRange(ctx, redisExchangeList, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ExchangeEntry, 0, len(vals))
	for _, v := range vals {
		var entry ExchangeEntry
		if err := json.Unmarshal([]byte(v), &entry); err != nil {
			s.logger.Warn().Err(err).Msg("skipping malformed exchange log entry")
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}
