package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisEvaluationCacheStore stores one string value per (flag, subject) and
// tracks the live keys of each flag in a set, so flag-wide invalidation does
// not need pattern scans. Index sets expire slightly after the data keys so
// a dropped invalidation cannot leak members forever.
type RedisEvaluationCacheStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisEvaluationCacheStore(client redis.UniversalClient, prefix string) *RedisEvaluationCacheStore {
	if prefix == "" {
		prefix = "feature_flag"
	}
	return &RedisEvaluationCacheStore{client: client, prefix: prefix}
}

func (s *RedisEvaluationCacheStore) Get(ctx context.Context, flagName, subject string) (bool, bool, error) {
	if s.client == nil {
		return false, false, nil
	}
	val, err := s.client.Get(ctx, s.dataKey(flagName, subject)).Result()
	if err == redis.Nil {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return val == "1", true, nil
}

func (s *RedisEvaluationCacheStore) Set(ctx context.Context, flagName, subject string, enabled bool, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 {
		return nil
	}
	value := "0"
	if enabled {
		value = "1"
	}
	dataKey := s.dataKey(flagName, subject)
	indexKey := s.flagIndexKey(flagName)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, dataKey, value, ttl)
	pipe.SAdd(ctx, indexKey, dataKey)
	pipe.Expire(ctx, indexKey, ttl+time.Minute)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisEvaluationCacheStore) Invalidate(ctx context.Context, flagName, subject string) error {
	if s.client == nil {
		return nil
	}
	dataKey := s.dataKey(flagName, subject)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, dataKey)
	pipe.SRem(ctx, s.flagIndexKey(flagName), dataKey)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisEvaluationCacheStore) InvalidateFlag(ctx context.Context, flagName string) error {
	if s.client == nil {
		return nil
	}
	indexKey := s.flagIndexKey(flagName)
	keys, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	pipe := s.client.TxPipeline()
	if len(keys) > 0 {
		pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, indexKey)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisEvaluationCacheStore) dataKey(flagName, subject string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, flagName, subject)
}

func (s *RedisEvaluationCacheStore) flagIndexKey(flagName string) string {
	return fmt.Sprintf("%s:index:%s", s.prefix, flagName)
}
