package wmts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"

	"mapedit/internal/logger"
)

// 文档注释：基于 Redis 的能力文档共享缓存
// 背景：多实例部署时避免每个进程各自拉取上游能力文档
// 约束：键为 "wmts:caps:" + sha256(url::apiKey)，不把 apiKey 明文写入 Redis；Redis 故障时视为未命中
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore：ttl 为 0 表示不过期
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if rdb == nil {
		return nil
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func redisKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "wmts:caps:" + hex.EncodeToString(sum[:])
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := s.rdb.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.L().Warn("capabilities_redis_get_error", "err", err)
		}
		return nil, false
	}
	return data, true
}

func (s *RedisStore) Set(ctx context.Context, key string, data []byte) {
	if err := s.rdb.Set(ctx, redisKey(key), data, s.ttl).Err(); err != nil {
		logger.L().Warn("capabilities_redis_set_error", "err", err)
	}
}

func (s *RedisStore) Delete(ctx context.Context, key string) {
	if err := s.rdb.Del(ctx, redisKey(key)).Err(); err != nil {
		logger.L().Warn("capabilities_redis_del_error", "err", err)
	}
}
