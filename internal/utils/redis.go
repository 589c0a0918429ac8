// 包 utils：Redis 连接与 TLS 自签名证书等进程级工具
package utils

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"mapedit/internal/logger"
)

// OpenRedisFromEnv：按环境变量打开 Redis 客户端，用作 WMTS 能力文档的跨进程缓存
// 约束：
// - REDIS_ENABLE 不为 "true" 时返回 nil
// - REDIS_DB 解析失败时回退到 0
// - 连通性检查失败时关闭客户端并返回 nil，调用方退化为仅进程内缓存
func OpenRedisFromEnv(ctx context.Context) *redis.Client {
	if os.Getenv("REDIS_ENABLE") != "true" {
		logger.L().Info("redis_disabled")
		return nil
	}
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	port := os.Getenv("REDIS_PORT")
	if port == "" {
		port = "6379"
	}
	addr := host + ":" + port
	db := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			db = n
		}
	}
	logger.L().Debug("redis_env", "addr", addr, "db", db)
	rc := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASS"), DB: db})
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rc.Ping(pctx).Err(); err != nil {
		logger.L().Error("redis_ping_error", "addr", addr, "err", err)
		_ = rc.Close()
		return nil
	}
	logger.L().Info("redis_ping_ok", "addr", addr)
	return rc
}
