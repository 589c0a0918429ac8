package wmts

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"

	"mapedit/internal/logger"
	"mapedit/internal/metrics"
)

// Store：能力文档原文的二级存储（如 Redis）；实现需并发安全
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, data []byte)
	Delete(ctx context.Context, key string)
}

// Fetcher：拉取能力文档原文
type Fetcher func(ctx context.Context, capsURL, apiKey string) ([]byte, error)

// 文档注释：能力文档缓存
// 背景：同一 (url, apiKey) 在进程生命周期内只解析一次，并发请求合并为一次拉取
// 约束：
// - 键为 "url::apiKey"
// - 成功结果常驻内存，不设过期
// - 失败不缓存，下次调用重新拉取
// - 错误文本统一为 "Failed to load WMTS capabilities: <原因>"
type Cache struct {
	mu    sync.RWMutex
	mem   map[string]*Capabilities
	group singleflight.Group
	fetch Fetcher
	store Store
}

// NewCache：fetch 为空时使用 FetchCapabilities 与 client；store 可为空
func NewCache(client *http.Client, fetch Fetcher, store Store) *Cache {
	if fetch == nil {
		fetch = func(ctx context.Context, capsURL, apiKey string) ([]byte, error) {
			return FetchCapabilities(ctx, client, capsURL, apiKey)
		}
	}
	return &Cache{mem: map[string]*Capabilities{}, fetch: fetch, store: store}
}

// CacheKey：缓存键
func CacheKey(capsURL, apiKey string) string { return capsURL + "::" + apiKey }

// LoadError：能力文档加载失败
type LoadError struct{ Err error }

func (e *LoadError) Error() string { return "Failed to load WMTS capabilities: " + e.Err.Error() }
func (e *LoadError) Unwrap() error { return e.Err }

// Load：取能力文档；内存、二级存储、网络依次回退；二级存储中无法解析的原文会被删除
func (c *Cache) Load(ctx context.Context, capsURL, apiKey string) (*Capabilities, error) {
	key := CacheKey(capsURL, apiKey)
	c.mu.RLock()
	caps, ok := c.mem[key]
	c.mu.RUnlock()
	if ok {
		metrics.CapabilitiesCacheHitsTotal.WithLabelValues("memory").Inc()
		return caps, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		hit, ok := c.mem[key]
		c.mu.RUnlock()
		if ok {
			return hit, nil
		}
		data, fromStore := c.fromStore(ctx, key)
		var parsed *Capabilities
		if fromStore {
			var err error
			parsed, err = Parse(data)
			if err != nil {
				// 二级存储中的原文无法解析时删除并回源
				logger.L().Warn("capabilities_store_corrupt", "url", capsURL, "err", err)
				c.store.Delete(ctx, key)
				fromStore = false
			}
		}
		if !fromStore {
			var err error
			data, err = c.fetch(ctx, capsURL, apiKey)
			if err != nil {
				return nil, err
			}
			parsed, err = Parse(data)
			if err != nil {
				return nil, err
			}
			if c.store != nil {
				c.store.Set(ctx, key, data)
			}
		}
		c.mu.Lock()
		c.mem[key] = parsed
		c.mu.Unlock()
		return parsed, nil
	})
	if err != nil {
		logger.L().Warn("capabilities_load_error", "url", capsURL, "err", err)
		return nil, &LoadError{Err: err}
	}
	return v.(*Capabilities), nil
}

func (c *Cache) fromStore(ctx context.Context, key string) ([]byte, bool) {
	if c.store == nil {
		return nil, false
	}
	data, ok := c.store.Get(ctx, key)
	if ok {
		metrics.CapabilitiesCacheHitsTotal.WithLabelValues("redis").Inc()
	}
	return data, ok
}

// Forget：丢弃某个键的内存结果
func (c *Cache) Forget(capsURL, apiKey string) {
	c.mu.Lock()
	delete(c.mem, CacheKey(capsURL, apiKey))
	c.mu.Unlock()
	c.group.Forget(CacheKey(capsURL, apiKey))
}
