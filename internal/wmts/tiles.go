package wmts

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"mapedit/internal/logger"
	"mapedit/internal/metrics"
)

// 单个瓦片体积上限
const maxTileBytes = 8 << 20

// 错误集合容量上限；超出后淘汰最早记入的瓦片
const maxErroredTiles = 4096

// ErrTileFailed：该瓦片此前加载失败，已标记为错误，不再请求上游
var ErrTileFailed = errors.New("tile previously failed")

// TileSource：按瓦片坐标给出上游地址
type TileSource interface {
	TileURL(z, x, y int) (string, error)
}

// TemplateSource：{z}/{x}/{y} 模板形式的 XYZ 底图
type TemplateSource string

func (t TemplateSource) TileURL(z, x, y int) (string, error) {
	if t == "" {
		return "", errors.New("empty tile template")
	}
	return strings.NewReplacer(
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
	).Replace(string(t)), nil
}

type Tile struct {
	Data        []byte
	ContentType string
}

// 文档注释：瓦片代理
// 背景：上游需要 x-api-key 头，浏览器图片请求无法携带，由服务端代为拉取
// 约束：
// - 失败（网络错误或非 2xx）的瓦片记入错误集合，之后直接返回 ErrTileFailed
// - 错误集合按 "图层/z/x/y" 记录，容量有限，满时先进先出淘汰；Reset 在切换图层选择后清空
type TileProxy struct {
	client *http.Client
	apiKey string

	mu      sync.Mutex
	limit   int
	order   *list.List
	errored map[string]*list.Element
}

// NewTileProxy：client 为空时使用 10s 超时的默认客户端
func NewTileProxy(client *http.Client, apiKey string) *TileProxy {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &TileProxy{
		client:  client,
		apiKey:  apiKey,
		limit:   maxErroredTiles,
		order:   list.New(),
		errored: map[string]*list.Element{},
	}
}

func tileKey(layerID string, z, x, y int) string {
	return fmt.Sprintf("%s/%d/%d/%d", layerID, z, x, y)
}

// Errored：瓦片是否已标记为错误
func (p *TileProxy) Errored(layerID string, z, x, y int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.errored[tileKey(layerID, z, x, y)]
	return ok
}

func (p *TileProxy) markErrored(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.errored[key]; ok {
		return
	}
	p.errored[key] = p.order.PushBack(key)
	for p.order.Len() > p.limit {
		oldest := p.order.Front()
		p.order.Remove(oldest)
		delete(p.errored, oldest.Value.(string))
	}
}

// ErroredCount：错误集合当前大小
func (p *TileProxy) ErroredCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.errored)
}

// Reset：清空错误集合
func (p *TileProxy) Reset() {
	p.mu.Lock()
	p.order.Init()
	p.errored = map[string]*list.Element{}
	p.mu.Unlock()
}

// Fetch：拉取瓦片
func (p *TileProxy) Fetch(ctx context.Context, layerID string, src TileSource, z, x, y int) (*Tile, error) {
	key := tileKey(layerID, z, x, y)
	if p.Errored(layerID, z, x, y) {
		metrics.TileFetchTotal.WithLabelValues("skipped").Inc()
		return nil, ErrTileFailed
	}
	u, err := src.TileURL(z, x, y)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if p.apiKey != "" {
		req.Header.Set("x-api-key", p.apiKey)
	}
	t0 := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			p.markErrored(key)
		}
		metrics.TileFetchTotal.WithLabelValues("error").Inc()
		logger.L().Warn("tile_http_error", "tile", key, "err", err)
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.markErrored(key)
		metrics.TileFetchTotal.WithLabelValues("error").Inc()
		logger.L().Debug("tile_status", "tile", key, "status", resp.StatusCode)
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		p.markErrored(key)
		metrics.TileFetchTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.TileFetchTotal.WithLabelValues("ok").Inc()
	metrics.TileFetchDurationMs.Observe(float64(time.Since(t0).Milliseconds()))
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return &Tile{Data: data, ContentType: ct}, nil
}
