package wmts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"mapedit/internal/logger"
	"mapedit/internal/metrics"
)

// 能力文档体积上限
const maxCapabilitiesBytes = 32 << 20

var ErrMissingURL = errors.New("missing capabilities url")

// 文档注释：拉取能力文档原文
// 参数：
// - client：HTTP 客户端；为空时使用 5s 超时的默认客户端
// - apiKey：非空时以 x-api-key 头发送
// 返回：响应体；非 2xx 时错误为 "HTTP <status>"
func FetchCapabilities(ctx context.Context, client *http.Client, capsURL, apiKey string) ([]byte, error) {
	if capsURL == "" {
		return nil, ErrMissingURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, capsURL, nil)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	t0 := time.Now()
	logger.L().Debug("capabilities_req", "url", capsURL)
	resp, err := client.Do(req)
	if err != nil {
		logger.L().Error("capabilities_http_error", "err", err)
		metrics.CapabilitiesFetchTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.CapabilitiesFetchTotal.WithLabelValues("error").Inc()
		logger.L().Warn("capabilities_status", "url", capsURL, "status", resp.StatusCode)
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCapabilitiesBytes))
	if err != nil {
		metrics.CapabilitiesFetchTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.CapabilitiesFetchTotal.WithLabelValues("ok").Inc()
	logger.L().Debug("capabilities_resp", "url", capsURL, "bytes", len(body), "duration_ms", time.Since(t0).Milliseconds())
	return body, nil
}
