// 包 geoip：按访问者 IP 估算新会话的初始视图
package geoip

import (
	"net"
	"net/http"
	"strings"

	"github.com/oschwald/geoip2-golang"

	"mapedit/internal/logger"
)

// Location：IP 定位结果，Zoom 由定位精度换算
type Location struct {
	Lon     float64 `json:"lon"`
	Lat     float64 `json:"lat"`
	Zoom    float64 `json:"zoom"`
	Country string  `json:"country,omitempty"`
	City    string  `json:"city,omitempty"`
}

// 文档注释：MaxMind City 库定位器
// 约束：未配置库路径时 Open 返回 nil 定位器；nil 定位器的 Locate 恒为未命中
type Locator struct {
	db *geoip2.Reader
}

// Open：path 为空时返回 (nil, nil)
func Open(path string) (*Locator, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	logger.L().Info("geoip_open_ok", "path", path)
	return &Locator{db: db}, nil
}

func (l *Locator) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Locate：私网、回环与未收录地址返回 false
func (l *Locator) Locate(ipText string) (Location, bool) {
	if l == nil || l.db == nil {
		return Location{}, false
	}
	ip := net.ParseIP(strings.TrimSpace(ipText))
	if ip == nil || ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		return Location{}, false
	}
	rec, err := l.db.City(ip)
	if err != nil {
		logger.L().Debug("geoip_lookup_error", "ip", ipText, "err", err)
		return Location{}, false
	}
	if rec.Location.Latitude == 0 && rec.Location.Longitude == 0 {
		return Location{}, false
	}
	loc := Location{
		Lon:     rec.Location.Longitude,
		Lat:     rec.Location.Latitude,
		Zoom:    ZoomForRadius(rec.Location.AccuracyRadius),
		Country: rec.Country.IsoCode,
		City:    rec.City.Names["en"],
	}
	if loc.City == "" && loc.Zoom > 5 {
		loc.Zoom = 5
	}
	return loc, true
}

// ZoomForRadius：定位精度半径（km）换算为缩放级别
func ZoomForRadius(km uint16) float64 {
	switch {
	case km == 0:
		return 4
	case km <= 25:
		return 10
	case km <= 100:
		return 8
	case km <= 500:
		return 6
	}
	return 4
}

// ClientIP：访问者 IP
// 背景：多层代理环境下优先常见反向代理头，最后回退远端地址
// 约束：头部存在伪造风险，结果只用于初始视图估算，不做任何访问控制
func ClientIP(r *http.Request) string {
	h := r.Header
	for _, name := range []string{"x-forwarded-for", "cf-connecting-ip", "x-real-ip", "x-client-ip"} {
		if x := h.Get(name); x != "" {
			return strings.TrimSpace(strings.Split(x, ",")[0])
		}
	}
	if x := h.Get("forwarded"); x != "" {
		if i := strings.Index(strings.ToLower(x), "for="); i >= 0 {
			y := strings.Trim(x[i+4:], "\" ")
			if p := strings.IndexAny(y, ";,"); p >= 0 {
				y = y[:p]
			}
			return strings.Trim(y, "\"[]")
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
