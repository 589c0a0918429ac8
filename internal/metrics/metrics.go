package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapedit_http_requests_total",
		Help: "Total HTTP requests by method and status",
	}, []string{"method", "status"})
	HTTPDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mapedit_http_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	})
	SyncTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapedit_sync_total",
		Help: "Sync passes by direction (text_to_geometry, geometry_to_text, echo)",
	}, []string{"direction"})
	ParseErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapedit_parse_errors_total",
		Help: "GeoJSON parse failures by source (editor, url, upload)",
	}, []string{"source"})
	ExportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapedit_exports_total",
		Help: "Exports by format and status",
	}, []string{"format", "status"})
	UploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapedit_uploads_total",
		Help: "Uploads by kind and status",
	}, []string{"kind", "status"})
	TileJumpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapedit_tile_jumps_total",
		Help: "Tile jump requests by status",
	}, []string{"status"})
	CapabilitiesFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapedit_capabilities_fetch_total",
		Help: "WMTS capabilities fetches by status",
	}, []string{"status"})
	CapabilitiesCacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapedit_capabilities_cache_hits_total",
		Help: "WMTS capabilities cache hits by tier (memory, redis)",
	}, []string{"tier"})
	TileFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapedit_tile_fetch_total",
		Help: "Proxied tile fetches by status (ok, error, skipped)",
	}, []string{"status"})
	TileFetchDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mapedit_tile_fetch_duration_ms",
		Help:    "Upstream tile fetch duration in milliseconds",
		Buckets: []float64{5, 10, 20, 50, 100, 200, 500, 1000, 2000},
	})
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mapedit_sessions_active",
		Help: "Editor sessions currently held in memory",
	})
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPDurationMs)
	prometheus.MustRegister(SyncTotal)
	prometheus.MustRegister(ParseErrorsTotal)
	prometheus.MustRegister(ExportsTotal)
	prometheus.MustRegister(UploadsTotal)
	prometheus.MustRegister(TileJumpsTotal)
	prometheus.MustRegister(CapabilitiesFetchTotal)
	prometheus.MustRegister(CapabilitiesCacheHitsTotal)
	prometheus.MustRegister(TileFetchTotal)
	prometheus.MustRegister(TileFetchDurationMs)
	prometheus.MustRegister(SessionsActive)
}

// ObserveHTTP：供访问日志中间件回调
func ObserveHTTP(r *http.Request, status int, dur time.Duration) {
	HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
	HTTPDurationMs.Observe(float64(dur.Milliseconds()))
}

// 文档注释：返回 Prometheus 指标监听器，在主入口挂载到 <API_BASE>/metrics
func Handler() http.Handler { return promhttp.Handler() }
