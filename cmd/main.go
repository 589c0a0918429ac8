// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mapedit/internal/api"
	"mapedit/internal/config"
	"mapedit/internal/geoip"
	"mapedit/internal/geotext"
	"mapedit/internal/logger"
	"mapedit/internal/metrics"
	"mapedit/internal/middleware"
	"mapedit/internal/session"
	"mapedit/internal/tilegrid"
	"mapedit/internal/utils"
	"mapedit/internal/version"
	"mapedit/internal/wmts"
)

// 能力文档在 Redis 中的保留时间
const capabilitiesTTL = 6 * time.Hour

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	// 日志初始化
	l := logger.Setup()
	l.Debug("log_init_ok")

	cfg, err := config.Load()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	srv := cfg.Server
	proj, err := geotext.ParseProjection(cfg.App.MapProjection)
	if err != nil {
		l.Error("projection_error", "projection", cfg.App.MapProjection, "err", err)
		os.Exit(1)
	}
	l.Info("config_ok", "api_base", srv.APIBase, "projection", proj.Code, "ui", srv.UIDist)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 能力文档缓存：进程内 + 可选 Redis
	var store wmts.Store
	if rc := utils.OpenRedisFromEnv(ctx); rc != nil {
		defer rc.Close()
		store = wmts.NewRedisStore(rc, capabilitiesTTL)
	}
	caps := wmts.NewCache(&http.Client{Timeout: 10 * time.Second}, nil, store)
	if u := cfg.App.WMTSCapabilitiesURL; u != "" {
		// 预热；失败不影响启动，会话创建时会重试
		go func() {
			if _, err := caps.Load(ctx, u, cfg.App.WMTSAPIKey); err != nil {
				l.Warn("capabilities_prefetch_error", "err", err)
			}
		}()
	}

	locator, err := geoip.Open(srv.GeoIPPath)
	if err != nil {
		l.Error("geoip_open_error", "path", srv.GeoIPPath, "err", err)
	}
	defer locator.Close()

	var xyz tilegrid.Grid
	if srv.XYZTileURL != "" {
		xyz = tilegrid.NewXYZ(proj, 0, srv.XYZMaxZoom)
		l.Info("xyz_layer_enabled", "max_zoom", srv.XYZMaxZoom)
	}

	sessions := session.NewStore(srv.SessionMax, srv.SessionTTL)
	defer sessions.CloseAll()
	go sessions.Janitor(ctx, time.Minute)

	preferred := config.PreferredCRS(cfg.App.MapProjection)
	newSession := func(r *http.Request) session.Deps {
		d := session.Deps{
			Projection:    proj,
			PreferredCRS:  preferred,
			DefaultLayers: cfg.App.DefaultWMTSLayers,
			XYZURL:        srv.XYZTileURL,
			XYZ:           xyz,
		}
		if u := cfg.App.WMTSCapabilitiesURL; u != "" {
			c, err := caps.Load(r.Context(), u, cfg.App.WMTSAPIKey)
			if err != nil {
				d.CapabilitiesError = err.Error()
			} else {
				d.Capabilities = c
			}
		}
		if loc, ok := locator.Locate(geoip.ClientIP(r)); ok {
			d.Initial = &loc
		}
		return d
	}

	mux := http.NewServeMux()
	apiMux := api.BuildRoutes(&api.Handler{
		Sessions:   sessions,
		NewSession: newSession,
		Proxy:      wmts.NewTileProxy(nil, cfg.App.WMTSAPIKey),
		UploadMax:  srv.UploadMaxBytes,
		Log:        l,
	})
	apiBase := srv.APIBase
	mux.Handle(apiBase+"/", http.StripPrefix(apiBase, apiMux))
	mux.Handle(apiBase+"/metrics", metrics.Handler())

	fs := http.FileServer(http.Dir(srv.UIDist))
	mux.Handle("/", fs)

	// 向前端暴露 API 基础路径与地图坐标系，避免硬编码
	mux.HandleFunc("/config.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/javascript; charset=utf-8")
		w.Header().Set("cache-control", "no-store")
		_, _ = w.Write([]byte("window.__API_BASE__=" + strconv.Quote(apiBase) + "\n"))
		_, _ = w.Write([]byte("window.__MAP_PROJECTION__=" + strconv.Quote(proj.Code) + "\n"))
		_, _ = w.Write([]byte("window.__COMMIT_SHA__=" + strconv.Quote(version.Commit) + "\n"))
	})

	handler := logger.AccessMiddleware(l, metrics.ObserveHTTP)(mux)
	handler = middleware.Wrap(handler)
	s := &http.Server{Addr: srv.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(sctx)
	}()

	if srv.TLSEnable {
		if err := utils.EnsureSelfSignedCert(srv.TLSCertPath, srv.TLSKeyPath, "mapedit.local"); err != nil {
			l.Error("tls_cert_error", "err", err)
			os.Exit(1)
		}
		// 可选：启动 HTTP 重定向到 HTTPS（不改变 HTTPS 运行端口）
		if srv.TLSRedirectEnable {
			go redirectToHTTPS(srv.TLSRedirectAddr, srv.Addr)
		}
		l.Info("listening_tls", "addr", srv.Addr, "cert", srv.TLSCertPath)
		err = s.ListenAndServeTLS(srv.TLSCertPath, srv.TLSKeyPath)
	} else {
		l.Info("listening", "addr", srv.Addr)
		err = s.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("server_error", "err", err)
		os.Exit(1)
	}
	l.Info("server_stopped")
}

func redirectToHTTPS(redirAddr, httpsAddr string) {
	l := logger.L()
	httpsPort := strings.TrimPrefix(httpsAddr, ":")
	redir := http.NewServeMux()
	redir.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if i := strings.LastIndex(host, ":"); i != -1 {
			host = host[:i]
		}
		if httpsPort != "" && httpsPort != "443" {
			host = host + ":" + httpsPort
		}
		target := "https://" + host + r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusMovedPermanently)
		l.Debug("http_redirect", "from", r.Host, "to", target)
	})
	l.Info("http_redirect_listening", "addr", redirAddr, "to", "https"+httpsAddr)
	if err := http.ListenAndServe(redirAddr, logger.AccessMiddleware(l, nil)(redir)); err != nil {
		l.Error("http_redirect_error", "err", err)
	}
}
