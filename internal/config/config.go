// 包 config：应用配置（WMTS 与地图坐标系）与服务端配置的加载
package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"mapedit/internal/logger"
)

// 缺省地图坐标系
const DefaultProjection = "EPSG:3857"

// App：前端与会话共享的应用配置
type App struct {
	WMTSCapabilitiesURL string   `json:"wmtsCapabilitiesUrl"`
	MapProjection       string   `json:"mapProjection"`
	WMTSAPIKey          string   `json:"wmtsApiKey,omitempty"`
	DefaultWMTSLayers   []string `json:"defaultWmtsLayers"`
}

// raw：配置文件的原始形态；指针区分缺失/null 与空值
type raw struct {
	WMTSCapabilitiesURL *string    `json:"wmtsCapabilitiesUrl"`
	MapProjection       *string    `json:"mapProjection"`
	WMTSAPIKey          *string    `json:"wmtsApiKey"`
	DefaultWMTSLayers   *[]*string `json:"defaultWmtsLayers"`
}

// Server：服务端运行配置
type Server struct {
	Addr              string
	APIBase           string
	UIDist            string
	TLSEnable         bool
	TLSCertPath       string
	TLSKeyPath        string
	TLSRedirectEnable bool
	TLSRedirectAddr   string
	RedisEnable       bool
	GeoIPPath         string
	XYZTileURL        string
	XYZMaxZoom        int
	SessionMax        int
	SessionTTL        time.Duration
	UploadMaxBytes    int64
}

type Config struct {
	App    App
	Server Server
}

// ResolveString：覆盖值去空白后非空则取之，否则取去空白的回退值
func ResolveString(override, fallback *string) string {
	if override != nil {
		if v := strings.TrimSpace(*override); v != "" {
			return v
		}
	}
	if fallback != nil {
		return strings.TrimSpace(*fallback)
	}
	return ""
}

// ResolveLayers：覆盖列表存在（即使为空）则取之，否则取回退列表；空白项被丢弃
func ResolveLayers(override, fallback *[]*string) []string {
	src := fallback
	if override != nil {
		src = override
	}
	out := []string{}
	if src == nil {
		return out
	}
	for _, v := range *src {
		if v == nil {
			continue
		}
		if s := strings.TrimSpace(*v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// PreferredCRS：坐标系代码中最后一个 ':' 之后的部分，如 "EPSG:3857" → "3857"
func PreferredCRS(projection string) string {
	if i := strings.LastIndex(projection, ":"); i >= 0 {
		return projection[i+1:]
	}
	return projection
}

// 文档注释：读取配置目录下的 default.json 与 local.json 并按键浅合并
// 约束：文件缺失视为空对象；local 中显式的 null 同样覆盖 default
func readFiles(dir string) (raw, error) {
	merged := map[string]json.RawMessage{}
	for _, name := range []string{"default.json", "local.json"} {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			logger.L().Debug("config_file_missing", "file", name)
			continue
		}
		if err != nil {
			return raw{}, err
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(b, &m); err != nil {
			return raw{}, errors.New(name + ": " + err.Error())
		}
		for k, v := range m {
			merged[k] = v
		}
	}
	b, _ := json.Marshal(merged)
	var r raw
	if err := json.Unmarshal(b, &r); err != nil {
		return raw{}, err
	}
	return r, nil
}

// envOverride：环境变量覆盖层；DEFAULT_WMTS_LAYERS 为逗号分隔，已设置（即使为空）即视为覆盖
func envOverride() raw {
	var r raw
	str := func(name string) *string {
		if v, ok := os.LookupEnv(name); ok {
			return &v
		}
		return nil
	}
	r.WMTSCapabilitiesURL = str("WMTS_CAPABILITIES_URL")
	r.MapProjection = str("MAP_PROJECTION")
	r.WMTSAPIKey = str("WMTS_API_KEY")
	if v, ok := os.LookupEnv("DEFAULT_WMTS_LAYERS"); ok {
		var list []*string
		for _, part := range strings.Split(v, ",") {
			p := part
			list = append(list, &p)
		}
		r.DefaultWMTSLayers = &list
	}
	return r
}

func toApp(base, override raw) App {
	a := App{
		WMTSCapabilitiesURL: ResolveString(override.WMTSCapabilitiesURL, base.WMTSCapabilitiesURL),
		MapProjection:       ResolveString(override.MapProjection, base.MapProjection),
		WMTSAPIKey:          ResolveString(override.WMTSAPIKey, base.WMTSAPIKey),
		DefaultWMTSLayers:   ResolveLayers(override.DefaultWMTSLayers, base.DefaultWMTSLayers),
	}
	if a.MapProjection == "" {
		a.MapProjection = DefaultProjection
	}
	return a
}

// Load：加载全部配置
// 背景：先载入 .env 与 data/env/.env，再读配置目录（CONFIG_DIR，缺省 config），最后应用环境变量覆盖
func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	dir := envOr("CONFIG_DIR", "config")
	base, err := readFiles(dir)
	if err != nil {
		return nil, err
	}
	cfg := &Config{App: toApp(base, envOverride()), Server: loadServer()}
	logger.L().Debug("config_loaded", "dir", dir, "projection", cfg.App.MapProjection, "layers", len(cfg.App.DefaultWMTSLayers), "capabilities", cfg.App.WMTSCapabilitiesURL != "")
	return cfg, nil
}

func loadServer() Server {
	return Server{
		Addr:              envOr("ADDR", ":8080"),
		APIBase:           apiBase(),
		UIDist:            envOr("UI_DIST", filepath.Join("ui", "dist")),
		TLSEnable:         os.Getenv("TLS_ENABLE") == "true",
		TLSCertPath:       envOr("TLS_CERT_PATH", filepath.Join("data", "certs", "server.crt")),
		TLSKeyPath:        envOr("TLS_KEY_PATH", filepath.Join("data", "certs", "server.key")),
		TLSRedirectEnable: os.Getenv("TLS_REDIRECT_ENABLE") == "true",
		TLSRedirectAddr:   envOr("TLS_REDIRECT_ADDR", ":80"),
		RedisEnable:       os.Getenv("REDIS_ENABLE") == "true",
		GeoIPPath:         os.Getenv("GEOIP_DB_PATH"),
		XYZTileURL:        strings.TrimSpace(os.Getenv("XYZ_TILE_URL")),
		XYZMaxZoom:        envInt("XYZ_MAX_ZOOM", 19),
		SessionMax:        envInt("SESSION_MAX", 256),
		SessionTTL:        time.Duration(envInt("SESSION_TTL_S", 3600)) * time.Second,
		UploadMaxBytes:    int64(envInt("UPLOAD_MAX_BYTES", 32<<20)),
	}
}

// apiBase：去掉末尾 '/'；为空或为根路径时回退 /api，避免与静态资源路由冲突
func apiBase() string {
	b := strings.TrimRight(envOr("API_BASE", "/api"), "/")
	if b == "" {
		return "/api"
	}
	if !strings.HasPrefix(b, "/") {
		b = "/" + b
	}
	return b
}

func envOr(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

// envInt：解析失败或非正数时回退缺省值
func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && n > 0 {
			return n
		}
	}
	return def
}
