// 包 session：一个编辑器实例（图层、相机、同步引擎、悬停、地址栏、图层目录）及其有界存储
package session

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"mapedit/internal/geoip"
	"mapedit/internal/geotext"
	"mapedit/internal/hover"
	"mapedit/internal/layer"
	"mapedit/internal/logger"
	"mapedit/internal/mapview"
	"mapedit/internal/metrics"
	"mapedit/internal/syncengine"
	"mapedit/internal/tilegrid"
	"mapedit/internal/urlstate"
	"mapedit/internal/wmts"
)

const (
	ZoomDuration = 200 * time.Millisecond

	ErrURLGeo = "Invalid GeoJSON in URL"
)

var ErrClosed = errors.New("session closed")

// Deps：会话依赖；除 Projection 外均可为零值
type Deps struct {
	Projection geotext.Projection
	MaxZoom    float64
	// Capabilities 为 nil 表示能力文档未加载；CapabilitiesError 为加载失败的提示
	// 每个会话由它构建自己的图层目录（选择状态按会话隔离）
	Capabilities      *wmts.Capabilities
	CapabilitiesError string
	PreferredCRS      string
	DefaultLayers     []string
	// XYZURL 为 XYZ 底图模板（{z}{x}{y}），XYZ 为其网格；无 WMTS 图层可用时作为瓦片网格
	XYZURL string
	XYZ    tilegrid.Grid
	// Initial 为按访问者 IP 估算的初始位置（经纬度），地址栏无 map 参数时使用
	Initial *geoip.Location
	After   urlstate.AfterFunc
	Log     *slog.Logger
}

// 文档注释：编辑器会话
// 背景：浏览器负责渲染与输入，所有状态与逻辑在此；HTTP 层把界面事件翻译为方法调用
// 约束：
// - 所有公开方法互斥执行；引擎、悬停、相机的回调在持锁的调用内同步触发，回调内不再取锁
// - 地址栏写回由防抖定时器在其他协程执行，只触及 Writer 自身的锁
type Session struct {
	ID string

	mu        sync.Mutex
	closed    bool
	proj      geotext.Projection
	layer     *layer.Layer
	view      *mapview.View
	engine    *syncengine.Engine
	bridge    *hover.Bridge
	highlight *hover.Highlight
	url       *urlstate.Writer
	catalog   *wmts.Catalog
	capsErr   string
	xyz       tilegrid.Grid
	xyzURL    string
	log       *slog.Logger

	draw      DrawMode
	tileDebug bool
	uploadErr string
	exportErr string
	lastText  string

	unsubLayer func()
}

// New：创建会话并按地址栏恢复状态
// 约束：
// - map 参数有效时先恢复视图，并跳过由此产生的第一次 moveend 写回
// - geo 参数解码成功后以两空格缩进送入引擎；无 map 参数时适配视图；解码失败显示 "Invalid GeoJSON in URL"
// - 两者均无且有 IP 定位时，视图移到定位点
func New(id, rawQuery string, d Deps) *Session {
	log := d.Log
	if log == nil {
		log = logger.L()
	}
	log = log.With("session", id)
	s := &Session{
		ID:      id,
		proj:    d.Projection,
		layer:   layer.New(),
		view:    mapview.New(d.Projection, d.MaxZoom),
		bridge:  hover.NewBridge(),
		url:     urlstate.NewWriter(rawQuery, d.After, log),
		capsErr: d.CapabilitiesError,
		xyz:     d.XYZ,
		xyzURL:  d.XYZURL,
		log:     log,
		draw:    DrawNone,
	}
	if d.Capabilities != nil {
		s.catalog = wmts.NewCatalog(d.Capabilities, d.PreferredCRS, d.DefaultLayers)
	}
	s.engine = syncengine.New(s.layer, s.view, d.Projection, log)
	s.highlight = hover.NewHighlight(s.engine)
	s.lastText = s.engine.Text()
	s.bridge.SetText(s.lastText)

	s.engine.OnText(s.onText)
	s.bridge.Subscribe(s.highlight.Apply)
	// 引擎先订阅，键表已更新；高亮随图层内容重新匹配
	s.unsubLayer = s.layer.Subscribe(func(layer.Change) {
		s.highlight.Apply(s.bridge.Key())
	})
	s.view.OnMoveEnd(func(me mapview.MoveEnd) {
		s.url.MoveEnd(urlstate.MapView{Zoom: me.Zoom, X: me.Center[0], Y: me.Center[1]}, me.User)
	})
	s.url.OnWrite(func(q string) {
		log.Debug("url_write", "query", q)
	})

	st := urlstate.Read(rawQuery)
	mapApplied := false
	if st.Map != "" {
		if mv, ok := urlstate.ParseMapParam(st.Map); ok {
			s.url.RestoreFromURL(func() {
				s.view.Set(orb.Point{mv.X, mv.Y}, mv.Zoom, false)
			})
			mapApplied = true
		}
	}
	if st.Geo != "" {
		if v, err := urlstate.DecodeGeo(st.Geo); err == nil {
			if text, err := geotext.Pretty(v); err == nil {
				_ = s.engine.OnTextChanged(syncengine.TextChange{Text: text}, syncengine.Options{Fit: st.Map == ""})
			}
		} else {
			metrics.ParseErrorsTotal.WithLabelValues("url").Inc()
			log.Debug("url_geo_invalid", "err", err)
			s.engine.Fail(ErrURLGeo)
		}
	}
	if !mapApplied && st.Geo == "" && d.Initial != nil {
		s.view.Set(d.Projection.PointToMap(orb.Point{d.Initial.Lon, d.Initial.Lat}), d.Initial.Zoom, false)
	}
	return s
}

// onText：显示文本变化；重建悬停范围，驱动地址栏写回，文本变化时清除导出错误
func (s *Session) onText(u syncengine.Update) {
	if u.Text == s.lastText {
		return
	}
	s.lastText = u.Text
	s.exportErr = ""
	s.bridge.SetText(u.Text)
	s.url.TextChanged(u.Text)
}

// Close：停止待写回并解除订阅；重复调用无副作用
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.url.Stop()
	s.unsubLayer()
	s.engine.Close()
	s.log.Debug("session_closed")
}

func (s *Session) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	return nil
}

// TextChange：编辑器文本变更；paste 为 true 时按粘贴处理（适配视图）
// 约束：清除上传与导出错误；非回声的变更计为用户编辑
func (s *Session) TextChange(ch syncengine.TextChange, paste bool) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.applyText(ch, paste)
	return nil
}

func (s *Session) applyText(ch syncengine.TextChange, fit bool) {
	s.uploadErr = ""
	s.exportErr = ""
	if !s.engine.IsEcho(ch) {
		s.url.MarkUserEdited()
	}
	_ = s.engine.OnTextChanged(ch, syncengine.Options{Fit: fit})
}

// HoverOffset：编辑器光标悬停到字符偏移（按 Unicode 码点计）
func (s *Session) HoverOffset(offset int) (*string, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.bridge.SetOffset(offset), nil
}

// HoverLeave：光标离开编辑器
func (s *Session) HoverLeave() error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.bridge.Leave()
	return nil
}

// MoveEnd：前端上报相机停止；user 表示滚轮或拖拽等用户交互
func (s *Session) MoveEnd(center orb.Point, zoom float64, user bool) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.view.Set(center, zoom, user)
	return nil
}

// Resize：前端上报视口尺寸（像素）
func (s *Session) Resize(w, h float64) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.view.SetSize(w, h)
	return nil
}

// Zoom：缩放按钮，±delta 级，钳制到视图缩放范围，200ms 动画，计为用户移动
func (s *Session) Zoom(delta float64) (mapview.Animation, error) {
	if err := s.lock(); err != nil {
		return mapview.Animation{}, err
	}
	defer s.mu.Unlock()
	s.url.MarkUserMoved()
	return s.view.ZoomBy(delta, ZoomDuration), nil
}

// activeGrid：最上层 WMTS 图层的网格，否则 XYZ 底图网格
func (s *Session) activeGrid() tilegrid.Grid {
	if s.catalog != nil {
		if g := s.catalog.ActiveGrid(); g != nil {
			return g
		}
	}
	return s.xyz
}

// TileJump：跳转到瓦片中心
// 约束：校验失败不改变任何状态；成功时计为用户移动并以 250ms 动画到目标
func (s *Session) TileJump(req tilegrid.Request) (mapview.Animation, error) {
	if err := s.lock(); err != nil {
		return mapview.Animation{}, err
	}
	defer s.mu.Unlock()
	target, err := tilegrid.Resolve(s.activeGrid(), req)
	if err != nil {
		metrics.TileJumpsTotal.WithLabelValues("error").Inc()
		return mapview.Animation{}, err
	}
	metrics.TileJumpsTotal.WithLabelValues("ok").Inc()
	s.url.MarkUserMoved()
	return s.view.Animate(mapview.Animation{Center: target.Center, Resolution: target.Resolution, Duration: target.Duration}, true), nil
}

// SelectLayers：整体替换 WMTS 图层选择
func (s *Session) SelectLayers(ids []string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if s.catalog != nil {
		s.catalog.Select(ids)
	}
	return nil
}

// ToggleLayer：勾选或取消单个图层
func (s *Session) ToggleLayer(id string, checked bool) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if s.catalog != nil {
		s.catalog.Toggle(id, checked)
	}
	return nil
}

// SetTileDebug：开关瓦片调试覆盖层
func (s *Session) SetTileDebug(on bool) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.tileDebug = on
	return nil
}

// DebugTiles：覆盖当前视图的瓦片轮廓；未开启或无网格时为空
func (s *Session) DebugTiles() []tilegrid.DebugTile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tileDebug {
		return nil
	}
	return tilegrid.Debug(s.activeGrid(), s.view.Extent(), s.view.Resolution())
}

// Query：当前地址栏查询串
func (s *Session) Query() string { return s.url.Query() }

// displayError：上传错误优先于同步错误
func (s *Session) displayError() string {
	if s.uploadErr != "" {
		return s.uploadErr
	}
	return s.engine.Error()
}

func (s *Session) exportDisabled() bool {
	return strings.TrimSpace(s.engine.Text()) == "" || s.engine.Error() != ""
}
