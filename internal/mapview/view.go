// 包 mapview：相机模型（中心、分辨率、缩放级别）
// 背景：渲染引擎在浏览器端；服务端只维护相机状态，并把目标位姿作为“动画”交给前端执行
package mapview

import (
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"mapedit/internal/geotext"
)

const (
	DefaultMinZoom = 0
	DefaultMaxZoom = 20
	// 视口尺寸未上报时的缺省值（像素）
	DefaultWidth  = 1280
	DefaultHeight = 800
)

// Padding：上、右、下、左（像素）
type Padding [4]float64

// Animation：一次相机动画的目标位姿；Duration 为 0 表示立即设置
type Animation struct {
	Center     orb.Point     `json:"center"`
	Resolution float64       `json:"resolution"`
	Zoom       float64       `json:"zoom"`
	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"durationMs"`
}

// MoveEnd：相机停止移动事件
type MoveEnd struct {
	Center orb.Point
	Zoom   float64
	// User 为 true 表示由用户交互（滚轮、拖拽、缩放按钮、瓦片跳转）触发
	User bool
}

// View：相机；并发安全
type View struct {
	mu         sync.Mutex
	proj       geotext.Projection
	center     orb.Point
	resolution float64
	minZoom    float64
	maxZoom    float64
	width      float64
	height     float64
	last       *Animation
	listeners  []func(MoveEnd)
}

// New：初始中心 [0,0]、缩放 2，缩放范围 [0, maxZoom]
func New(proj geotext.Projection, maxZoom float64) *View {
	if maxZoom <= 0 {
		maxZoom = DefaultMaxZoom
	}
	v := &View{
		proj:    proj,
		minZoom: DefaultMinZoom,
		maxZoom: maxZoom,
		width:   DefaultWidth,
		height:  DefaultHeight,
	}
	v.resolution = v.ResolutionForZoom(2)
	return v
}

// MaxResolution：缩放 0 的分辨率
func (v *View) MaxResolution() float64 {
	return v.proj.BaseResolution()
}

func (v *View) ResolutionForZoom(z float64) float64 {
	return v.MaxResolution() / math.Pow(2, z)
}

func (v *View) ZoomForResolution(r float64) float64 {
	if r <= 0 {
		return v.maxZoom
	}
	return math.Log2(v.MaxResolution() / r)
}

func (v *View) Projection() geotext.Projection { return v.proj }

func (v *View) Center() orb.Point {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.center
}

func (v *View) Resolution() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.resolution
}

func (v *View) Zoom() float64 {
	return v.ZoomForResolution(v.Resolution())
}

func (v *View) MinZoom() float64 { return v.minZoom }
func (v *View) MaxZoom() float64 { return v.maxZoom }

// SetSize：前端上报视口像素尺寸；非正值忽略
func (v *View) SetSize(w, h float64) {
	if w <= 0 || h <= 0 {
		return
	}
	v.mu.Lock()
	v.width, v.height = w, h
	v.mu.Unlock()
}

func (v *View) Size() (float64, float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.width, v.height
}

// Extent：当前视口覆盖的地图坐标范围
func (v *View) Extent() orb.Bound {
	v.mu.Lock()
	defer v.mu.Unlock()
	hw := v.width * v.resolution / 2
	hh := v.height * v.resolution / 2
	return orb.Bound{
		Min: orb.Point{v.center[0] - hw, v.center[1] - hh},
		Max: orb.Point{v.center[0] + hw, v.center[1] + hh},
	}
}

// OnMoveEnd：订阅相机停止事件
func (v *View) OnMoveEnd(fn func(MoveEnd)) {
	v.mu.Lock()
	v.listeners = append(v.listeners, fn)
	v.mu.Unlock()
}

// LastAnimation：最近一次动画（前端轮询后执行）；未发生过时为 nil
func (v *View) LastAnimation() *Animation {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.last == nil {
		return nil
	}
	a := *v.last
	return &a
}

// Set：立即设置中心与缩放（URL 恢复、前端上报相机位置）
func (v *View) Set(center orb.Point, zoom float64, user bool) {
	v.apply(Animation{Center: center, Resolution: v.ResolutionForZoom(zoom)}, user)
}

// Animate：动画到目标位姿；新调用覆盖旧动画
// 约束：Resolution 为 0 时沿用当前分辨率；结果缩放被钳制到 [minZoom, maxZoom]
func (v *View) Animate(a Animation, user bool) Animation {
	return v.apply(a, user)
}

// ZoomBy：按钮缩放，delta 级并钳制到范围内
func (v *View) ZoomBy(delta float64, d time.Duration) Animation {
	z := v.Zoom() + delta
	return v.apply(Animation{Center: v.Center(), Resolution: v.ResolutionForZoom(v.clampZoom(z)), Duration: d}, true)
}

// Fit：把范围放进视口（扣除内边距）
// 约束：空范围直接忽略并返回 false
func (v *View) Fit(b orb.Bound, pad Padding, d time.Duration) (Animation, bool) {
	if b.IsEmpty() {
		return Animation{}, false
	}
	w, h := v.Size()
	aw := math.Max(w-pad[1]-pad[3], 1)
	ah := math.Max(h-pad[0]-pad[2], 1)
	res := math.Max((b.Max[0]-b.Min[0])/aw, (b.Max[1]-b.Min[1])/ah)
	if res <= 0 {
		res = v.ResolutionForZoom(v.maxZoom)
	}
	// 内边距不对称时中心随之偏移
	offX := (pad[1] - pad[3]) / 2 * res
	offY := (pad[0] - pad[2]) / 2 * res
	c := b.Center()
	c = orb.Point{c[0] + offX, c[1] + offY}
	return v.apply(Animation{Center: c, Resolution: res, Duration: d}, false), true
}

func (v *View) clampZoom(z float64) float64 {
	return math.Min(v.maxZoom, math.Max(v.minZoom, z))
}

func (v *View) apply(a Animation, user bool) Animation {
	if a.Resolution <= 0 {
		a.Resolution = v.Resolution()
	}
	z := v.clampZoom(v.ZoomForResolution(a.Resolution))
	a.Resolution = v.ResolutionForZoom(z)
	a.Zoom = z
	a.DurationMs = a.Duration.Milliseconds()
	v.mu.Lock()
	v.center = a.Center
	v.resolution = a.Resolution
	cp := a
	v.last = &cp
	ls := append([]func(MoveEnd){}, v.listeners...)
	v.mu.Unlock()
	ev := MoveEnd{Center: a.Center, Zoom: z, User: user}
	for _, fn := range ls {
		fn(ev)
	}
	return a
}
