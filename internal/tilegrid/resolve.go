// 包 tilegrid：瓦片网格抽象与“跳转到瓦片”的坐标解析
package tilegrid

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// TileRange：某一级别的瓦片行列范围（闭区间）
type TileRange struct {
	MinX int `json:"minX"`
	MaxX int `json:"maxX"`
	MinY int `json:"minY"`
	MaxY int `json:"maxY"`
}

func (r TileRange) Contains(x, y int) bool {
	return x >= r.MinX && x <= r.MaxX && y >= r.MinY && y <= r.MaxY
}

// Grid：活动瓦片图层的网格；坐标均为地图坐标系
type Grid interface {
	MinZoom() int
	MaxZoom() int
	// FullTileRange：该级别的完整范围；网格未给出有限范围时 ok 为 false
	FullTileRange(z int) (TileRange, bool)
	TileCoordCenter(z, x, y int) orb.Point
	TileCoordExtent(z, x, y int) orb.Bound
	Resolution(z int) float64
	TileRangeForExtent(z int, b orb.Bound) TileRange
}

type Mode string

const (
	ModeXYZ Mode = "xyz"
	ModeTMS Mode = "tms"
)

// ParseMode：除 tms 外一律按 xyz 处理
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeTMS)) {
		return ModeTMS
	}
	return ModeXYZ
}

type Request struct {
	Z    int  `json:"z"`
	X    int  `json:"x"`
	Y    int  `json:"y"`
	Mode Mode `json:"mode"`
}

// Target：相机应动画到的位姿
type Target struct {
	Center     orb.Point     `json:"center"`
	Resolution float64       `json:"resolution"`
	Duration   time.Duration `json:"-"`
}

const JumpDuration = 250 * time.Millisecond

var (
	ErrNoGrid     = errors.New("No tiled layer is active.")
	ErrNegative   = errors.New("Tile coordinates must be non-negative.")
	ErrNotInteger = errors.New("Enter integer values for z, x, and y.")
	ErrZoomRange  = errors.New("zoom out of range")
	ErrOutOfRange = errors.New("tile out of range")
)

// rangeError：携带具体边界的范围错误；Error 即面向用户的文本，errors.Is 可识别类别
type rangeError struct {
	kind error
	msg  string
}

func (e *rangeError) Error() string { return e.msg }
func (e *rangeError) Unwrap() error { return e.kind }

// ParseRequest：表单输入 → 请求；空白或非整数时返回 ErrNotInteger
func ParseRequest(z, x, y, mode string) (Request, error) {
	zi, ok1 := parseInt(z)
	xi, ok2 := parseInt(x)
	yi, ok3 := parseInt(y)
	if !ok1 || !ok2 || !ok3 {
		return Request{}, ErrNotInteger
	}
	return Request{Z: zi, X: xi, Y: yi, Mode: ParseMode(mode)}, nil
}

func parseInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) {
		return 0, false
	}
	// 超出 int32 的整数仍是整数，夹到边界后交由范围校验报告
	f = math.Max(math.Min(f, math.MaxInt32), math.MinInt32)
	return int(f), true
}

// FallbackRange：网格未给出范围时的 [0, 2^z-1]
func FallbackRange(z int) TileRange {
	m := (1 << uint(z)) - 1
	return TileRange{MaxX: m, MaxY: m}
}

// RangeAt：网格范围或回退范围
func RangeAt(g Grid, z int) TileRange {
	if r, ok := g.FullTileRange(z); ok {
		return r
	}
	return FallbackRange(z)
}

// 文档注释：解析瓦片跳转
// 约束：按顺序短路校验
// 1. 网格存在
// 2. z 在 [minZoom, maxZoom]
// 3. x、y 非负
// 4. tms 模式行号镜像为 maxY - y，x 与有效行号落在该级别范围内
// 成功时给出瓦片中心与该级别分辨率；本函数不修改任何状态
func Resolve(g Grid, req Request) (Target, error) {
	if g == nil {
		return Target{}, ErrNoGrid
	}
	minZ, maxZ := g.MinZoom(), g.MaxZoom()
	if req.Z < minZ || req.Z > maxZ {
		return Target{}, &rangeError{ErrZoomRange, fmt.Sprintf("Zoom must be between %d and %d.", minZ, maxZ)}
	}
	if req.X < 0 || req.Y < 0 {
		return Target{}, ErrNegative
	}
	r := RangeAt(g, req.Z)
	y := EffectiveY(r, req.Y, req.Mode)
	if !r.Contains(req.X, y) {
		return Target{}, &rangeError{ErrOutOfRange, fmt.Sprintf("Tile is outside range x:%d-%d, y:%d-%d at z %d.",
			r.MinX, r.MaxX, r.MinY, r.MaxY, req.Z)}
	}
	return Target{
		Center:     g.TileCoordCenter(req.Z, req.X, y),
		Resolution: g.Resolution(req.Z),
		Duration:   JumpDuration,
	}, nil
}

// InGrid：瓦片坐标（xyz 行号）是否落在网格的级别与行列范围内；g 为 nil 时不做限制
func InGrid(g Grid, z, x, y int) bool {
	if g == nil {
		return true
	}
	if z < g.MinZoom() || z > g.MaxZoom() || x < 0 || y < 0 {
		return false
	}
	return RangeAt(g, z).Contains(x, y)
}

// EffectiveY：tms 行号镜像
func EffectiveY(r TileRange, y int, mode Mode) int {
	if mode == ModeTMS {
		return r.MaxY - y
	}
	return y
}
