package tilegrid

import (
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"mapedit/internal/layer"
)

// DebugTemplate：调试标签模板；{-y} 为 tms 行号
const DebugTemplate = "z:{z} x:{x} y:{y} -y:{-y}"

// 单次调试输出的瓦片数量上限
const maxDebugTiles = 1024

type DebugTile struct {
	Z      int       `json:"z"`
	X      int       `json:"x"`
	Y      int       `json:"y"`
	Label  string    `json:"label"`
	Extent orb.Bound `json:"-"`
}

// Label：按模板渲染瓦片标签
func Label(g Grid, z, x, y int) string {
	r := RangeAt(g, z)
	return strings.NewReplacer(
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{-y}", strconv.Itoa(r.MaxY-y),
		"{y}", strconv.Itoa(y),
	).Replace(DebugTemplate)
}

// ZForResolution：与分辨率最接近的网格级别
func ZForResolution(g Grid, res float64) int {
	best, bestDiff := g.MinZoom(), math.Inf(1)
	for z := g.MinZoom(); z <= g.MaxZoom(); z++ {
		d := math.Abs(math.Log2(g.Resolution(z) / res))
		if d < bestDiff {
			best, bestDiff = z, d
		}
	}
	return best
}

// Debug：覆盖视图范围的全部瓦片
// 约束：级别取最接近视图分辨率的级别；超过上限时截断
func Debug(g Grid, view orb.Bound, res float64) []DebugTile {
	if g == nil || view.IsEmpty() || res <= 0 {
		return nil
	}
	z := ZForResolution(g, res)
	r := g.TileRangeForExtent(z, view)
	var out []DebugTile
	for y := r.MinY; y <= r.MaxY; y++ {
		for x := r.MinX; x <= r.MaxX; x++ {
			if len(out) >= maxDebugTiles {
				return out
			}
			out = append(out, DebugTile{
				Z: z, X: x, Y: y,
				Label:  Label(g, z, x, y),
				Extent: g.TileCoordExtent(z, x, y),
			})
		}
	}
	return out
}

// DebugFeatures：调试瓦片转为图层要素（外框多边形，label 属性）
func DebugFeatures(tiles []DebugTile) []*layer.Feature {
	out := make([]*layer.Feature, 0, len(tiles))
	for _, t := range tiles {
		f := layer.NewFeature(t.Extent.ToPolygon(), map[string]any{"label": t.Label})
		f.ID = t.Label
		out = append(out, f)
	}
	return out
}
