package wmts

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"

	"mapedit/internal/geotext"
	"mapedit/internal/tilegrid"
)

// OGC 标准像素尺寸 0.28mm
const standardPixelSize = 0.28e-3

type level struct {
	id         string
	resolution float64
	originX    float64
	originY    float64
	tileW      int
	tileH      int
	full       tilegrid.TileRange
	finite     bool
}

// Grid：由矩阵集（及图层的 TileMatrixSetLimits）构建的瓦片网格；级别 z 即矩阵在集合中的序号
type Grid struct {
	MatrixSet string
	CRS       geotext.Projection
	levels    []level
}

var _ tilegrid.Grid = (*Grid)(nil)

// NewGrid：构建网格
// 约束：
// - 分辨率 = ScaleDenominator * 0.28e-3 / 每单位米数
// - EPSG:4326（非 CRS84）的 TopLeftCorner 为纬度在前，需交换
// - 级别范围优先取图层限制，其次矩阵宽高
func NewGrid(set *TileMatrixSet, link *MatrixSetLink) (*Grid, error) {
	if set == nil || len(set.Matrices) == 0 {
		return nil, fmt.Errorf("matrix set has no tile matrices")
	}
	proj, err := geotext.ParseProjection(set.SupportedCRS)
	if err != nil {
		return nil, err
	}
	swap := proj.Geodetic && !strings.Contains(strings.ToUpper(set.SupportedCRS), "CRS84")
	limits := map[string]TileMatrixLimits{}
	if link != nil {
		for _, l := range link.Limits {
			limits[strings.TrimSpace(l.TileMatrix)] = l
		}
	}
	g := &Grid{MatrixSet: strings.TrimSpace(set.Identifier), CRS: proj}
	for _, m := range set.Matrices {
		a, b, ok := parseCorner(m.TopLeftCorner)
		if !ok {
			return nil, fmt.Errorf("tile matrix %q: invalid TopLeftCorner %q", m.Identifier, m.TopLeftCorner)
		}
		if swap {
			a, b = b, a
		}
		lv := level{
			id:         strings.TrimSpace(m.Identifier),
			resolution: m.ScaleDenominator * standardPixelSize / proj.MetersPerUnit(),
			originX:    a,
			originY:    b,
			tileW:      orDefault(m.TileWidth, 256),
			tileH:      orDefault(m.TileHeight, 256),
		}
		if l, ok := limits[lv.id]; ok {
			lv.full = tilegrid.TileRange{MinX: l.MinTileCol, MaxX: l.MaxTileCol, MinY: l.MinTileRow, MaxY: l.MaxTileRow}
			lv.finite = true
		} else if m.MatrixWidth > 0 && m.MatrixHeight > 0 {
			lv.full = tilegrid.TileRange{MaxX: m.MatrixWidth - 1, MaxY: m.MatrixHeight - 1}
			lv.finite = true
		}
		g.levels = append(g.levels, lv)
	}
	return g, nil
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

func (g *Grid) MinZoom() int { return 0 }
func (g *Grid) MaxZoom() int { return len(g.levels) - 1 }

func (g *Grid) level(z int) (level, bool) {
	if z < 0 || z >= len(g.levels) {
		return level{}, false
	}
	return g.levels[z], true
}

// MatrixID：级别对应的 TileMatrix 标识
func (g *Grid) MatrixID(z int) (string, bool) {
	lv, ok := g.level(z)
	return lv.id, ok
}

func (g *Grid) FullTileRange(z int) (tilegrid.TileRange, bool) {
	lv, ok := g.level(z)
	if !ok || !lv.finite {
		return tilegrid.TileRange{}, false
	}
	return lv.full, true
}

func (g *Grid) Resolution(z int) float64 {
	lv, _ := g.level(z)
	return lv.resolution
}

func (g *Grid) TileCoordExtent(z, x, y int) orb.Bound {
	lv, _ := g.level(z)
	w := float64(lv.tileW) * lv.resolution
	h := float64(lv.tileH) * lv.resolution
	minX := lv.originX + float64(x)*w
	maxY := lv.originY - float64(y)*h
	return orb.Bound{Min: orb.Point{minX, maxY - h}, Max: orb.Point{minX + w, maxY}}
}

func (g *Grid) TileCoordCenter(z, x, y int) orb.Point {
	lv, _ := g.level(z)
	return orb.Point{
		lv.originX + (float64(x)+0.5)*float64(lv.tileW)*lv.resolution,
		lv.originY - (float64(y)+0.5)*float64(lv.tileH)*lv.resolution,
	}
}

func (g *Grid) TileRangeForExtent(z int, b orb.Bound) tilegrid.TileRange {
	lv, ok := g.level(z)
	if !ok || lv.resolution <= 0 {
		return tilegrid.TileRange{MinX: 0, MaxX: -1, MinY: 0, MaxY: -1}
	}
	w := float64(lv.tileW) * lv.resolution
	h := float64(lv.tileH) * lv.resolution
	const eps = 1e-9
	r := tilegrid.TileRange{
		MinX: int(math.Floor((b.Min[0] - lv.originX) / w)),
		MaxX: int(math.Floor((b.Max[0]-lv.originX)/w - eps)),
		MinY: int(math.Floor((lv.originY - b.Max[1]) / h)),
		MaxY: int(math.Floor((lv.originY-b.Min[1])/h - eps)),
	}
	full := tilegrid.RangeAt(g, z)
	r.MinX = max(r.MinX, full.MinX)
	r.MaxX = min(r.MaxX, full.MaxX)
	r.MinY = max(r.MinY, full.MinY)
	r.MaxY = min(r.MaxY, full.MaxY)
	return r
}
