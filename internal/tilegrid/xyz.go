package tilegrid

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"mapedit/internal/geotext"
)

// XYZ：标准 Web Mercator 瓦片网格（左上角为原点，256 像素）
type XYZ struct {
	proj    geotext.Projection
	minZoom int
	maxZoom int
}

func NewXYZ(proj geotext.Projection, minZoom, maxZoom int) *XYZ {
	if maxZoom < minZoom {
		maxZoom = minZoom
	}
	return &XYZ{proj: proj, minZoom: minZoom, maxZoom: maxZoom}
}

func (g *XYZ) MinZoom() int { return g.minZoom }
func (g *XYZ) MaxZoom() int { return g.maxZoom }

func (g *XYZ) FullTileRange(z int) (TileRange, bool) {
	return FallbackRange(z), true
}

func (g *XYZ) tile(z, x, y int) maptile.Tile {
	return maptile.New(uint32(x), uint32(y), maptile.Zoom(z))
}

// TileCoordExtent：经纬度边界投影到地图坐标系
func (g *XYZ) TileCoordExtent(z, x, y int) orb.Bound {
	b := g.tile(z, x, y).Bound()
	return orb.Bound{Min: g.proj.PointToMap(b.Min), Max: g.proj.PointToMap(b.Max)}
}

// TileCoordCenter：在地图坐标系中取中点（Mercator 下纬度非线性，不能直接取经纬度中点）
func (g *XYZ) TileCoordCenter(z, x, y int) orb.Point {
	return g.TileCoordExtent(z, x, y).Center()
}

func (g *XYZ) Resolution(z int) float64 {
	return g.proj.BaseResolution() / math.Pow(2, float64(z))
}

func (g *XYZ) TileRangeForExtent(z int, b orb.Bound) TileRange {
	full := FallbackRange(z)
	nw := g.proj.PointToData(orb.Point{b.Min[0], b.Max[1]})
	se := g.proj.PointToData(orb.Point{b.Max[0], b.Min[1]})
	a := maptile.At(clampLonLat(nw), maptile.Zoom(z))
	c := maptile.At(clampLonLat(se), maptile.Zoom(z))
	r := TileRange{MinX: int(a.X), MaxX: int(c.X), MinY: int(a.Y), MaxY: int(c.Y)}
	return clampRange(r, full)
}

func clampLonLat(p orb.Point) orb.Point {
	lon := math.Max(-180, math.Min(180, p[0]))
	lat := math.Max(-85.0511287798, math.Min(85.0511287798, p[1]))
	return orb.Point{lon, lat}
}

func clampRange(r, full TileRange) TileRange {
	clamp := func(v, lo, hi int) int {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	return TileRange{
		MinX: clamp(r.MinX, full.MinX, full.MaxX),
		MaxX: clamp(r.MaxX, full.MinX, full.MaxX),
		MinY: clamp(r.MinY, full.MinY, full.MaxY),
		MaxY: clamp(r.MaxY, full.MinY, full.MaxY),
	}
}
