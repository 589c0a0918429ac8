package geotext

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// 文本侧坐标固定为 EPSG:4326
const DataProjection = "EPSG:4326"

// Web Mercator 可表示的最大纬度
const maxMercatorLat = 85.0511287798

// Projection：地图坐标系与数据坐标系（经纬度）之间的转换
type Projection struct {
	Code     string
	Geodetic bool
}

var (
	Geographic  = Projection{Code: DataProjection, Geodetic: true}
	WebMercator = Projection{Code: "EPSG:3857"}
)

// ParseProjection：按代码识别坐标系；未知代码返回错误
func ParseProjection(code string) (Projection, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	switch c {
	case "", "EPSG:3857", "EPSG:900913", "EPSG:102100", "EPSG:102113":
		return WebMercator, nil
	case "EPSG:4326", "CRS:84", "OGC:CRS84":
		return Geographic, nil
	}
	if strings.HasSuffix(c, ":3857") {
		return WebMercator, nil
	}
	if strings.HasSuffix(c, ":4326") || strings.HasSuffix(c, ":CRS84") {
		return Geographic, nil
	}
	return Projection{}, fmt.Errorf("unsupported projection %q", code)
}

// Identity：地图坐标系即经纬度，无需转换
func (p Projection) Identity() bool { return p.Geodetic }

// MetersPerUnit：地图单位对应的米数（经纬度按赤道一度计）
func (p Projection) MetersPerUnit() float64 {
	if p.Geodetic {
		return 2 * math.Pi * 6378137 / 360
	}
	return 1
}

// BaseResolution：缩放 0 的分辨率（256 像素覆盖整个世界宽度），单位为地图单位/像素
func (p Projection) BaseResolution() float64 {
	if p.Geodetic {
		return 360.0 / 256
	}
	return 2 * math.Pi * 6378137 / 256
}

// ToMap：经纬度 → 地图坐标；返回新几何，不修改入参
func (p Projection) ToMap(g orb.Geometry) orb.Geometry {
	if g == nil {
		return nil
	}
	c := orb.Clone(g)
	if p.Identity() {
		return c
	}
	return project.Geometry(c, clampedToMercator)
}

// ToData：地图坐标 → 经纬度；返回新几何，不修改入参
func (p Projection) ToData(g orb.Geometry) orb.Geometry {
	if g == nil {
		return nil
	}
	c := orb.Clone(g)
	if p.Identity() {
		return c
	}
	return project.Geometry(c, project.Mercator.ToWGS84)
}

// PointToData / PointToMap：单点转换，供视图中心与 URL map 参数使用
func (p Projection) PointToData(pt orb.Point) orb.Point {
	if p.Identity() {
		return pt
	}
	return project.Mercator.ToWGS84(pt)
}

func (p Projection) PointToMap(pt orb.Point) orb.Point {
	if p.Identity() {
		return pt
	}
	return clampedToMercator(pt)
}

func clampedToMercator(pt orb.Point) orb.Point {
	lat := pt[1]
	if lat > maxMercatorLat {
		lat = maxMercatorLat
	} else if lat < -maxMercatorLat {
		lat = -maxMercatorLat
	}
	return project.WGS84.ToMercator(orb.Point{pt[0], lat})
}
