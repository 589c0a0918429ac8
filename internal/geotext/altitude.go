package geotext

import (
	"math"

	"github.com/paulmach/orb"
)

// readAltitudes：按顶点顺序取出 coordinates 中的第三维；没有任何顶点带高程时返回 nil
func readAltitudes(geom map[string]any) []float64 {
	var out []float64
	has := false
	collectAltitudes(geom, &out, &has)
	if !has {
		return nil
	}
	return out
}

func collectAltitudes(geom map[string]any, out *[]float64, has *bool) {
	if gs, ok := geom["geometries"].([]any); ok {
		for _, g := range gs {
			if m, ok := g.(map[string]any); ok {
				collectAltitudes(m, out, has)
			}
		}
		return
	}
	walkPositions(geom["coordinates"], out, has)
}

func walkPositions(v any, out *[]float64, has *bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return
	}
	if _, isNum := arr[0].(float64); isNum {
		z := math.NaN()
		if len(arr) >= 3 {
			if f, ok := arr[2].(float64); ok {
				z = f
				*has = true
			}
		}
		*out = append(*out, z)
		return
	}
	for _, it := range arr {
		walkPositions(it, out, has)
	}
}

// 带高程写出时的几何结构；字段顺序与 orb/geojson 输出一致
type wireGeometry struct {
	Type        string          `json:"type"`
	Coordinates any             `json:"coordinates,omitempty"`
	Geometries  []*wireGeometry `json:"geometries,omitempty"`
}

// altitudeWriter：按顶点顺序消费高程，逐个位置决定写 2 维还是 3 维
type altitudeWriter struct {
	z []float64
	i int
}

func (w *altitudeWriter) pos(p orb.Point) []float64 {
	z := math.NaN()
	if w.i < len(w.z) {
		z = w.z[w.i]
	}
	w.i++
	if math.IsNaN(z) {
		return []float64{p[0], p[1]}
	}
	return []float64{p[0], p[1], z}
}

func (w *altitudeWriter) line(ps []orb.Point) [][]float64 {
	out := make([][]float64, len(ps))
	for i, p := range ps {
		out[i] = w.pos(p)
	}
	return out
}

func (w *altitudeWriter) polygon(p orb.Polygon) [][][]float64 {
	out := make([][][]float64, len(p))
	for i, r := range p {
		out[i] = w.line(r)
	}
	return out
}

// geometry：返回 nil 表示该类型无法带高程写出，调用方回退到二维输出
func (w *altitudeWriter) geometry(g orb.Geometry) *wireGeometry {
	switch g := g.(type) {
	case orb.Point:
		return &wireGeometry{Type: "Point", Coordinates: w.pos(g)}
	case orb.MultiPoint:
		return &wireGeometry{Type: "MultiPoint", Coordinates: w.line(g)}
	case orb.LineString:
		return &wireGeometry{Type: "LineString", Coordinates: w.line(g)}
	case orb.MultiLineString:
		ls := make([][][]float64, len(g))
		for i, l := range g {
			ls[i] = w.line(l)
		}
		return &wireGeometry{Type: "MultiLineString", Coordinates: ls}
	case orb.Polygon:
		return &wireGeometry{Type: "Polygon", Coordinates: w.polygon(g)}
	case orb.MultiPolygon:
		ps := make([][][][]float64, len(g))
		for i, p := range g {
			ps[i] = w.polygon(p)
		}
		return &wireGeometry{Type: "MultiPolygon", Coordinates: ps}
	case orb.Collection:
		gs := make([]*wireGeometry, 0, len(g))
		for _, c := range g {
			wg := w.geometry(c)
			if wg == nil {
				return nil
			}
			gs = append(gs, wg)
		}
		return &wireGeometry{Type: "GeometryCollection", Geometries: gs}
	}
	return nil
}
