package geotext

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"

	"mapedit/internal/layer"
)

// 投影往返会引入 1e-10 量级噪声；非经纬度地图坐标系下输出统一保留 9 位小数
const roundDecimals = 9

// ReadFeatures：读取 FeatureCollection / Feature / 裸 Geometry 为图层要素，并投影到地图坐标系
// 约束：geometry 为 null 或缺失时要素无几何；要素不是对象或几何类型无法识别时返回错误
func ReadFeatures(v any, proj Projection) ([]*layer.Feature, error) {
	c := Normalize(v)
	if c == nil {
		return nil, ErrShape
	}
	out := make([]*layer.Feature, 0, len(c.Features))
	for i, obj := range c.Features {
		f, err := readFeature(obj, proj)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		out = append(out, f)
	}
	return out, nil
}

func readFeature(obj map[string]any, proj Projection) (*layer.Feature, error) {
	if obj == nil {
		return nil, errors.New("feature is not an object")
	}
	props := map[string]any{}
	if p, ok := obj["properties"].(map[string]any); ok {
		for k, v := range p {
			props[k] = v
		}
	}
	f := layer.NewFeature(nil, props)
	if id, ok := obj["id"]; ok && id != nil {
		f.ID = id
	}
	raw, ok := obj["geometry"]
	if !ok || raw == nil {
		return f, nil
	}
	g, err := decodeGeometry(raw)
	if err != nil {
		return nil, err
	}
	// orb 只保存二维坐标，高程单独按顶点保存
	if z := readAltitudes(raw.(map[string]any)); z != nil && len(z) == layer.VertexCount(g) {
		f.Z = z
	}
	f.Geometry = proj.ToMap(g)
	return f, nil
}

func decodeGeometry(raw any) (orb.Geometry, error) {
	if _, ok := raw.(map[string]any); !ok {
		return nil, errors.New("geometry is not an object")
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	g, err := geojson.UnmarshalGeometry(b)
	if err != nil {
		return nil, err
	}
	if g.Geometry() == nil {
		return nil, fmt.Errorf("unsupported geometry type %v", raw.(map[string]any)["type"])
	}
	return g.Geometry(), nil
}

// 写出时的要素结构；字段顺序即输出键顺序
type wireFeature struct {
	Type       string         `json:"type"`
	Geometry   any            `json:"geometry"`
	Properties map[string]any `json:"properties"`
	ID         any            `json:"id,omitempty"`
}

type wireCollection struct {
	Type     string         `json:"type"`
	Features []*wireFeature `json:"features"`
}

// 文档注释：规范文本序列化
// 约束：
// - 输出 {"type":"FeatureCollection","features":[...]}，2 空格缩进
// - 要素键顺序 type, geometry, properties, id；properties 永不为 null
// - 几何从地图坐标系转回经纬度；带高程的顶点写出三维坐标
func WriteFeatures(fs []*layer.Feature, proj Projection) (string, error) {
	doc := wireCollection{Type: "FeatureCollection", Features: make([]*wireFeature, 0, len(fs))}
	for _, f := range fs {
		doc.Features = append(doc.Features, toWire(f, proj))
	}
	return encode(doc, "  ")
}

// FeatureObjects：与 WriteFeatures 同样的转换，但返回通用对象（供 shapefile 导出等复用）
func FeatureObjects(fs []*layer.Feature, proj Projection) ([]map[string]any, error) {
	text, err := WriteFeatures(fs, proj)
	if err != nil {
		return nil, err
	}
	v, err := Decode(text)
	if err != nil {
		return nil, err
	}
	c := Normalize(v)
	if c == nil {
		return nil, ErrShape
	}
	return c.Features, nil
}

func toWire(f *layer.Feature, proj Projection) *wireFeature {
	w := &wireFeature{Type: "Feature", Properties: f.Properties, ID: f.ID}
	if w.Properties == nil {
		w.Properties = map[string]any{}
	}
	if f.Geometry != nil {
		g := proj.ToData(f.Geometry)
		if !proj.Identity() {
			g = roundGeometry(g, roundDecimals)
		}
		w.Geometry = geojson.NewGeometry(g)
		if f.Z != nil {
			if wg := (&altitudeWriter{z: f.Z}).geometry(g); wg != nil {
				w.Geometry = wg
			}
		}
	}
	return w
}

func roundGeometry(g orb.Geometry, decimals int) orb.Geometry {
	scale := math.Pow10(decimals)
	return project.Geometry(g, func(p orb.Point) orb.Point {
		return orb.Point{math.Round(p[0]*scale) / scale, math.Round(p[1]*scale) / scale}
	})
}
