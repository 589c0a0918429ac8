// 包 geotext：GeoJSON 文本编解码
// 背景：导出与上传需要容忍松散形态（单个 Feature、裸 Geometry），统一归一化为 FeatureCollection
package geotext

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrEmpty      = errors.New("GeoJSON is empty.")
	ErrInvalid    = errors.New("Invalid GeoJSON.")
	ErrShape      = errors.New("GeoJSON must be a FeatureCollection, Feature, or Geometry.")
	ErrNoFeatures = errors.New("GeoJSON has no features.")
)

// Collection：归一化后的要素集合；要素保持解析得到的通用对象形态
type Collection struct {
	Type     string           `json:"type"`
	Features []map[string]any `json:"features"`
}

func newCollection(fs []map[string]any) *Collection {
	if fs == nil {
		fs = []map[string]any{}
	}
	return &Collection{Type: "FeatureCollection", Features: fs}
}

// Decode：把文本解析为通用 JSON 值（对象为 map[string]any，数组为 []any，数字为 float64）
func Decode(text string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// 文档注释：归一化为 FeatureCollection
// 约束：
// - FeatureCollection 且 features 为数组时原样透传；非对象元素占位为 nil，保持数量与位置
// - Feature 包装为单元素集合
// - 含 coordinates 且不含 geometry 的带 type 对象视为裸几何，包装为 properties 为空表的 Feature
// - 其他形态返回 nil
func Normalize(v any) *Collection {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	typ, _ := m["type"].(string)
	if typ == "FeatureCollection" {
		if arr, ok := m["features"].([]any); ok {
			fs := make([]map[string]any, 0, len(arr))
			for _, it := range arr {
				f, _ := it.(map[string]any)
				fs = append(fs, f)
			}
			return newCollection(fs)
		}
	}
	if typ == "Feature" {
		return newCollection([]map[string]any{m})
	}
	_, hasGeometry := m["geometry"]
	_, hasCoords := m["coordinates"]
	if typ != "" && !hasGeometry && hasCoords {
		return newCollection([]map[string]any{{
			"type":       "Feature",
			"properties": map[string]any{},
			"geometry":   m,
		}})
	}
	return nil
}

// MergeCollections：接受单个形态或形态数组（如多图层 shapefile），逐个归一化后拼接要素
// 约束：结果无要素时返回 nil
func MergeCollections(v any) *Collection {
	var items []any
	if arr, ok := v.([]any); ok {
		items = arr
	} else {
		items = []any{v}
	}
	var fs []map[string]any
	for _, it := range items {
		if c := Normalize(it); c != nil {
			fs = append(fs, c.Features...)
		}
	}
	if len(fs) == 0 {
		return nil
	}
	return newCollection(fs)
}

// ParseForExport：导出前的校验解析；成功时保证每个 Feature 的 properties 非 null
// 约束：features 中的非对象元素计入数量并以 nil 透传，不会触发 ErrNoFeatures
func ParseForExport(text string) (*Collection, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmpty
	}
	v, err := Decode(text)
	if err != nil {
		return nil, ErrInvalid
	}
	c := Normalize(v)
	if c == nil {
		return nil, ErrShape
	}
	if len(c.Features) == 0 {
		return nil, ErrNoFeatures
	}
	out := make([]map[string]any, len(c.Features))
	for i, f := range c.Features {
		if f["type"] != "Feature" || f["properties"] != nil {
			out[i] = f
			continue
		}
		cp := make(map[string]any, len(f)+1)
		for k, v := range f {
			cp[k] = v
		}
		cp["properties"] = map[string]any{}
		out[i] = cp
	}
	return newCollection(out), nil
}

// Pretty：2 空格缩进序列化，不转义 HTML 字符
func Pretty(v any) (string, error) {
	return encode(v, "  ")
}

// Minify：紧凑序列化已有文本；文本非法时返回错误
func Minify(text string) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(text)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func encode(v any, indent string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
