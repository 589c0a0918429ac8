// 包 featurekey：为要素推导稳定身份字符串，文本侧（GeoJSON 对象）与图层侧共用同一规则
package featurekey

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"mapedit/internal/layer"
)

// 文档注释：标量归一化
// 约束：字符串原样返回；数字按 JavaScript String(n) 的形式输出；布尔为 true/false；
// 空字符串与非标量均视为不可用（ok=false）
func Normalize(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, x != ""
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return formatNumber(x)
	case float32:
		return formatNumber(float64(x))
	case int:
		return strconv.Itoa(x), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint:
		return strconv.FormatUint(uint64(x), 10), true
	case uint32:
		return strconv.FormatUint(uint64(x), 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return "", false
		}
		return formatNumber(f)
	}
	return "", false
}

func formatNumber(f float64) (string, bool) {
	switch {
	case math.IsNaN(f):
		return "NaN", true
	case math.IsInf(f, 1):
		return "Infinity", true
	case math.IsInf(f, -1):
		return "-Infinity", true
	case f == 0:
		return "0", true
	}
	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		// Go 写作 1e-07，JavaScript 写作 1e-7
		if i := strings.IndexByte(s, 'e'); i >= 0 && len(s) > i+3 && s[i+2] == '0' {
			s = s[:i+2] + s[i+3:]
		}
		return s, true
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}

// FromGeoJSON：文本侧身份；优先 id，其次 properties.id，最后位置索引
func FromGeoJSON(feature map[string]any, index int) string {
	if feature != nil {
		if k, ok := Normalize(feature["id"]); ok {
			return k
		}
		if props, ok := feature["properties"].(map[string]any); ok {
			if k, ok := Normalize(props["id"]); ok {
				return k
			}
		}
	}
	return strconv.Itoa(index)
}

// FromFeature：图层侧身份，规则与 FromGeoJSON 一致
func FromFeature(f *layer.Feature, index int) string {
	if f != nil {
		if k, ok := Normalize(f.ID); ok {
			return k
		}
		if k, ok := Normalize(f.Get("id")); ok {
			return k
		}
	}
	return strconv.Itoa(index)
}

// ListFromGeoJSON：FeatureCollection 的全部文本侧身份；非集合返回 nil
func ListFromGeoJSON(v any) []string {
	m, ok := v.(map[string]any)
	if !ok || m["type"] != "FeatureCollection" {
		return nil
	}
	arr, ok := m["features"].([]any)
	if !ok {
		return nil
	}
	keys := make([]string, len(arr))
	for i, it := range arr {
		f, _ := it.(map[string]any)
		keys[i] = FromGeoJSON(f, i)
	}
	return keys
}
