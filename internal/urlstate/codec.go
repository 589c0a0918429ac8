// 包 urlstate：地址栏状态（map 视图参数与 geo 几何参数）的编解码与写回策略
package urlstate

import (
	"encoding/base64"
	"errors"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"mapedit/internal/geotext"
)

const (
	ParamMap = "map"
	ParamGeo = "geo"
)

// EncodeBase64URL：UTF-8 → base64 → URL 安全字母表，去掉尾部 '='
func EncodeBase64URL(s string) string {
	enc := base64.StdEncoding.EncodeToString([]byte(s))
	enc = strings.NewReplacer("+", "-", "/", "_").Replace(enc)
	return strings.TrimRight(enc, "=")
}

// DecodeBase64URL：还原标准字母表与填充后解码；非法 UTF-8 序列替换为 U+FFFD
func DecodeBase64URL(s string) (string, error) {
	norm := strings.NewReplacer("-", "+", "_", "/").Replace(s)
	if pad := (4 - len(norm)%4) % 4; pad > 0 {
		norm += strings.Repeat("=", pad)
	}
	b, err := base64.StdEncoding.DecodeString(norm)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(b), "�"), nil
}

// MapView：map 参数对应的视图（中心为地图坐标系坐标）
type MapView struct {
	Zoom float64
	X    float64
	Y    float64
}

// FormatNumber：保留 6 位小数并去掉多余的 0；非有限值返回空串
func FormatNumber(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	r := math.Round(v*1e6) / 1e6
	if r == 0 {
		r = 0 // 去掉 -0
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

// FormatMapParam：zoom,x,y
func FormatMapParam(m MapView) string {
	return FormatNumber(m.Zoom) + "," + FormatNumber(m.X) + "," + FormatNumber(m.Y)
}

var floatPrefix = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// parseFloatPrefix：与浏览器 parseFloat 一致，只取前缀中的数字部分
func parseFloatPrefix(s string) (float64, bool) {
	m := floatPrefix.FindString(strings.TrimLeft(s, " \t\n\r"))
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseMapParam：解析 zoom,x,y；任一分量非有限数时返回 false
func ParseMapParam(s string) (MapView, bool) {
	parts := strings.Split(s, ",")
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	z, ok1 := parseFloatPrefix(parts[0])
	x, ok2 := parseFloatPrefix(parts[1])
	y, ok3 := parseFloatPrefix(parts[2])
	if !ok1 || !ok2 || !ok3 {
		return MapView{}, false
	}
	return MapView{Zoom: z, X: x, Y: y}, true
}

// State：地址栏中的 map / geo 参数；空串表示缺失
type State struct {
	Map string
	Geo string
}

type pair struct{ k, v string }

// parseOrdered：按出现顺序拆分查询串；无法解码的片段原样保留
func parseOrdered(raw string) []pair {
	raw = strings.TrimPrefix(raw, "?")
	var out []pair
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		if uk, err := url.QueryUnescape(k); err == nil {
			k = uk
		}
		if uv, err := url.QueryUnescape(v); err == nil {
			v = uv
		}
		out = append(out, pair{k, v})
	}
	return out
}

// Read：读取 map / geo 参数（同名参数取第一个）
func Read(rawQuery string) State {
	var s State
	var seenMap, seenGeo bool
	for _, p := range parseOrdered(rawQuery) {
		switch {
		case p.k == ParamMap && !seenMap:
			s.Map, seenMap = p.v, true
		case p.k == ParamGeo && !seenGeo:
			s.Geo, seenGeo = p.v, true
		}
	}
	return s
}

// Update：nil 表示保持原值，指向空串表示删除
type Update struct {
	Map *string
	Geo *string
}

func Set(v string) *string { return &v }

// Remove：删除参数
func Remove() *string { return Set("") }

// 文档注释：改写查询串
// 约束：结果顺序固定为 map、geo、其余参数（保持原顺序与重复项）；值为空时不输出该参数
func Apply(rawQuery string, u Update) string {
	cur := Read(rawQuery)
	mapV, geoV := cur.Map, cur.Geo
	if u.Map != nil {
		mapV = *u.Map
	}
	if u.Geo != nil {
		geoV = *u.Geo
	}
	var parts []string
	if mapV != "" {
		parts = append(parts, ParamMap+"="+url.QueryEscape(mapV))
	}
	if geoV != "" {
		parts = append(parts, ParamGeo+"="+url.QueryEscape(geoV))
	}
	for _, p := range parseOrdered(rawQuery) {
		if p.k == ParamMap || p.k == ParamGeo {
			continue
		}
		parts = append(parts, url.QueryEscape(p.k)+"="+url.QueryEscape(p.v))
	}
	return strings.Join(parts, "&")
}

var ErrEmptyGeo = errors.New("geo parameter is empty")

// EncodeGeo：文本 → 紧凑 JSON → base64url；文本不是合法 JSON 时返回错误
func EncodeGeo(text string) (string, error) {
	compact, err := geotext.Minify(text)
	if err != nil {
		return "", err
	}
	return EncodeBase64URL(compact), nil
}

// DecodeGeo：geo 参数 → 通用 JSON 值
func DecodeGeo(param string) (any, error) {
	if param == "" {
		return nil, ErrEmptyGeo
	}
	s, err := DecodeBase64URL(param)
	if err != nil {
		return nil, err
	}
	return geotext.Decode(s)
}
