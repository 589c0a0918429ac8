package shapefile

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"unicode/utf8"

	shp "github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"mapedit/internal/geotext"
	"mapedit/internal/logger"
)

// WGS84 坐标系声明，随每个图层写出
const wgs84Prj = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["Degree",0.017453292519943295]]`

// DBF 字段名与字符串长度上限
const (
	maxFieldName = 10
	maxStringLen = 254
)

var ErrNothingToExport = errors.New("no exportable geometries")

type kind struct {
	name  string
	shape shp.ShapeType
}

var (
	kindPoint      = kind{"points", shp.POINT}
	kindMultiPoint = kind{"multipoints", shp.MULTIPOINT}
	kindLine       = kind{"lines", shp.POLYLINE}
	kindPolygon    = kind{"polygons", shp.POLYGON}
)

type row struct {
	shape shp.Shape
	props map[string]any
}

// 文档注释：导出 shapefile 压缩包
// 背景：shapefile 一个文件只能容纳一种几何类型，按点、多点、线、面分别写出 points/multipoints/lines/polygons 四组文件
// 约束：
// - 压缩包使用 STORE（不压缩）
// - 每组附带 WGS84 的 .prj
// - 空几何与 GeometryCollection 跳过；全部跳过时返回 ErrNothingToExport
// - 属性按组取并集；全为数值的列写为数值字段，其余写为字符串字段
func Export(c *geotext.Collection) ([]byte, error) {
	groups := map[kind][]row{}
	for _, f := range c.Features {
		g, err := featureGeometry(f)
		if err != nil {
			return nil, err
		}
		if g == nil {
			continue
		}
		k, s, ok := toShape(g)
		if !ok {
			continue
		}
		props, _ := f["properties"].(map[string]any)
		groups[k] = append(groups[k], row{shape: s, props: props})
	}
	if len(groups) == 0 {
		return nil, ErrNothingToExport
	}

	dir, err := os.MkdirTemp("", "shp-export-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	var files []string
	for _, k := range []kind{kindPoint, kindMultiPoint, kindLine, kindPolygon} {
		rows := groups[k]
		if len(rows) == 0 {
			continue
		}
		written, err := writeLayer(dir, k, rows)
		if err != nil {
			return nil, err
		}
		files = append(files, written...)
	}
	logger.L().Debug("shapefile_export", "features", len(c.Features), "files", len(files))
	return zipStore(dir, files)
}

func featureGeometry(f map[string]any) (orb.Geometry, error) {
	raw, ok := f["geometry"]
	if !ok || raw == nil {
		return nil, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	g, err := geojson.UnmarshalGeometry(b)
	if err != nil {
		return nil, err
	}
	return g.Geometry(), nil
}

func shpPoints(ps []orb.Point) []shp.Point {
	out := make([]shp.Point, len(ps))
	for i, p := range ps {
		out[i] = shp.Point{X: p[0], Y: p[1]}
	}
	return out
}

// ring：外环顺时针、洞逆时针
func ring(r orb.Ring, outer bool) []shp.Point {
	c := append(orb.Ring(nil), r...)
	if !c.Closed() && len(c) > 0 {
		c = append(c, c[0])
	}
	want := orb.CCW
	if outer {
		want = orb.CW
	}
	if c.Orientation() != want {
		c.Reverse()
	}
	return shpPoints(c)
}

func toShape(g orb.Geometry) (kind, shp.Shape, bool) {
	switch t := g.(type) {
	case orb.Point:
		return kindPoint, &shp.Point{X: t[0], Y: t[1]}, true
	case orb.MultiPoint:
		if len(t) == 0 {
			return kind{}, nil, false
		}
		pts := shpPoints(t)
		return kindMultiPoint, &shp.MultiPoint{Box: shp.BBoxFromPoints(pts), NumPoints: int32(len(pts)), Points: pts}, true
	case orb.LineString:
		return kindLine, shp.NewPolyLine([][]shp.Point{shpPoints(t)}), true
	case orb.MultiLineString:
		parts := make([][]shp.Point, 0, len(t))
		for _, l := range t {
			parts = append(parts, shpPoints(l))
		}
		if len(parts) == 0 {
			return kind{}, nil, false
		}
		return kindLine, shp.NewPolyLine(parts), true
	case orb.Polygon:
		return polygonShape(orb.MultiPolygon{t})
	case orb.MultiPolygon:
		return polygonShape(t)
	}
	return kind{}, nil, false
}

func polygonShape(mp orb.MultiPolygon) (kind, shp.Shape, bool) {
	var parts [][]shp.Point
	for _, p := range mp {
		for i, r := range p {
			parts = append(parts, ring(r, i == 0))
		}
	}
	if len(parts) == 0 {
		return kind{}, nil, false
	}
	pl := shp.NewPolyLine(parts)
	poly := shp.Polygon(*pl)
	return kindPolygon, &poly, true
}

type column struct {
	key     string
	name    string
	numeric bool
}

// columns：属性并集，按键排序；字段名截断到 10 字节并去重
func columns(rows []row) []column {
	numeric := map[string]bool{}
	for _, r := range rows {
		for k, v := range r.props {
			_, isNum := v.(float64)
			if prev, seen := numeric[k]; !seen {
				numeric[k] = isNum || v == nil
			} else {
				numeric[k] = prev && (isNum || v == nil)
			}
		}
	}
	keys := make([]string, 0, len(numeric))
	for k := range numeric {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	used := map[string]bool{}
	out := make([]column, 0, len(keys))
	for _, k := range keys {
		name := truncate(k, maxFieldName)
		if name == "" {
			name = "field"
		}
		for i := 1; used[name]; i++ {
			suffix := strconv.Itoa(i)
			name = truncate(k, maxFieldName-len(suffix)) + suffix
		}
		used[name] = true
		out = append(out, column{key: k, name: name, numeric: numeric[k]})
	}
	return out
}

// truncate：按字节截断且不切断多字节字符
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func cellText(v any, numeric bool) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return truncate(t, maxStringLen)
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		if numeric && len(s) > 24 {
			s = strconv.FormatFloat(t, 'g', 15, 64)
		}
		return s
	case bool:
		return strconv.FormatBool(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return truncate(string(b), maxStringLen)
}

func writeLayer(dir string, k kind, rows []row) ([]string, error) {
	base := filepath.Join(dir, k.name)
	w, err := shp.Create(base+".shp", k.shape)
	if err != nil {
		return nil, err
	}
	cols := columns(rows)
	if len(cols) == 0 {
		cols = []column{{key: "", name: "FID", numeric: true}}
	}
	fields := make([]shp.Field, len(cols))
	for i, c := range cols {
		if c.numeric {
			fields[i] = shp.FloatField(c.name, 24, 8)
		} else {
			fields[i] = shp.StringField(c.name, maxStringLen)
		}
	}
	if err := w.SetFields(fields); err != nil {
		w.Close()
		return nil, err
	}
	for _, r := range rows {
		n := int(w.Write(r.shape))
		for i, c := range cols {
			var v any
			if c.key == "" {
				v = float64(n)
			} else {
				v = r.props[c.key]
			}
			if err := w.WriteAttribute(n, i, cellText(v, c.numeric)); err != nil {
				w.Close()
				return nil, fmt.Errorf("%s row %d: %w", k.name, n, err)
			}
		}
	}
	w.Close()
	if err := os.WriteFile(base+".prj", []byte(wgs84Prj), 0o644); err != nil {
		return nil, err
	}
	names := make([]string, 0, 4)
	for _, ext := range []string{".shp", ".shx", ".dbf", ".prj"} {
		names = append(names, k.name+ext)
	}
	return names, nil
}

func zipStore(dir string, names []string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		if err != nil {
			return nil, err
		}
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		_, err = io.Copy(w, f)
		f.Close()
		if err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
