// 包 shapefile：shapefile 压缩包与 GeoJSON 要素集合之间的转换
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
	"strings"

	shp "github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"

	"mapedit/internal/geotext"
	"mapedit/internal/logger"
)

// ErrNoFeatures：压缩包内没有任何要素
var ErrNoFeatures = errors.New("No features found in shapefile.")

// 解压总量上限
const maxUnzippedBytes = 256 << 20

// 文档注释：读取 shapefile 压缩包
// 背景：压缩包可包含多个图层（多个 .shp，可在子目录中）；各图层要素按文件名顺序合并为一个集合
// 约束：
// - .prj 声明为 Web Mercator 时坐标转换为经纬度，其余一律按 WGS84 处理
// - 空几何的记录保留为 geometry=null 的要素
// - 没有任何要素时返回 ErrNoFeatures
func Import(data []byte) (*geotext.Collection, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp("", "shp-import-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	shps, err := extract(zr, dir)
	if err != nil {
		return nil, err
	}
	var layers []any
	for _, path := range shps {
		fc, err := readLayer(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		layers = append(layers, fc)
	}
	merged := geotext.MergeCollections(layers)
	if merged == nil {
		return nil, ErrNoFeatures
	}
	logger.L().Debug("shapefile_import", "layers", len(shps), "features", len(merged.Features))
	return merged, nil
}

// extract：解压到 dir，返回全部 .shp 路径（已排序）
// 约束：拒绝绝对路径与 ".."；扩展名统一小写；跳过 __MACOSX
func extract(zr *zip.Reader, dir string) ([]string, error) {
	var shps []string
	var total int64
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}
		name := filepath.Clean(filepath.FromSlash(f.Name))
		if filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("invalid entry %q", f.Name)
		}
		ext := filepath.Ext(name)
		name = strings.TrimSuffix(name, ext) + strings.ToLower(ext)
		dst := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, err
		}
		n, err := copyEntry(f, dst, maxUnzippedBytes-total)
		if err != nil {
			return nil, err
		}
		total += n
		if strings.ToLower(ext) == ".shp" {
			shps = append(shps, dst)
		}
	}
	sort.Strings(shps)
	return shps, nil
}

func copyEntry(f *zip.File, dst string, budget int64) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()
	n, err := io.Copy(out, io.LimitReader(rc, budget+1))
	if err != nil {
		return n, err
	}
	if n > budget {
		return n, errors.New("archive too large")
	}
	return n, nil
}

func readLayer(path string) (any, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	mercator := isMercatorPrj(strings.TrimSuffix(path, ".shp") + ".prj")
	fields := r.Fields()

	var features []any
	for r.Next() {
		n, s := r.Shape()
		var geom any
		if g := toGeometry(s); g != nil {
			if mercator {
				g = project.Geometry(g, project.Mercator.ToWGS84)
			}
			geom = geojson.NewGeometry(g)
		}
		props := map[string]any{}
		for i, fd := range fields {
			props[fieldName(fd)] = attrValue(fd, r.ReadAttribute(n, i))
		}
		features = append(features, map[string]any{"type": "Feature", "geometry": geom, "properties": props})
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	// 几何经 JSON 中转为与编辑器文本一致的通用结构
	raw, err := json.Marshal(map[string]any{"type": "FeatureCollection", "features": features})
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func isMercatorPrj(path string) bool {
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	s := strings.ToLower(string(b))
	return strings.Contains(s, "mercator") && (strings.Contains(s, "3857") || strings.Contains(s, "pseudo") || strings.Contains(s, "web_mercator") || strings.Contains(s, "auxiliary_sphere"))
}

func fieldName(f shp.Field) string {
	return strings.TrimSpace(strings.TrimRight(f.String(), "\x00"))
}

// attrValue：N/F 转数值，L 转布尔，其余保留字符串；空值为 null
func attrValue(f shp.Field, raw string) any {
	v := strings.TrimSpace(strings.TrimRight(raw, "\x00"))
	switch f.Fieldtype {
	case 'N', 'F':
		if v == "" {
			return nil
		}
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
		return v
	case 'L':
		switch strings.ToUpper(v) {
		case "T", "Y":
			return true
		case "F", "N":
			return false
		}
		return nil
	}
	return v
}

func toGeometry(s shp.Shape) orb.Geometry {
	switch t := s.(type) {
	case *shp.Point:
		return orb.Point{t.X, t.Y}
	case *shp.PointZ:
		return orb.Point{t.X, t.Y}
	case *shp.PointM:
		return orb.Point{t.X, t.Y}
	case *shp.MultiPoint:
		return multiPoint(t.Points)
	case *shp.MultiPointZ:
		return multiPoint(t.Points)
	case *shp.MultiPointM:
		return multiPoint(t.Points)
	case *shp.PolyLine:
		return lines(t.Parts, t.Points)
	case *shp.PolyLineZ:
		return lines(t.Parts, t.Points)
	case *shp.PolyLineM:
		return lines(t.Parts, t.Points)
	case *shp.Polygon:
		return polygons(t.Parts, t.Points)
	case *shp.PolygonZ:
		return polygons(t.Parts, t.Points)
	case *shp.PolygonM:
		return polygons(t.Parts, t.Points)
	}
	return nil
}

func multiPoint(pts []shp.Point) orb.Geometry {
	mp := make(orb.MultiPoint, 0, len(pts))
	for _, p := range pts {
		mp = append(mp, orb.Point{p.X, p.Y})
	}
	return mp
}

func splitParts(parts []int32, pts []shp.Point) [][]orb.Point {
	out := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(pts))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(pts) {
			continue
		}
		seg := make([]orb.Point, 0, end-start)
		for _, p := range pts[start:end] {
			seg = append(seg, orb.Point{p.X, p.Y})
		}
		out = append(out, seg)
	}
	return out
}

func lines(parts []int32, pts []shp.Point) orb.Geometry {
	segs := splitParts(parts, pts)
	if len(segs) == 0 {
		return nil
	}
	if len(segs) == 1 {
		return orb.LineString(segs[0])
	}
	ml := make(orb.MultiLineString, 0, len(segs))
	for _, s := range segs {
		ml = append(ml, orb.LineString(s))
	}
	return ml
}

// polygons：顺时针环为外环，逆时针环为洞，洞归入包含它的外环（找不到时归入上一个外环）
// 输出环按 GeoJSON 习惯改为外环逆时针、洞顺时针
func polygons(parts []int32, pts []shp.Point) orb.Geometry {
	var polys []orb.Polygon
	var holes []orb.Ring
	for _, seg := range splitParts(parts, pts) {
		r := orb.Ring(seg)
		if len(r) < 4 {
			continue
		}
		if r.Orientation() == orb.CCW {
			holes = append(holes, r)
			continue
		}
		r.Reverse()
		polys = append(polys, orb.Polygon{r})
	}
	for _, h := range holes {
		h.Reverse()
		placed := false
		for i := range polys {
			if planar.RingContains(polys[i][0], h[0]) {
				polys[i] = append(polys[i], h)
				placed = true
				break
			}
		}
		if !placed {
			if len(polys) == 0 {
				// 只有逆时针环时按外环处理
				h.Reverse()
				polys = append(polys, orb.Polygon{h})
				continue
			}
			polys[len(polys)-1] = append(polys[len(polys)-1], h)
		}
	}
	switch len(polys) {
	case 0:
		return nil
	case 1:
		return polys[0]
	}
	return orb.MultiPolygon(polys)
}
