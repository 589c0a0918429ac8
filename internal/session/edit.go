package session

import (
	"errors"
	"strings"

	"github.com/paulmach/orb"

	"mapedit/internal/layer"
)

// DrawMode：绘制工具
type DrawMode string

const (
	DrawNone       DrawMode = "None"
	DrawPoint      DrawMode = "Point"
	DrawLineString DrawMode = "LineString"
	DrawPolygon    DrawMode = "Polygon"
	DrawBox        DrawMode = "Box"
)

var (
	ErrDrawMode    = errors.New("unknown draw mode")
	ErrNotDrawing  = errors.New("no draw mode active")
	ErrDrawCoords  = errors.New("not enough coordinates for draw mode")
	ErrNoSuchIndex = errors.New("feature index out of range")
)

// ParseDrawMode：大小写不敏感；空串视为 None
func ParseDrawMode(s string) (DrawMode, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DrawNone, nil
	}
	for _, m := range []DrawMode{DrawNone, DrawPoint, DrawLineString, DrawPolygon, DrawBox} {
		if strings.EqualFold(s, string(m)) {
			return m, nil
		}
	}
	return DrawNone, ErrDrawMode
}

// SetDrawMode：切换绘制工具；None 时仅允许修改已有要素
func (s *Session) SetDrawMode(m DrawMode) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.draw = m
	return nil
}

// 文档注释：完成一次绘制
// 背景：前端按当前工具采集顶点（地图坐标系），结束时一次性提交
// 约束：
// - Point 取第一个点；LineString 至少 2 点；Polygon 至少 3 点，环自动闭合；Box 取两个对角点
// - 成功后工具复位为 None，新增要素计为用户编辑
// 返回：新要素在图层中的位置索引
func (s *Session) Draw(coords []orb.Point) (int, error) {
	if err := s.lock(); err != nil {
		return -1, err
	}
	defer s.mu.Unlock()
	g, err := drawGeometry(s.draw, coords)
	if err != nil {
		return -1, err
	}
	s.draw = DrawNone
	s.url.MarkUserEdited()
	f := layer.NewFeature(g, nil)
	s.layer.Add(f)
	s.log.Debug("draw_end", "type", g.GeoJSONType())
	return s.layer.Index(f), nil
}

func drawGeometry(m DrawMode, coords []orb.Point) (orb.Geometry, error) {
	switch m {
	case DrawPoint:
		if len(coords) < 1 {
			return nil, ErrDrawCoords
		}
		return coords[0], nil
	case DrawLineString:
		if len(coords) < 2 {
			return nil, ErrDrawCoords
		}
		return orb.LineString(append([]orb.Point(nil), coords...)), nil
	case DrawPolygon:
		r := orb.Ring(append([]orb.Point(nil), coords...))
		if len(r) > 1 && r[0] == r[len(r)-1] {
			r = r[:len(r)-1]
		}
		if len(r) < 3 {
			return nil, ErrDrawCoords
		}
		return orb.Polygon{append(r, r[0])}, nil
	case DrawBox:
		if len(coords) < 2 {
			return nil, ErrDrawCoords
		}
		return boxPolygon(coords[0], coords[len(coords)-1]), nil
	case DrawNone:
		return nil, ErrNotDrawing
	}
	return nil, ErrDrawMode
}

// boxPolygon：两个对角点构成的矩形，逆时针，起点为左下角
func boxPolygon(a, b orb.Point) orb.Polygon {
	bd := orb.Bound{Min: a, Max: a}.Extend(b)
	return orb.Polygon{orb.Ring{
		bd.Min,
		{bd.Max[0], bd.Min[1]},
		bd.Max,
		{bd.Min[0], bd.Max[1]},
		bd.Min,
	}}
}

func (s *Session) featureAt(index int) (*layer.Feature, error) {
	fs := s.layer.Features()
	if index < 0 || index >= len(fs) {
		return nil, ErrNoSuchIndex
	}
	return fs[index], nil
}

// Modify：修改已有要素的几何（地图坐标系），计为用户编辑
func (s *Session) Modify(index int, g orb.Geometry) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	f, err := s.featureAt(index)
	if err != nil {
		return err
	}
	s.url.MarkUserEdited()
	s.layer.Modify(f, g)
	return nil
}

// Remove：删除要素，计为用户编辑
func (s *Session) Remove(index int) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	f, err := s.featureAt(index)
	if err != nil {
		return err
	}
	s.url.MarkUserEdited()
	s.layer.Remove(f)
	return nil
}
