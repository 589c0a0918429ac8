// 包 layer：编辑器的矢量图层（几何要素集合）与变更事件
package layer

import (
	"github.com/paulmach/orb"
)

// Feature：图层中的一个要素；几何处于地图坐标系（见 geotext.Projection）
// 约束：要素身份即指针本身；Properties 仅承载可导出的属性，不放任何界面临时数据
type Feature struct {
	ID         any
	Geometry   orb.Geometry
	Properties map[string]any
	// Z：按顶点遍历顺序排列的高程，与 Geometry 顶点一一对应；NaN 表示该顶点无高程，nil 表示全部无高程
	Z []float64
}

// NewFeature：以几何与属性构建要素；props 为 nil 时初始化为空表
func NewFeature(g orb.Geometry, props map[string]any) *Feature {
	if props == nil {
		props = map[string]any{}
	}
	return &Feature{Geometry: g, Properties: props}
}

// Get：读取属性值
func (f *Feature) Get(key string) any {
	if f == nil || f.Properties == nil {
		return nil
	}
	return f.Properties[key]
}

// Clone：深拷贝几何，属性表浅拷贝
func (f *Feature) Clone() *Feature {
	c := &Feature{ID: f.ID, Properties: make(map[string]any, len(f.Properties))}
	if f.Geometry != nil {
		c.Geometry = orb.Clone(f.Geometry)
	}
	if f.Z != nil {
		c.Z = append([]float64(nil), f.Z...)
	}
	for k, v := range f.Properties {
		c.Properties[k] = v
	}
	return c
}

type ChangeKind int

const (
	ChangeAdd ChangeKind = iota + 1
	ChangeRemove
	ChangeModify
	ChangeReplace
	ChangeClear
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdd:
		return "add"
	case ChangeRemove:
		return "remove"
	case ChangeModify:
		return "modify"
	case ChangeReplace:
		return "replace"
	case ChangeClear:
		return "clear"
	}
	return "unknown"
}

// Change：一次变更事件；Features 为本次涉及的要素
type Change struct {
	Kind     ChangeKind
	Features []*Feature
}

// Layer：要素有序集合
// 约束：非并发安全，调用方（会话）负责串行化；每次变更调用同步派发恰好一个事件
type Layer struct {
	features  []*Feature
	listeners map[int]func(Change)
	nextID    int
}

func New() *Layer {
	return &Layer{listeners: make(map[int]func(Change))}
}

// Subscribe：注册变更监听，返回取消函数
func (l *Layer) Subscribe(fn func(Change)) func() {
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	return func() { delete(l.listeners, id) }
}

func (l *Layer) emit(c Change) {
	for i := 0; i < l.nextID; i++ {
		if fn, ok := l.listeners[i]; ok {
			fn(c)
		}
	}
}

// Features：返回要素切片副本（顺序即位置索引）
func (l *Layer) Features() []*Feature {
	out := make([]*Feature, len(l.features))
	copy(out, l.features)
	return out
}

func (l *Layer) Len() int { return len(l.features) }

// Index：要素的位置索引，不存在时返回 -1
func (l *Layer) Index(f *Feature) int {
	for i, x := range l.features {
		if x == f {
			return i
		}
	}
	return -1
}

// Add：追加要素，派发一个 add 事件
func (l *Layer) Add(fs ...*Feature) {
	if len(fs) == 0 {
		return
	}
	l.features = append(l.features, fs...)
	l.emit(Change{Kind: ChangeAdd, Features: fs})
}

// Remove：移除要素；未找到时返回 false 且不派发事件
func (l *Layer) Remove(f *Feature) bool {
	i := l.Index(f)
	if i < 0 {
		return false
	}
	l.features = append(l.features[:i], l.features[i+1:]...)
	l.emit(Change{Kind: ChangeRemove, Features: []*Feature{f}})
	return true
}

// Modify：替换要素几何（对应编辑交互结束），派发 modify 事件
// 约束：顶点数不变（拖动顶点）时保留高程，否则高程无法对应而丢弃
func (l *Layer) Modify(f *Feature, g orb.Geometry) bool {
	if l.Index(f) < 0 {
		return false
	}
	if f.Z != nil && len(f.Z) != VertexCount(g) {
		f.Z = nil
	}
	f.Geometry = g
	l.emit(Change{Kind: ChangeModify, Features: []*Feature{f}})
	return true
}

// Replace：整体替换内容（清空 + 批量添加），只派发一个 replace 事件
func (l *Layer) Replace(fs []*Feature) {
	next := make([]*Feature, len(fs))
	copy(next, fs)
	l.features = next
	l.emit(Change{Kind: ChangeReplace, Features: next})
}

// Clear：清空；图层本已为空时不派发事件
func (l *Layer) Clear() {
	if len(l.features) == 0 {
		return
	}
	old := l.features
	l.features = nil
	l.emit(Change{Kind: ChangeClear, Features: old})
}

// Extent：全部几何的包围盒；无几何时 ok 为 false
func (l *Layer) Extent() (orb.Bound, bool) {
	var b orb.Bound
	ok := false
	for _, f := range l.features {
		if f.Geometry == nil {
			continue
		}
		fb := f.Geometry.Bound()
		if fb.IsEmpty() {
			continue
		}
		if !ok {
			b = fb
			ok = true
			continue
		}
		b = b.Union(fb)
	}
	return b, ok
}

// VertexCount：几何的顶点总数，遍历顺序与 GeoJSON coordinates 的书写顺序一致（环含闭合点）
func VertexCount(g orb.Geometry) int {
	switch g := g.(type) {
	case orb.Point:
		return 1
	case orb.MultiPoint:
		return len(g)
	case orb.LineString:
		return len(g)
	case orb.Ring:
		return len(g)
	case orb.MultiLineString:
		n := 0
		for _, ls := range g {
			n += len(ls)
		}
		return n
	case orb.Polygon:
		n := 0
		for _, r := range g {
			n += len(r)
		}
		return n
	case orb.MultiPolygon:
		n := 0
		for _, p := range g {
			n += VertexCount(p)
		}
		return n
	case orb.Collection:
		n := 0
		for _, c := range g {
			n += VertexCount(c)
		}
		return n
	}
	return 0
}
