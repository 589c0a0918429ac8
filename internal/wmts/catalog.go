package wmts

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"mapedit/internal/tilegrid"
)

// LayerOption：图层列表项
type LayerOption struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	MatrixSets []string `json:"matrixSets,omitempty"`
}

// Source：一个已选图层的取瓦片描述
type Source struct {
	Layer     string
	MatrixSet string
	Style     string
	Format    string
	Grid      *Grid
	template  string
	kvp       string
}

// 文档注释：图层目录
// 背景：由能力文档构建图层列表与当前选择；选择顺序即叠放顺序，最后一个在最上层
// 约束：
// - 标识为空的图层不进入列表
// - 标题缺省时使用标识
// - 网格按图层惰性构建并缓存；构建失败的图层没有网格
type Catalog struct {
	mu        sync.Mutex
	caps      *Capabilities
	preferred string
	options   []LayerOption
	selected  []string
	sources   map[string]*Source
}

// NewCatalog：构建目录并应用默认选择
// 参数：
// - preferredCRS：配置的地图坐标系代码中最后一个 ':' 之后的部分，如 "3857"，用于挑选矩阵集
// - defaults：配置的默认图层；其中有效者优先，否则选第一个有效图层
func NewCatalog(caps *Capabilities, preferredCRS string, defaults []string) *Catalog {
	c := &Catalog{caps: caps, preferred: strings.TrimSpace(preferredCRS), sources: map[string]*Source{}}
	for _, l := range caps.Layers {
		if l.Identifier == "" {
			continue
		}
		opt := LayerOption{ID: l.Identifier, Title: l.Title}
		if opt.Title == "" {
			opt.Title = l.Identifier
		}
		for _, link := range l.Links {
			opt.MatrixSets = append(opt.MatrixSets, strings.TrimSpace(link.TileMatrixSet))
		}
		c.options = append(c.options, opt)
	}
	c.selected = c.resolveDefaults(defaults)
	return c
}

func (c *Catalog) resolveDefaults(defaults []string) []string {
	var out []string
	for _, d := range defaults {
		d = strings.TrimSpace(d)
		if d != "" && c.has(d) {
			out = append(out, d)
		}
	}
	if len(out) > 0 {
		return out
	}
	if len(c.options) > 0 {
		return []string{c.options[0].ID}
	}
	return nil
}

func (c *Catalog) has(id string) bool {
	for _, o := range c.options {
		if o.ID == id {
			return true
		}
	}
	return false
}

// Options：全部有效图层
func (c *Catalog) Options() []LayerOption {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]LayerOption(nil), c.options...)
}

// Selected：当前选择（自下而上）
func (c *Catalog) Selected() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.selected...)
}

// Select：整体替换选择；未知与重复的标识被忽略
func (c *Catalog) Select(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := map[string]bool{}
	var next []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] || !c.has(id) {
			continue
		}
		seen[id] = true
		next = append(next, id)
	}
	c.selected = next
}

// Toggle：勾选追加到末尾（最上层），取消勾选则移除
func (c *Catalog) Toggle(id string, checked bool) {
	cur := c.Selected()
	var next []string
	for _, s := range cur {
		if s != id {
			next = append(next, s)
		}
	}
	if checked {
		next = append(next, id)
	}
	c.Select(next)
}

// Title：无选择为 "WMTS"；单选为图层标题；多选为 "N layers selected"
func (c *Catalog) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch len(c.selected) {
	case 0:
		return "WMTS"
	case 1:
		for _, o := range c.options {
			if o.ID == c.selected[0] {
				return o.Title
			}
		}
		return "WMTS"
	}
	return fmt.Sprintf("%d layers selected", len(c.selected))
}

// Search：按标题过滤（去空白、忽略大小写的子串匹配）；空查询返回全部
func Search(opts []LayerOption, query string) []LayerOption {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return opts
	}
	var out []LayerOption
	for _, o := range opts {
		if strings.Contains(strings.ToLower(o.Title), q) {
			out = append(out, o)
		}
	}
	return out
}

// matrixSetFor：优先 SupportedCRS 以首选代码结尾的矩阵集，否则第一个链接
func (c *Catalog) matrixSetFor(l *Layer) (*MatrixSetLink, *TileMatrixSet) {
	if len(l.Links) == 0 {
		return nil, nil
	}
	if c.preferred != "" {
		for i := range l.Links {
			set := c.caps.MatrixSet(strings.TrimSpace(l.Links[i].TileMatrixSet))
			if set != nil && crsCode(set.SupportedCRS) == c.preferred {
				return &l.Links[i], set
			}
		}
	}
	return &l.Links[0], c.caps.MatrixSet(strings.TrimSpace(l.Links[0].TileMatrixSet))
}

// crsCode：最后一个 ':' 之后的部分
func crsCode(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, ":"); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Source：图层的取瓦片描述；图层不存在或无法构建网格时返回错误
func (c *Catalog) Source(id string) (*Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sources[id]; ok {
		return s, nil
	}
	l := c.caps.Layer(id)
	if l == nil || id == "" {
		return nil, fmt.Errorf("unknown layer %q", id)
	}
	link, set := c.matrixSetFor(l)
	if set == nil {
		return nil, fmt.Errorf("layer %q has no usable tile matrix set", id)
	}
	g, err := NewGrid(set, link)
	if err != nil {
		return nil, fmt.Errorf("layer %q: %w", id, err)
	}
	s := &Source{
		Layer:     id,
		MatrixSet: g.MatrixSet,
		Style:     l.DefaultStyle(),
		Format:    l.Format(),
		Grid:      g,
		template:  l.TileTemplate(),
		kvp:       c.caps.GetTileKVP(),
	}
	if s.template == "" && s.kvp == "" {
		return nil, fmt.Errorf("layer %q has no tile endpoint", id)
	}
	c.sources[id] = s
	return s, nil
}

// ActiveGrid：最上层（最后选中）且可构建网格的图层的网格；没有时返回 nil
func (c *Catalog) ActiveGrid() tilegrid.Grid {
	sel := c.Selected()
	for i := len(sel) - 1; i >= 0; i-- {
		if s, err := c.Source(sel[i]); err == nil {
			return s.Grid
		}
	}
	return nil
}

// TileURL：REST 模板优先，否则按 KVP 拼接 GetTile 请求
func (s *Source) TileURL(z, x, y int) (string, error) {
	matrix, ok := s.Grid.MatrixID(z)
	if !ok {
		return "", fmt.Errorf("zoom %d outside matrix set %q", z, s.MatrixSet)
	}
	if s.template != "" {
		return strings.NewReplacer(
			"{TileMatrixSet}", s.MatrixSet,
			"{TileMatrix}", matrix,
			"{TileRow}", strconv.Itoa(y),
			"{TileCol}", strconv.Itoa(x),
			"{Style}", s.Style,
			"{style}", s.Style,
		).Replace(s.template), nil
	}
	u, err := url.Parse(s.kvp)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("SERVICE", "WMTS")
	q.Set("REQUEST", "GetTile")
	q.Set("VERSION", "1.0.0")
	q.Set("LAYER", s.Layer)
	q.Set("STYLE", s.Style)
	q.Set("FORMAT", s.Format)
	q.Set("TILEMATRIXSET", s.MatrixSet)
	q.Set("TILEMATRIX", matrix)
	q.Set("TILEROW", strconv.Itoa(y))
	q.Set("TILECOL", strconv.Itoa(x))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
