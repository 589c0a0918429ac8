// 包 wmts：WMTS 能力文档的获取、解析、缓存，以及图层目录、瓦片网格与瓦片代理
package wmts

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strconv"
	"strings"
)

// 文档注释：能力文档中本服务用到的部分
// 背景：只解析图层、矩阵集与取瓦片方式；元素按本地名匹配，兼容 ows 命名空间前缀差异
type Capabilities struct {
	XMLName    xml.Name        `xml:"Capabilities"`
	Version    string          `xml:"version,attr"`
	Title      string          `xml:"ServiceIdentification>Title"`
	Layers     []Layer         `xml:"Contents>Layer"`
	MatrixSets []TileMatrixSet `xml:"Contents>TileMatrixSet"`
	Operations []Operation     `xml:"OperationsMetadata>Operation"`
}

type Layer struct {
	Identifier  string          `xml:"Identifier"`
	Title       string          `xml:"Title"`
	Formats     []string        `xml:"Format"`
	Styles      []Style         `xml:"Style"`
	Links       []MatrixSetLink `xml:"TileMatrixSetLink"`
	ResourceURL []ResourceURL   `xml:"ResourceURL"`
}

type Style struct {
	Identifier string `xml:"Identifier"`
	IsDefault  bool   `xml:"isDefault,attr"`
}

type MatrixSetLink struct {
	TileMatrixSet string             `xml:"TileMatrixSet"`
	Limits        []TileMatrixLimits `xml:"TileMatrixSetLimits>TileMatrixLimits"`
}

type TileMatrixLimits struct {
	TileMatrix string `xml:"TileMatrix"`
	MinTileRow int    `xml:"MinTileRow"`
	MaxTileRow int    `xml:"MaxTileRow"`
	MinTileCol int    `xml:"MinTileCol"`
	MaxTileCol int    `xml:"MaxTileCol"`
}

type ResourceURL struct {
	Format       string `xml:"format,attr"`
	ResourceType string `xml:"resourceType,attr"`
	Template     string `xml:"template,attr"`
}

type TileMatrixSet struct {
	Identifier   string       `xml:"Identifier"`
	SupportedCRS string       `xml:"SupportedCRS"`
	Matrices     []TileMatrix `xml:"TileMatrix"`
}

type TileMatrix struct {
	Identifier       string  `xml:"Identifier"`
	ScaleDenominator float64 `xml:"ScaleDenominator"`
	TopLeftCorner    string  `xml:"TopLeftCorner"`
	TileWidth        int     `xml:"TileWidth"`
	TileHeight       int     `xml:"TileHeight"`
	MatrixWidth      int     `xml:"MatrixWidth"`
	MatrixHeight     int     `xml:"MatrixHeight"`
}

type Operation struct {
	Name string `xml:"name,attr"`
	Gets []Get  `xml:"DCP>HTTP>Get"`
}

type Get struct {
	Href     string   `xml:"href,attr"`
	Encoding []string `xml:"Constraint>AllowedValues>Value"`
}

var ErrNotCapabilities = errors.New("document is not a WMTS Capabilities document")

// Parse：解析能力文档
// 约束：根元素必须为 Capabilities；空白标识的图层保留在结果中，由目录过滤
func Parse(data []byte) (*Capabilities, error) {
	var c Capabilities
	dec := xml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&c); err != nil {
		var se xml.UnmarshalError
		if errors.As(err, &se) {
			return nil, ErrNotCapabilities
		}
		return nil, err
	}
	for i := range c.Layers {
		c.Layers[i].Identifier = strings.TrimSpace(c.Layers[i].Identifier)
		c.Layers[i].Title = strings.TrimSpace(c.Layers[i].Title)
	}
	return &c, nil
}

// Layer：按标识查找图层
func (c *Capabilities) Layer(id string) *Layer {
	for i := range c.Layers {
		if c.Layers[i].Identifier == id {
			return &c.Layers[i]
		}
	}
	return nil
}

// MatrixSet：按标识查找矩阵集
func (c *Capabilities) MatrixSet(id string) *TileMatrixSet {
	for i := range c.MatrixSets {
		if strings.TrimSpace(c.MatrixSets[i].Identifier) == id {
			return &c.MatrixSets[i]
		}
	}
	return nil
}

// GetTileKVP：OperationsMetadata 中 GetTile 的 KVP 地址；没有时返回空串
func (c *Capabilities) GetTileKVP() string {
	for _, op := range c.Operations {
		if op.Name != "GetTile" {
			continue
		}
		for _, g := range op.Gets {
			if len(g.Encoding) == 0 {
				return g.Href
			}
			for _, e := range g.Encoding {
				if strings.EqualFold(strings.TrimSpace(e), "KVP") {
					return g.Href
				}
			}
		}
	}
	return ""
}

// DefaultStyle：isDefault 的样式，否则第一个，否则 "default"
func (l *Layer) DefaultStyle() string {
	for _, s := range l.Styles {
		if s.IsDefault {
			return strings.TrimSpace(s.Identifier)
		}
	}
	if len(l.Styles) > 0 {
		return strings.TrimSpace(l.Styles[0].Identifier)
	}
	return "default"
}

// Format：第一个声明的格式，缺省 image/png
func (l *Layer) Format() string {
	if len(l.Formats) > 0 {
		return strings.TrimSpace(l.Formats[0])
	}
	return "image/png"
}

// TileTemplate：REST 瓦片模板
func (l *Layer) TileTemplate() string {
	for _, r := range l.ResourceURL {
		if r.ResourceType == "" || r.ResourceType == "tile" {
			return r.Template
		}
	}
	return ""
}

// parseCorner：TopLeftCorner 的两个数
func parseCorner(s string) (float64, float64, bool) {
	f := strings.Fields(s)
	if len(f) != 2 {
		return 0, 0, false
	}
	a, err1 := strconv.ParseFloat(f[0], 64)
	b, err2 := strconv.ParseFloat(f[1], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return a, b, true
}
