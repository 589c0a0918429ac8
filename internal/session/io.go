package session

import (
	"errors"
	"path"
	"strings"

	"github.com/paulmach/orb"

	"mapedit/internal/geotext"
	"mapedit/internal/mapview"
	"mapedit/internal/metrics"
	"mapedit/internal/shapefile"
	"mapedit/internal/syncengine"
	"mapedit/internal/tilegrid"
	"mapedit/internal/wmts"
)

const (
	GeoJSONExportName = "geojson-export.geojson"
	GeoJSONType       = "application/geo+json"
	ShapefileName     = "shapefile-export.zip"
	ShapefileType     = "application/zip"

	// XYZLayerID：配置了 XYZ_TILE_URL 时底图的图层标识
	XYZLayerID = "xyz"
)

var ErrUnknownLayer = errors.New("unknown tile layer")

// Download：导出结果
type Download struct {
	Name        string
	ContentType string
	Data        []byte
}

// IsZip：按文件名后缀或 MIME 类型判断上传是否为 shapefile 压缩包
func IsZip(name, contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return strings.EqualFold(path.Ext(name), ".zip") || ct == "application/zip" || ct == "application/x-zip-compressed"
}

// 文档注释：上传文件
// 约束：
// - 压缩包按 shapefile 读取，合并全部图层后以两空格缩进写入编辑器；没有要素时报 "No features found in shapefile."
// - 其他文件按文本写入编辑器；文本是否合法由同步引擎判定
// - 写入均按粘贴处理（适配视图），并计为用户编辑
// - 读取失败报 "Failed to read file: ..."
// 返回：显示给用户的上传错误
func (s *Session) Upload(name, contentType string, data []byte) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.uploadErr = ""
	kind := "geojson"
	text := string(data)
	if IsZip(name, contentType) {
		kind = "shapefile"
		c, err := shapefile.Import(data)
		if err == nil {
			text, err = geotext.Pretty(c)
		}
		if err != nil {
			if errors.Is(err, shapefile.ErrNoFeatures) {
				s.uploadErr = shapefile.ErrNoFeatures.Error()
			} else {
				s.uploadErr = "Failed to read file: " + err.Error()
			}
			metrics.UploadsTotal.WithLabelValues(kind, "error").Inc()
			s.log.Info("upload_error", "name", name, "kind", kind, "err", err)
			return errors.New(s.uploadErr)
		}
	}
	s.applyText(syncengine.TextChange{Text: text}, true)
	status := "ok"
	if s.engine.Error() != "" {
		status = "invalid"
	}
	metrics.UploadsTotal.WithLabelValues(kind, status).Inc()
	s.log.Debug("upload_applied", "name", name, "kind", kind, "bytes", len(data))
	return nil
}

// ExportGeoJSON：校验通过后原样导出编辑器文本
func (s *Session) ExportGeoJSON() (*Download, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	text := s.engine.Text()
	if _, err := geotext.ParseForExport(text); err != nil {
		return nil, s.exportFailed("geojson", err.Error())
	}
	s.exportErr = ""
	metrics.ExportsTotal.WithLabelValues("geojson", "ok").Inc()
	return &Download{Name: GeoJSONExportName, ContentType: GeoJSONType, Data: []byte(text)}, nil
}

// ExportShapefile：导出 shapefile 压缩包
func (s *Session) ExportShapefile() (*Download, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	c, err := geotext.ParseForExport(s.engine.Text())
	if err != nil {
		return nil, s.exportFailed("shapefile", err.Error())
	}
	data, err := shapefile.Export(c)
	if err != nil {
		return nil, s.exportFailed("shapefile", "Failed to export shapefile: "+err.Error())
	}
	s.exportErr = ""
	metrics.ExportsTotal.WithLabelValues("shapefile", "ok").Inc()
	return &Download{Name: ShapefileName, ContentType: ShapefileType, Data: data}, nil
}

func (s *Session) exportFailed(format, msg string) error {
	s.exportErr = msg
	metrics.ExportsTotal.WithLabelValues(format, "error").Inc()
	s.log.Debug("export_error", "format", format, "err", msg)
	return errors.New(msg)
}

// SearchLayers：按标题过滤图层列表
func (s *Session) SearchLayers(q string) []wmts.LayerOption {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.catalog == nil {
		return []wmts.LayerOption{}
	}
	return wmts.Search(s.catalog.Options(), q)
}

// TileSource：图层标识对应的取瓦片来源；"xyz" 为配置的 XYZ 底图
func (s *Session) TileSource(layerID string) (wmts.TileSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if layerID == XYZLayerID && s.xyzURL != "" {
		return wmts.TemplateSource(s.xyzURL), nil
	}
	if s.catalog == nil {
		return nil, ErrUnknownLayer
	}
	return s.catalog.Source(layerID)
}

// TileInRange：瓦片坐标是否落在该图层网格内；图层未知时返回 false
func (s *Session) TileInRange(layerID string, z, x, y int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if layerID == XYZLayerID && s.xyzURL != "" {
		return tilegrid.InGrid(s.xyz, z, x, y)
	}
	if s.catalog == nil {
		return false
	}
	src, err := s.catalog.Source(layerID)
	if err != nil {
		return false
	}
	return tilegrid.InGrid(src.Grid, z, x, y)
}

// ViewState：相机状态；Animation 为最近一次待前端执行的动画
type ViewState struct {
	Projection string             `json:"projection"`
	Center     orb.Point          `json:"center"`
	Zoom       float64            `json:"zoom"`
	Resolution float64            `json:"resolution"`
	MinZoom    float64            `json:"minZoom"`
	MaxZoom    float64            `json:"maxZoom"`
	Animation  *mapview.Animation `json:"animation,omitempty"`
}

// LayersState：底图图层面板
type LayersState struct {
	Title    string             `json:"title"`
	Options  []wmts.LayerOption `json:"options"`
	Selected []string           `json:"selected"`
	Error    string             `json:"error,omitempty"`
	XYZ      bool               `json:"xyz"`
}

// State：会话快照，前端据此渲染
// 约束：Revision 只在显示文本等于上次引擎文本时非零，前端原样回传用于识别回声
type State struct {
	ID             string           `json:"id"`
	Text           string           `json:"text"`
	Revision       uint64           `json:"revision"`
	Error          string           `json:"error,omitempty"`
	ExportError    string           `json:"exportError,omitempty"`
	ExportDisabled bool             `json:"exportDisabled"`
	Query          string           `json:"query"`
	View           ViewState        `json:"view"`
	DrawMode       DrawMode         `json:"drawMode"`
	HoverKey       *string          `json:"hoverKey"`
	Highlight      []map[string]any `json:"highlight"`
	Features       int              `json:"features"`
	Layers         LayersState      `json:"layers"`
	TileDebug      bool             `json:"tileDebug"`
}

// Snapshot：当前状态
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		ID:             s.ID,
		Text:           s.engine.Text(),
		Error:          s.displayError(),
		ExportError:    s.exportErr,
		ExportDisabled: s.exportDisabled(),
		Query:          s.url.Query(),
		DrawMode:       s.draw,
		HoverKey:       s.bridge.Key(),
		Features:       s.layer.Len(),
		TileDebug:      s.tileDebug,
		View: ViewState{
			Projection: s.proj.Code,
			Center:     s.view.Center(),
			Zoom:       s.view.Zoom(),
			Resolution: s.view.Resolution(),
			MinZoom:    s.view.MinZoom(),
			MaxZoom:    s.view.MaxZoom(),
			Animation:  s.view.LastAnimation(),
		},
		Layers: LayersState{Title: "WMTS", Options: []wmts.LayerOption{}, Selected: []string{}, Error: s.capsErr, XYZ: s.xyzURL != ""},
	}
	if st.Text == s.engine.LastSynced() {
		st.Revision = s.engine.Revision()
	}
	if s.catalog != nil {
		st.Layers.Title = s.catalog.Title()
		st.Layers.Options = s.catalog.Options()
		if sel := s.catalog.Selected(); sel != nil {
			st.Layers.Selected = sel
		}
	}
	hl, err := geotext.FeatureObjects(s.highlight.Features(), s.proj)
	if err != nil {
		s.log.Error("highlight_encode_error", "err", err)
	}
	if hl == nil {
		hl = []map[string]any{}
	}
	st.Highlight = hl
	return st
}

// Projection：地图坐标系
func (s *Session) Projection() geotext.Projection { return s.proj }
