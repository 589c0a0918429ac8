package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"mapedit/internal/geotext"
	"mapedit/internal/session"
	"mapedit/internal/syncengine"
	"mapedit/internal/tilegrid"
)

type createRequest struct {
	// Query：浏览器地址栏查询串（可带 '?'），用于恢复 map 与 geo
	Query string `json:"query"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	var d session.Deps
	if h.NewSession != nil {
		d = h.NewSession(r)
	}
	s := h.Sessions.Create(req.Query, d)
	writeJSON(w, http.StatusCreated, s.Snapshot())
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request, s *session.Session) {
	writeState(w, s)
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.Sessions.Delete(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type textRequest struct {
	Text     string `json:"text"`
	Revision uint64 `json:"revision"`
	Paste    bool   `json:"paste"`
}

// postText：编辑器输入或粘贴；文本非法不是请求错误，错误体现在快照中
func (h *Handler) postText(w http.ResponseWriter, r *http.Request, s *session.Session) {
	var req textRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.TextChange(syncengine.TextChange{Text: req.Text, Revision: req.Revision}, req.Paste); err != nil {
		sessionError(w, err, http.StatusInternalServerError)
		return
	}
	writeState(w, s)
}

type hoverRequest struct {
	Offset *int `json:"offset"`
}

// postHover：offset 为空表示光标离开编辑器
func (h *Handler) postHover(w http.ResponseWriter, r *http.Request, s *session.Session) {
	var req hoverRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var (
		key *string
		err error
	)
	if req.Offset == nil {
		err = s.HoverLeave()
	} else {
		key, err = s.HoverOffset(*req.Offset)
	}
	if err != nil {
		sessionError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "highlight": s.Snapshot().Highlight})
}

type drawModeRequest struct {
	Mode string `json:"mode"`
}

func (h *Handler) putDrawMode(w http.ResponseWriter, r *http.Request, s *session.Session) {
	var req drawModeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	m, err := session.ParseDrawMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.SetDrawMode(m); err != nil {
		sessionError(w, err, http.StatusInternalServerError)
		return
	}
	writeState(w, s)
}

type drawRequest struct {
	// Coordinates：地图坐标系顶点
	Coordinates []orb.Point `json:"coordinates"`
}

func (h *Handler) postDraw(w http.ResponseWriter, r *http.Request, s *session.Session) {
	var req drawRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := s.Draw(req.Coordinates); err != nil {
		sessionError(w, err, http.StatusUnprocessableEntity)
		return
	}
	writeState(w, s)
}

// putGeometry：请求体为地图坐标系下的 GeoJSON 几何
func (h *Handler) putGeometry(w http.ResponseWriter, r *http.Request, s *session.Session) {
	idx, ok := pathInt(r, "index")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid feature index")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	g, err := geojson.UnmarshalGeometry(body)
	if err != nil || g.Geometry() == nil {
		writeError(w, http.StatusBadRequest, "invalid geometry")
		return
	}
	if err := s.Modify(idx, g.Geometry()); err != nil {
		sessionError(w, err, featureStatus(err))
		return
	}
	writeState(w, s)
}

func (h *Handler) deleteFeature(w http.ResponseWriter, r *http.Request, s *session.Session) {
	idx, ok := pathInt(r, "index")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid feature index")
		return
	}
	if err := s.Remove(idx); err != nil {
		sessionError(w, err, featureStatus(err))
		return
	}
	writeState(w, s)
}

func featureStatus(err error) int {
	if errors.Is(err, session.ErrNoSuchIndex) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

type viewRequest struct {
	Center *orb.Point `json:"center"`
	Zoom   float64    `json:"zoom"`
	User   bool       `json:"user"`
	Width  float64    `json:"width"`
	Height float64    `json:"height"`
}

// postView：前端上报视口尺寸与相机停止位置（moveend）
func (h *Handler) postView(w http.ResponseWriter, r *http.Request, s *session.Session) {
	var req viewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Width > 0 && req.Height > 0 {
		if err := s.Resize(req.Width, req.Height); err != nil {
			sessionError(w, err, http.StatusInternalServerError)
			return
		}
	}
	if req.Center != nil {
		if err := s.MoveEnd(*req.Center, req.Zoom, req.User); err != nil {
			sessionError(w, err, http.StatusInternalServerError)
			return
		}
	}
	writeState(w, s)
}

type zoomRequest struct {
	Delta float64 `json:"delta"`
}

func (h *Handler) postZoom(w http.ResponseWriter, r *http.Request, s *session.Session) {
	var req zoomRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := s.Zoom(req.Delta); err != nil {
		sessionError(w, err, http.StatusInternalServerError)
		return
	}
	writeState(w, s)
}

type tileJumpRequest struct {
	Z    string `json:"z"`
	X    string `json:"x"`
	Y    string `json:"y"`
	Mode string `json:"mode"`
}

// postTileJump：表单原值提交；校验失败返回 422 与面向用户的提示
func (h *Handler) postTileJump(w http.ResponseWriter, r *http.Request, s *session.Session) {
	var req tileJumpRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tr, err := tilegrid.ParseRequest(req.Z, req.X, req.Y, req.Mode)
	if err == nil {
		_, err = s.TileJump(tr)
	}
	if err != nil {
		sessionError(w, err, http.StatusUnprocessableEntity)
		return
	}
	writeState(w, s)
}

type tileDebugRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *Handler) putTileDebug(w http.ResponseWriter, r *http.Request, s *session.Session) {
	var req tileDebugRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.SetTileDebug(req.Enabled); err != nil {
		sessionError(w, err, http.StatusInternalServerError)
		return
	}
	writeState(w, s)
}

// getDebugTiles：调试瓦片外框，数据坐标系 FeatureCollection，properties.label 为标签
func (h *Handler) getDebugTiles(w http.ResponseWriter, r *http.Request, s *session.Session) {
	fs, err := geotext.FeatureObjects(tilegrid.DebugFeatures(s.DebugTiles()), s.Projection())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if fs == nil {
		fs = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, geotext.Collection{Type: "FeatureCollection", Features: fs})
}

// getLayers：q 非空时按标题过滤
func (h *Handler) getLayers(w http.ResponseWriter, r *http.Request, s *session.Session) {
	writeJSON(w, http.StatusOK, map[string]any{"options": s.SearchLayers(r.URL.Query().Get("q"))})
}

type layersRequest struct {
	Selected []string `json:"selected"`
}

func (h *Handler) putLayers(w http.ResponseWriter, r *http.Request, s *session.Session) {
	var req layersRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.SelectLayers(req.Selected); err != nil {
		sessionError(w, err, http.StatusInternalServerError)
		return
	}
	h.resetTiles()
	writeState(w, s)
}

type layerRequest struct {
	Checked bool `json:"checked"`
}

func (h *Handler) putLayer(w http.ResponseWriter, r *http.Request, s *session.Session) {
	var req layerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.ToggleLayer(r.PathValue("layer"), req.Checked); err != nil {
		sessionError(w, err, http.StatusInternalServerError)
		return
	}
	h.resetTiles()
	writeState(w, s)
}

// resetTiles：图层选择变化后允许重新拉取此前失败的瓦片
func (h *Handler) resetTiles() {
	if h.Proxy != nil {
		h.Proxy.Reset()
	}
}

func (h *Handler) getTile(w http.ResponseWriter, r *http.Request, s *session.Session) {
	if h.Proxy == nil {
		writeError(w, http.StatusNotFound, "tile proxy disabled")
		return
	}
	z, okZ := pathInt(r, "z")
	x, okX := pathInt(r, "x")
	y, okY := pathInt(r, "y")
	if !okZ || !okX || !okY || z < 0 || x < 0 || y < 0 {
		writeError(w, http.StatusBadRequest, "invalid tile coordinates")
		return
	}
	layerID := r.PathValue("layer")
	src, err := s.TileSource(layerID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if !s.TileInRange(layerID, z, x, y) {
		writeError(w, http.StatusNotFound, "tile out of range")
		return
	}
	t, err := h.Proxy.Fetch(r.Context(), layerID, src, z, x, y)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("content-type", t.ContentType)
	w.Header().Set("cache-control", "public, max-age=3600")
	_, _ = w.Write(t.Data)
}

// postUpload：multipart 字段 file；读取失败与空 shapefile 返回 422，快照同时带上错误
func (h *Handler) postUpload(w http.ResponseWriter, r *http.Request, s *session.Session) {
	if h.UploadMax > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.UploadMax)
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read file: "+err.Error())
		return
	}
	if err := s.Upload(hdr.Filename, hdr.Header.Get("content-type"), data); err != nil {
		if errors.Is(err, session.ErrClosed) {
			sessionError(w, err, http.StatusGone)
			return
		}
		writeJSON(w, http.StatusUnprocessableEntity, s.Snapshot())
		return
	}
	writeState(w, s)
}

func (h *Handler) getExportGeoJSON(w http.ResponseWriter, r *http.Request, s *session.Session) {
	h.writeDownload(w, s, s.ExportGeoJSON)
}

func (h *Handler) getExportShapefile(w http.ResponseWriter, r *http.Request, s *session.Session) {
	h.writeDownload(w, s, s.ExportShapefile)
}

func (h *Handler) writeDownload(w http.ResponseWriter, s *session.Session, export func() (*session.Download, error)) {
	dl, err := export()
	if err != nil {
		sessionError(w, err, http.StatusUnprocessableEntity)
		return
	}
	w.Header().Set("content-type", dl.ContentType)
	w.Header().Set("content-disposition", `attachment; filename="`+dl.Name+`"`)
	w.Header().Set("cache-control", "no-store")
	_, _ = w.Write(dl.Data)
}
