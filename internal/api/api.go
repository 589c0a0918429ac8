// 包 api：集中注册 HTTP API 路由以解耦主入口，便于后续扩展与替换
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"mapedit/internal/logger"
	"mapedit/internal/session"
	"mapedit/internal/wmts"
)

// 文档注释：路由依赖
// 背景：会话依赖（图层能力文档、IP 定位等）随请求构建，由主入口注入，api 不感知配置来源
// 约束：Proxy 为空时瓦片代理路由返回 404；UploadMax 非正时不限制上传体积
type Handler struct {
	Sessions   *session.Store
	NewSession func(r *http.Request) session.Deps
	Proxy      *wmts.TileProxy
	UploadMax  int64
	Log        *slog.Logger
}

// 构建并返回 API 路由：独立 ServeMux 便于在主入口挂载到 /api 前缀
func BuildRoutes(h *Handler) *http.ServeMux {
	if h.Log == nil {
		h.Log = logger.L()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", h.createSession)
	mux.HandleFunc("GET /sessions/{id}", h.withSession(h.getSession))
	mux.HandleFunc("DELETE /sessions/{id}", h.deleteSession)

	mux.HandleFunc("POST /sessions/{id}/text", h.withSession(h.postText))
	mux.HandleFunc("POST /sessions/{id}/hover", h.withSession(h.postHover))
	mux.HandleFunc("PUT /sessions/{id}/draw-mode", h.withSession(h.putDrawMode))
	mux.HandleFunc("POST /sessions/{id}/draw", h.withSession(h.postDraw))
	mux.HandleFunc("PUT /sessions/{id}/features/{index}/geometry", h.withSession(h.putGeometry))
	mux.HandleFunc("DELETE /sessions/{id}/features/{index}", h.withSession(h.deleteFeature))

	mux.HandleFunc("POST /sessions/{id}/view", h.withSession(h.postView))
	mux.HandleFunc("POST /sessions/{id}/zoom", h.withSession(h.postZoom))
	mux.HandleFunc("POST /sessions/{id}/tile-jump", h.withSession(h.postTileJump))
	mux.HandleFunc("PUT /sessions/{id}/tile-debug", h.withSession(h.putTileDebug))
	mux.HandleFunc("GET /sessions/{id}/debug-tiles", h.withSession(h.getDebugTiles))

	mux.HandleFunc("GET /sessions/{id}/layers", h.withSession(h.getLayers))
	mux.HandleFunc("PUT /sessions/{id}/layers", h.withSession(h.putLayers))
	mux.HandleFunc("PUT /sessions/{id}/layers/{layer}", h.withSession(h.putLayer))
	mux.HandleFunc("GET /sessions/{id}/tiles/{layer}/{z}/{x}/{y}", h.withSession(h.getTile))

	mux.HandleFunc("POST /sessions/{id}/upload", h.withSession(h.postUpload))
	mux.HandleFunc("GET /sessions/{id}/export/geojson", h.withSession(h.getExportGeoJSON))
	mux.HandleFunc("GET /sessions/{id}/export/shapefile", h.withSession(h.getExportShapefile))
	return mux
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, s *session.Session)

// withSession：按路径中的 id 取会话；不存在或已过期返回 404
func (h *Handler) withSession(fn sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := h.Sessions.Get(r.PathValue("id"))
		if !ok {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		fn(w, r, s)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeState：操作成功后返回最新快照
func writeState(w http.ResponseWriter, s *session.Session) {
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// decodeBody：请求体为 JSON；失败时已写出 400
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// 编辑器文本走 JSON 请求体，上限与上传一致的量级
const maxJSONBody = 64 << 20

// sessionError：会话在请求期间被淘汰时返回 410，其余按调用方给定状态
func sessionError(w http.ResponseWriter, err error, status int) {
	if errors.Is(err, session.ErrClosed) {
		writeError(w, http.StatusGone, err.Error())
		return
	}
	writeError(w, status, err.Error())
}

func pathInt(r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(r.PathValue(name))
	return n, err == nil
}
