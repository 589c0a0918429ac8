// 包 syncengine：几何图层与 GeoJSON 文本之间的双向同步
// 背景：编辑器文本与地图图层互为数据源，任一侧变化都要反映到另一侧，且不能形成回环
// 约束：
// - 引擎产生的每个文本都带单调递增的修订号；携带当前修订号且内容与该文本一致的变更视为回声并忽略
// - 悬停键保存在引擎自有的旁路表中，不进入要素属性，导出无需剥离
// - 非法文本只设置错误，不触碰图层
package syncengine

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"mapedit/internal/featurekey"
	"mapedit/internal/geotext"
	"mapedit/internal/layer"
	"mapedit/internal/mapview"
	"mapedit/internal/metrics"
)

const (
	ErrTextInvalid = "Invalid GeoJSON"

	FitDuration = 300 * time.Millisecond
)

var FitPadding = mapview.Padding{40, 40, 40, 40}

var errInvalidText = errors.New(ErrTextInvalid)

// TextChange：编辑器侧的一次文本变更；Revision 为前端回传的引擎修订号，用户输入时为 0
type TextChange struct {
	Text     string
	Revision uint64
}

type Options struct {
	Fit bool
}

type Origin int

const (
	OriginEditor Origin = iota
	OriginEngine
)

// Update：显示文本变化通知
type Update struct {
	Text     string
	Revision uint64
	Error    string
	Origin   Origin
}

// Engine：同步引擎
// 约束：非并发安全，由会话串行调用
type Engine struct {
	layer *layer.Layer
	view  *mapview.View
	proj  geotext.Projection
	log   *slog.Logger

	revision uint64
	lastText string
	text     string
	err      string
	keys     map[*layer.Feature]string

	listeners []func(Update)
	unsub     func()
}

// New：创建引擎并立即执行一次几何→文本序列化（空图层得到空集合文本）
// view 可为 nil（离线工具），此时 Fit 被忽略
func New(l *layer.Layer, v *mapview.View, proj geotext.Projection, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{layer: l, view: v, proj: proj, log: log, keys: map[*layer.Feature]string{}}
	e.unsub = l.Subscribe(e.onGeometryChanged)
	e.serialize()
	return e
}

// Close：取消图层订阅
func (e *Engine) Close() {
	if e.unsub != nil {
		e.unsub()
		e.unsub = nil
	}
}

// OnText：订阅显示文本变化
func (e *Engine) OnText(fn func(Update)) {
	e.listeners = append(e.listeners, fn)
}

func (e *Engine) Text() string { return e.text }
func (e *Engine) Error() string { return e.err }
func (e *Engine) Revision() uint64 { return e.revision }
func (e *Engine) LastSynced() string { return e.lastText }

// Key：要素的悬停键
func (e *Engine) Key(f *layer.Feature) (string, bool) {
	k, ok := e.keys[f]
	return k, ok
}

// FindByKey：按悬停键查找第一个匹配要素
func (e *Engine) FindByKey(key string) *layer.Feature {
	for _, f := range e.layer.Features() {
		if e.keys[f] == key {
			return f
		}
	}
	return nil
}

// 文档注释：处理编辑器文本变更
// 约束：
// - 回声（与上次引擎文本相同，或修订号匹配且仅空白不同）直接返回
// - 空白文本清空图层并清除错误
// - 解析失败设置 "Invalid GeoJSON"，图层保持不变
// - 成功时整体替换图层（单次 replace 事件），按需适配视图
func (e *Engine) OnTextChanged(ch TextChange, opts Options) error {
	if e.IsEcho(ch) {
		metrics.SyncTotal.WithLabelValues("echo").Inc()
		// 回到上次引擎文本：图层本就一致，只需撤销先前的解析错误
		if e.err != "" {
			e.err = ""
			e.text = e.lastText
			e.publish(OriginEditor, 0)
		}
		return nil
	}
	e.text = ch.Text
	if strings.TrimSpace(ch.Text) == "" {
		e.err = ""
		e.lastText = ""
		e.publish(OriginEditor, 0)
		e.layer.Clear()
		return nil
	}
	v, err := geotext.Decode(ch.Text)
	var fs []*layer.Feature
	if err == nil {
		fs, err = geotext.ReadFeatures(v, e.proj)
	}
	if err != nil {
		e.err = ErrTextInvalid
		metrics.ParseErrorsTotal.WithLabelValues("editor").Inc()
		e.log.Debug("sync_text_invalid", "err", err)
		e.publish(OriginEditor, 0)
		return errInvalidText
	}
	e.err = ""
	e.publish(OriginEditor, 0)

	keys := featurekey.ListFromGeoJSON(v)
	pre := make(map[*layer.Feature]string, len(fs))
	if len(keys) == len(fs) {
		for i, f := range fs {
			pre[f] = keys[i]
		}
	} else {
		// 数量不一致时退化为几何侧位置键
		for i, f := range fs {
			pre[f] = featurekey.FromFeature(f, i)
		}
	}
	e.keys = pre
	metrics.SyncTotal.WithLabelValues("text_to_geometry").Inc()
	e.layer.Replace(fs)

	if opts.Fit && e.view != nil {
		if b, ok := e.layer.Extent(); ok {
			e.view.Fit(b, FitPadding, FitDuration)
		}
	}
	return nil
}

// Fail：设置外部来源的错误（如地址栏 geo 参数无法解码）；图层与文本不变，下一次有效编辑清除
func (e *Engine) Fail(msg string) {
	e.err = msg
	e.publish(OriginEditor, 0)
}

// IsEcho：文本与上次引擎文本相同即为回声；携带当前修订号时再放宽到仅空白不同（紧凑形式相同）
// 修订号不匹配或内容不同的变更一律按编辑处理
func (e *Engine) IsEcho(ch TextChange) bool {
	if ch.Text == e.lastText {
		return true
	}
	if ch.Revision == 0 || ch.Revision != e.revision || e.lastText == "" {
		return false
	}
	a, err := geotext.Minify(ch.Text)
	if err != nil {
		return false
	}
	b, err := geotext.Minify(e.lastText)
	return err == nil && a == b
}

// 图层清空来自空白文本，编辑器已为空，不回写集合文本
func (e *Engine) onGeometryChanged(c layer.Change) {
	if c.Kind == layer.ChangeClear {
		return
	}
	e.serialize()
}

// serialize：几何→文本；重算全部悬停键，写出规范文本并打上新修订号
func (e *Engine) serialize() {
	fs := e.layer.Features()
	keys := make(map[*layer.Feature]string, len(fs))
	for i, f := range fs {
		keys[f] = featurekey.FromFeature(f, i)
	}
	e.keys = keys
	text, err := geotext.WriteFeatures(fs, e.proj)
	if err != nil {
		e.log.Error("sync_serialize_error", "err", err)
		return
	}
	e.revision++
	e.lastText = text
	e.text = text
	e.err = ""
	metrics.SyncTotal.WithLabelValues("geometry_to_text").Inc()
	e.publish(OriginEngine, e.revision)
}

func (e *Engine) publish(o Origin, rev uint64) {
	u := Update{Text: e.text, Revision: rev, Error: e.err, Origin: o}
	for _, fn := range e.listeners {
		fn(u)
	}
}
