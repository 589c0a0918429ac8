package urlstate

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	MapDebounce = 200 * time.Millisecond
	GeoDebounce = 400 * time.Millisecond
)

// Timer：可取消的定时器
type Timer interface {
	Stop() bool
}

// AfterFunc：定时器工厂，测试中注入手动时钟
type AfterFunc func(d time.Duration, fn func()) Timer

func realAfter(d time.Duration, fn func()) Timer { return time.AfterFunc(d, fn) }

// Debouncer：窗口期内的新触发会取消上一个尚未执行的回调
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	after AfterFunc
	timer Timer
	gen   uint64
}

func NewDebouncer(delay time.Duration, after AfterFunc) *Debouncer {
	if after == nil {
		after = realAfter
	}
	return &Debouncer{delay: delay, after: after}
}

func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.after(d.delay, func() {
		d.mu.Lock()
		live := gen == d.gen
		if live {
			d.timer = nil
		}
		d.mu.Unlock()
		// Stop 与到期竞争时，以代号判断是否已被取代
		if live {
			fn()
		}
	})
}

func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}

// 文档注释：地址栏写回策略
// 约束：
// - map：用户首次移动（滚轮、拖拽、缩放按钮、瓦片跳转）之前不写；由 URL 恢复视图期间的 moveend 跳过；200ms 防抖
// - geo：用户首次编辑（输入、粘贴、上传、绘制、修改、删除）之前不写；空白文本立即删除参数；其余 400ms 防抖，非法 JSON 不写
type Writer struct {
	mu         sync.Mutex
	query      string
	userMoved  bool
	restoring  bool
	userEdited bool
	mapDeb     *Debouncer
	geoDeb     *Debouncer
	listeners  []func(string)
	log        *slog.Logger
}

func NewWriter(initialQuery string, after AfterFunc, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{
		query:  strings.TrimPrefix(initialQuery, "?"),
		mapDeb: NewDebouncer(MapDebounce, after),
		geoDeb: NewDebouncer(GeoDebounce, after),
		log:    log,
	}
}

// Query：当前地址栏查询串（不含 '?'）
func (w *Writer) Query() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.query
}

// OnWrite：订阅写回
func (w *Writer) OnWrite(fn func(query string)) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

func (w *Writer) MarkUserMoved() {
	w.mu.Lock()
	w.userMoved = true
	w.mu.Unlock()
}

func (w *Writer) MarkUserEdited() {
	w.mu.Lock()
	w.userEdited = true
	w.mu.Unlock()
}

// RestoreFromURL：在 apply 中按 map 参数恢复视图；apply 期间同步产生的 moveend 不写回
// 约束：apply 返回后跳过标记立即清除，恢复未产生 moveend 时不会吞掉之后的移动
func (w *Writer) RestoreFromURL(apply func()) {
	w.mu.Lock()
	w.restoring = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.restoring = false
		w.mu.Unlock()
	}()
	apply()
}

// MoveEnd：相机停止；user 为 true 时先标记用户移动
func (w *Writer) MoveEnd(m MapView, user bool) {
	w.mu.Lock()
	if user {
		w.userMoved = true
	}
	if w.restoring {
		w.mu.Unlock()
		return
	}
	moved := w.userMoved
	w.mu.Unlock()
	if !moved {
		return
	}
	value := FormatMapParam(m)
	w.mapDeb.Trigger(func() {
		w.write(Update{Map: Set(value)})
	})
}

// TextChanged：显示文本变化
func (w *Writer) TextChanged(text string) {
	w.mu.Lock()
	edited := w.userEdited
	w.mu.Unlock()
	if !edited {
		return
	}
	if strings.TrimSpace(text) == "" {
		w.geoDeb.Cancel()
		w.write(Update{Geo: Remove()})
		return
	}
	w.geoDeb.Trigger(func() {
		enc, err := EncodeGeo(text)
		if err != nil {
			w.log.Debug("url_geo_skip_invalid")
			return
		}
		w.write(Update{Geo: Set(enc)})
	})
}

// Stop：取消所有待写回
func (w *Writer) Stop() {
	w.mapDeb.Cancel()
	w.geoDeb.Cancel()
}

func (w *Writer) write(u Update) {
	w.mu.Lock()
	next := Apply(w.query, u)
	changed := next != w.query
	w.query = next
	ls := append([]func(string){}, w.listeners...)
	w.mu.Unlock()
	if !changed {
		return
	}
	for _, fn := range ls {
		fn(next)
	}
}
