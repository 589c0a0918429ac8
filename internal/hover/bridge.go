package hover

import (
	"sync"

	"mapedit/internal/layer"
)

// Bridge：缓存当前文本的范围表，把光标偏移翻译为要素键并发布
// 约束：只有键发生变化时才通知订阅者；nil 表示无键
type Bridge struct {
	mu        sync.Mutex
	ranges    []Range
	key       *string
	listeners []func(*string)
}

func NewBridge() *Bridge { return &Bridge{} }

// SetText：显示文本变化时重建范围表
func (b *Bridge) SetText(text string) {
	rs := ScanRanges(text)
	b.mu.Lock()
	b.ranges = rs
	b.mu.Unlock()
}

func (b *Bridge) Ranges() []Range {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Range, len(b.ranges))
	copy(out, b.ranges)
	return out
}

func (b *Bridge) Subscribe(fn func(*string)) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// SetOffset：光标悬停到偏移处
func (b *Bridge) SetOffset(offset int) *string {
	b.mu.Lock()
	k := Lookup(b.ranges, offset)
	b.mu.Unlock()
	b.set(k)
	return k
}

// Leave：光标离开编辑器
func (b *Bridge) Leave() {
	b.set(nil)
}

func (b *Bridge) Key() *string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.key
}

func (b *Bridge) set(k *string) {
	b.mu.Lock()
	if sameKey(b.key, k) {
		b.mu.Unlock()
		return
	}
	b.key = k
	ls := append([]func(*string){}, b.listeners...)
	b.mu.Unlock()
	for _, fn := range ls {
		fn(k)
	}
}

func sameKey(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// KeyFinder：按几何侧键查找要素（由同步引擎实现）
type KeyFinder interface {
	FindByKey(key string) *layer.Feature
}

// Highlight：高亮覆盖层；只放匹配要素的克隆，不影响主图层
type Highlight struct {
	finder  KeyFinder
	overlay *layer.Layer
}

func NewHighlight(finder KeyFinder) *Highlight {
	return &Highlight{finder: finder, overlay: layer.New()}
}

// Apply：清空覆盖层；键非空且找到匹配要素时放入其克隆
func (h *Highlight) Apply(key *string) {
	h.overlay.Clear()
	if key == nil || *key == "" {
		return
	}
	f := h.finder.FindByKey(*key)
	if f == nil {
		return
	}
	h.overlay.Add(f.Clone())
}

func (h *Highlight) Features() []*layer.Feature { return h.overlay.Features() }
