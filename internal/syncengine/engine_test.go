package syncengine

import (
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"mapedit/internal/geotext"
	"mapedit/internal/layer"
	"mapedit/internal/logger"
	"mapedit/internal/mapview"
)

type harness struct {
	layer   *layer.Layer
	view    *mapview.View
	engine  *Engine
	updates []Update
	events  []layer.Change
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{layer: layer.New(), view: mapview.New(geotext.WebMercator, 20)}
	h.engine = New(h.layer, h.view, geotext.WebMercator, logger.Discard())
	h.engine.OnText(func(u Update) { h.updates = append(h.updates, u) })
	h.layer.Subscribe(func(c layer.Change) { h.events = append(h.events, c) })
	return h
}

func (h *harness) engineUpdates() []Update {
	var out []Update
	for _, u := range h.updates {
		if u.Origin == OriginEngine {
			out = append(out, u)
		}
	}
	return out
}

func TestInitialSerialization(t *testing.T) {
	h := newHarness(t)
	if h.engine.Revision() != 1 {
		t.Fatalf("revision = %d", h.engine.Revision())
	}
	if !strings.Contains(h.engine.Text(), `"features": []`) {
		t.Fatalf("text = %s", h.engine.Text())
	}
}

func TestAddThenEchoIsSuppressed(t *testing.T) {
	h := newHarness(t)
	h.layer.Add(layer.NewFeature(orb.Point{0, 0}, nil))
	ups := h.engineUpdates()
	if len(ups) != 1 {
		t.Fatalf("text updates = %d want 1", len(ups))
	}
	h.events = nil
	text := ups[0].Text

	if err := h.engine.OnTextChanged(TextChange{Text: text}, Options{}); err != nil {
		t.Fatal(err)
	}
	if err := h.engine.OnTextChanged(TextChange{Text: text, Revision: ups[0].Revision}, Options{}); err != nil {
		t.Fatal(err)
	}
	if len(h.events) != 0 {
		t.Fatalf("geometry updates = %d want 0", len(h.events))
	}
	if len(h.engineUpdates()) != 1 {
		t.Fatalf("extra re-serialization")
	}
}

func TestRevisionEchoIgnoresWhitespace(t *testing.T) {
	h := newHarness(t)
	h.layer.Add(layer.NewFeature(orb.Point{0, 0}, nil))
	rev := h.engine.Revision()
	h.events = nil
	// 前端回传当前修订号，内容只差空白时不重建
	if err := h.engine.OnTextChanged(TextChange{Text: h.engine.Text() + "\n", Revision: rev}, Options{}); err != nil {
		t.Fatal(err)
	}
	if len(h.events) != 0 {
		t.Fatalf("geometry updates = %d", len(h.events))
	}
	// 没有修订号时只认完全相同的文本
	if err := h.engine.OnTextChanged(TextChange{Text: h.engine.Text() + "\n"}, Options{}); err != nil {
		t.Fatal(err)
	}
	if len(h.events) != 1 {
		t.Fatalf("geometry updates = %d want 1", len(h.events))
	}
}

func TestCurrentRevisionWithNewTextIsApplied(t *testing.T) {
	tests := []struct {
		name string
		text string
		len  int
		err  string
	}{
		{"new geometry", `{"type":"Point","coordinates":[1,2]}`, 1, ""},
		{"invalid text", `{"type":`, 0, ErrTextInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			rev := h.engine.Revision()
			_ = h.engine.OnTextChanged(TextChange{Text: tt.text, Revision: rev}, Options{})
			if h.layer.Len() != tt.len || h.engine.Error() != tt.err {
				t.Fatalf("len=%d err=%q", h.layer.Len(), h.engine.Error())
			}
			if tt.err == "" && !strings.Contains(h.engine.Text(), `"Point"`) {
				t.Fatalf("text = %s", h.engine.Text())
			}
		})
	}
}

func TestAltitudeSurvivesReserialization(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.OnTextChanged(TextChange{Text: `{"type":"Point","coordinates":[10,20,300]}`}, Options{}); err != nil {
		t.Fatal(err)
	}
	v, err := geotext.Decode(h.engine.Text())
	if err != nil {
		t.Fatal(err)
	}
	coords := geotext.Normalize(v).Features[0]["geometry"].(map[string]any)["coordinates"].([]any)
	if len(coords) != 3 || coords[2] != 300.0 {
		t.Fatalf("coordinates = %v", coords)
	}
}

func TestTextRebuildIsAtomic(t *testing.T) {
	h := newHarness(t)
	text := `{"type":"FeatureCollection","features":[
		{"type":"Feature","id":"a","geometry":{"type":"Point","coordinates":[1,1]},"properties":{}},
		{"type":"Feature","geometry":{"type":"Point","coordinates":[2,2]},"properties":{"id":"b"}},
		{"type":"Feature","geometry":{"type":"Point","coordinates":[3,3]},"properties":null}
	]}`
	before := len(h.engineUpdates())
	if err := h.engine.OnTextChanged(TextChange{Text: text}, Options{Fit: true}); err != nil {
		t.Fatal(err)
	}
	if len(h.events) != 1 || h.events[0].Kind != layer.ChangeReplace {
		t.Fatalf("events = %+v", h.events)
	}
	if got := len(h.engineUpdates()) - before; got != 1 {
		t.Fatalf("re-serializations = %d", got)
	}
	fs := h.layer.Features()
	for i, want := range []string{"a", "b", "2"} {
		if k, _ := h.engine.Key(fs[i]); k != want {
			t.Fatalf("key %d = %q want %q", i, k, want)
		}
		if _, ok := fs[i].Properties["__editorHoverKey"]; ok {
			t.Fatal("hover key leaked into properties")
		}
	}
	if h.view.LastAnimation() == nil || h.view.LastAnimation().DurationMs != 300 {
		t.Fatalf("fit not applied: %+v", h.view.LastAnimation())
	}
	if strings.Contains(h.engine.Text(), "null") {
		t.Fatalf("canonical text has null: %s", h.engine.Text())
	}
}

func TestInvalidTextKeepsGeometry(t *testing.T) {
	h := newHarness(t)
	h.layer.Add(layer.NewFeature(orb.Point{0, 0}, nil))
	h.events = nil
	err := h.engine.OnTextChanged(TextChange{Text: `{"type":`}, Options{})
	if err == nil || h.engine.Error() != ErrTextInvalid {
		t.Fatalf("err=%v state=%q", err, h.engine.Error())
	}
	if h.layer.Len() != 1 || len(h.events) != 0 {
		t.Fatalf("geometry touched: len=%d events=%d", h.layer.Len(), len(h.events))
	}
	if h.engine.Text() != `{"type":` {
		t.Fatalf("displayed text = %q", h.engine.Text())
	}
	// 修正后错误清除
	if err := h.engine.OnTextChanged(TextChange{Text: `{"type":"Point","coordinates":[5,5]}`}, Options{}); err != nil {
		t.Fatal(err)
	}
	if h.engine.Error() != "" || h.layer.Len() != 1 {
		t.Fatalf("state after fix: err=%q len=%d", h.engine.Error(), h.layer.Len())
	}
}

func TestBlankTextClears(t *testing.T) {
	h := newHarness(t)
	h.layer.Add(layer.NewFeature(orb.Point{0, 0}, nil))
	_ = h.engine.OnTextChanged(TextChange{Text: "{"}, Options{})
	before := len(h.engineUpdates())
	if err := h.engine.OnTextChanged(TextChange{Text: "  "}, Options{}); err != nil {
		t.Fatal(err)
	}
	if h.layer.Len() != 0 || h.engine.Error() != "" {
		t.Fatalf("len=%d err=%q", h.layer.Len(), h.engine.Error())
	}
	if len(h.engineUpdates()) != before {
		t.Fatal("clear must not re-serialize")
	}
	if h.engine.Text() != "  " {
		t.Fatalf("displayed text = %q", h.engine.Text())
	}
}

func TestModifyAndRemoveReserialize(t *testing.T) {
	h := newHarness(t)
	f := layer.NewFeature(orb.Point{0, 0}, map[string]any{"id": "p"})
	h.layer.Add(f)
	h.layer.Modify(f, orb.Point{100000, 0})
	if !strings.Contains(h.engine.Text(), `"id": "p"`) {
		t.Fatalf("text = %s", h.engine.Text())
	}
	if k, _ := h.engine.Key(f); k != "p" {
		t.Fatalf("key = %q", k)
	}
	h.layer.Remove(f)
	if len(h.engineUpdates()) != 3 {
		t.Fatalf("updates = %d", len(h.engineUpdates()))
	}
	if h.engine.FindByKey("p") != nil {
		t.Fatal("removed feature still keyed")
	}
}

func TestKeyCountMismatchFallsBack(t *testing.T) {
	h := newHarness(t)
	// 单个 Feature 无法从文本推导键列表，退化为几何侧键
	if err := h.engine.OnTextChanged(TextChange{Text: `{"type":"Feature","id":9,"geometry":{"type":"Point","coordinates":[0,0]},"properties":{}}`}, Options{}); err != nil {
		t.Fatal(err)
	}
	f := h.layer.Features()[0]
	if k, _ := h.engine.Key(f); k != "9" {
		t.Fatalf("key = %q", k)
	}
}

func TestRestoreAfterClear(t *testing.T) {
	h := newHarness(t)
	h.layer.Add(layer.NewFeature(orb.Point{0, 0}, nil))
	text := h.engine.Text()
	_ = h.engine.OnTextChanged(TextChange{Text: ""}, Options{})
	if err := h.engine.OnTextChanged(TextChange{Text: text}, Options{}); err != nil {
		t.Fatal(err)
	}
	if h.layer.Len() != 1 {
		t.Fatalf("len = %d", h.layer.Len())
	}
}

func TestTypingBackLastTextClearsError(t *testing.T) {
	h := newHarness(t)
	text := h.engine.Text()
	_ = h.engine.OnTextChanged(TextChange{Text: text + "x"}, Options{})
	if h.engine.Error() == "" {
		t.Fatal("expected error")
	}
	_ = h.engine.OnTextChanged(TextChange{Text: text}, Options{})
	if h.engine.Error() != "" || h.engine.Text() != text {
		t.Fatalf("err=%q", h.engine.Error())
	}
}
