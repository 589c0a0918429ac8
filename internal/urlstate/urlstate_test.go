package urlstate

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestBase64URLRoundTrip(t *testing.T) {
	for _, s := range []string{"", "a", "ab", "abc", "abcd", "地图 ✓ 🗺", `{"type":"Point","coordinates":[0,0]}`, "??>>~~"} {
		enc := EncodeBase64URL(s)
		if strings.ContainsAny(enc, "+/=") {
			t.Fatalf("encoding of %q not URL safe: %s", s, enc)
		}
		dec, err := DecodeBase64URL(enc)
		if err != nil || dec != s {
			t.Fatalf("round trip %q -> %q -> %q (%v)", s, enc, dec, err)
		}
	}
}

func TestDecodeBase64URLInvalid(t *testing.T) {
	if _, err := DecodeBase64URL("!!!"); err == nil {
		t.Fatal("expected error")
	}
}

func TestFormatMapParam(t *testing.T) {
	tests := []struct {
		in   MapView
		want string
	}{
		{MapView{2, 0, 0}, "2,0,0"},
		{MapView{3.5, 1234567.1234567, -89.0000001}, "3.5,1234567.123457,-89"},
		{MapView{10, -0.0000001, 1.10}, "10,0,1.1"},
	}
	for _, tt := range tests {
		if got := FormatMapParam(tt.in); got != tt.want {
			t.Fatalf("FormatMapParam(%v) = %q want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseMapParam(t *testing.T) {
	tests := []struct {
		in   string
		want MapView
		ok   bool
	}{
		{"2,10.5,-3", MapView{2, 10.5, -3}, true},
		{" 4px,1e3,.5", MapView{4, 1000, 0.5}, true},
		{"2,10", MapView{}, false},
		{"a,1,2", MapView{}, false},
		{"", MapView{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseMapParam(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("ParseMapParam(%q) = %v,%v", tt.in, got, ok)
		}
	}
}

func TestApplyOrdering(t *testing.T) {
	q := "lang=en&geo=old&x=1&map=1%2C2%2C3&x=2"
	got := Apply(q, Update{Geo: Set("new")})
	if got != "map=1%2C2%2C3&geo=new&lang=en&x=1&x=2" {
		t.Fatalf("got %s", got)
	}
	got = Apply(got, Update{Map: Remove()})
	if got != "geo=new&lang=en&x=1&x=2" {
		t.Fatalf("got %s", got)
	}
	if s := Read("?" + got); !reflect.DeepEqual(s, State{Geo: "new"}) {
		t.Fatalf("read = %+v", s)
	}
	if got := Apply("", Update{Map: Set("2,0,0")}); got != "map=2%2C0%2C0" {
		t.Fatalf("got %s", got)
	}
}

func TestGeoCodec(t *testing.T) {
	enc, err := EncodeGeo("{\n  \"type\": \"Point\",\n  \"coordinates\": [1, 2]\n}")
	if err != nil {
		t.Fatal(err)
	}
	v, err := DecodeGeo(enc)
	if err != nil {
		t.Fatal(err)
	}
	m := v.(map[string]any)
	if m["type"] != "Point" {
		t.Fatalf("decoded %v", m)
	}
	if _, err := EncodeGeo("{"); err == nil {
		t.Fatal("expected error for invalid json")
	}
	if _, err := DecodeGeo(EncodeBase64URL("not json")); err == nil {
		t.Fatal("expected error for invalid payload")
	}
}

// manualClock：手动推进的定时器，回调按到期顺序执行
type manualClock struct {
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (m *manualTimer) Stop() bool {
	live := !m.stopped && !m.fired
	m.stopped = true
	return live
}

func (c *manualClock) After(d time.Duration, fn func()) Timer {
	t := &manualTimer{at: c.now + d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Advance(d time.Duration) {
	c.now += d
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			t.fn()
		}
	}
}

func TestDebouncerCancelsPrevious(t *testing.T) {
	c := &manualClock{}
	d := NewDebouncer(200*time.Millisecond, c.After)
	var calls []int
	d.Trigger(func() { calls = append(calls, 1) })
	c.Advance(100 * time.Millisecond)
	d.Trigger(func() { calls = append(calls, 2) })
	c.Advance(150 * time.Millisecond)
	if len(calls) != 0 {
		t.Fatalf("fired early: %v", calls)
	}
	c.Advance(50 * time.Millisecond)
	if !reflect.DeepEqual(calls, []int{2}) {
		t.Fatalf("calls = %v", calls)
	}
	d.Trigger(func() { calls = append(calls, 3) })
	d.Cancel()
	c.Advance(time.Second)
	if len(calls) != 1 {
		t.Fatalf("cancelled callback ran: %v", calls)
	}
}

func TestWriterMapPolicy(t *testing.T) {
	c := &manualClock{}
	w := NewWriter("?map=3%2C1%2C2&keep=1", c.After, nil)
	var writes []string
	w.OnWrite(func(q string) { writes = append(writes, q) })

	// 初始加载与程序化移动不写回
	w.RestoreFromURL(func() { w.MoveEnd(MapView{3, 1, 2}, false) })
	w.MoveEnd(MapView{4, 1, 2}, false)
	c.Advance(time.Second)
	if len(writes) != 0 {
		t.Fatalf("unexpected writes %v", writes)
	}

	w.MoveEnd(MapView{5, 1.5, 2}, true)
	w.MoveEnd(MapView{6, 1.5, 2}, false)
	c.Advance(199 * time.Millisecond)
	if len(writes) != 0 {
		t.Fatal("debounce not respected")
	}
	c.Advance(time.Millisecond)
	if !reflect.DeepEqual(writes, []string{"map=6%2C1.5%2C2&keep=1"}) {
		t.Fatalf("writes = %v", writes)
	}
}

func TestWriterSkipsMoveDuringURLRestore(t *testing.T) {
	c := &manualClock{}
	w := NewWriter("", c.After, nil)
	w.MarkUserMoved()
	w.RestoreFromURL(func() { w.MoveEnd(MapView{1, 0, 0}, false) })
	c.Advance(time.Second)
	if w.Query() != "" {
		t.Fatalf("query = %s", w.Query())
	}
	w.MoveEnd(MapView{2, 0, 0}, false)
	c.Advance(time.Second)
	if w.Query() != "map=2%2C0%2C0" {
		t.Fatalf("query = %s", w.Query())
	}
}

func TestWriterRestoreWithoutMoveKeepsLaterMoves(t *testing.T) {
	c := &manualClock{}
	w := NewWriter("", c.After, nil)
	w.RestoreFromURL(func() {})
	w.MoveEnd(MapView{3, 1, 1}, true)
	c.Advance(time.Second)
	if w.Query() != "map=3%2C1%2C1" {
		t.Fatalf("first user move swallowed: %q", w.Query())
	}
}

func TestWriterGeoPolicy(t *testing.T) {
	c := &manualClock{}
	w := NewWriter("geo=abc", c.After, nil)
	w.TextChanged(`{"type":"Point","coordinates":[0,0]}`)
	c.Advance(time.Second)
	if w.Query() != "geo=abc" {
		t.Fatalf("wrote before user edit: %s", w.Query())
	}

	w.MarkUserEdited()
	w.TextChanged(`{"type": "Point", "coordinates": [1, 1]}`)
	w.TextChanged(`{"type": "Point", "coordinates": [2, 2]}`)
	c.Advance(399 * time.Millisecond)
	if w.Query() != "geo=abc" {
		t.Fatal("debounce not respected")
	}
	c.Advance(time.Millisecond)
	want := "geo=" + EncodeBase64URL(`{"type":"Point","coordinates":[2,2]}`)
	if w.Query() != want {
		t.Fatalf("query = %s want %s", w.Query(), want)
	}

	w.TextChanged("{ broken")
	c.Advance(time.Second)
	if w.Query() != want {
		t.Fatalf("invalid text written: %s", w.Query())
	}

	w.TextChanged(`{"type":"Point","coordinates":[3,3]}`)
	w.TextChanged("  ")
	c.Advance(time.Second)
	if w.Query() != "" {
		t.Fatalf("blank text should remove geo immediately: %s", w.Query())
	}
}
