package mapview

import (
	"math"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"mapedit/internal/geotext"
)

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestNewDefaults(t *testing.T) {
	v := New(geotext.WebMercator, 0)
	if !almost(v.Zoom(), 2) || v.Center() != (orb.Point{}) {
		t.Fatalf("zoom=%v center=%v", v.Zoom(), v.Center())
	}
	if v.MaxZoom() != DefaultMaxZoom {
		t.Fatalf("max zoom = %v", v.MaxZoom())
	}
	if !almost(v.ResolutionForZoom(0), 156543.03392804097) {
		t.Fatalf("max resolution = %v", v.ResolutionForZoom(0))
	}
	g := New(geotext.Geographic, 18)
	if !almost(g.ResolutionForZoom(0), 1.40625) {
		t.Fatalf("geographic max resolution = %v", g.ResolutionForZoom(0))
	}
}

func TestZoomByClamps(t *testing.T) {
	v := New(geotext.WebMercator, 20)
	v.Set(orb.Point{1, 2}, 19.5, false)
	a := v.ZoomBy(1, 200*time.Millisecond)
	if !almost(a.Zoom, 20) || a.DurationMs != 200 {
		t.Fatalf("zoom in: %+v", a)
	}
	v.Set(orb.Point{}, 0.5, false)
	a = v.ZoomBy(-1, 200*time.Millisecond)
	if !almost(a.Zoom, 0) {
		t.Fatalf("zoom out: %+v", a)
	}
	if a.Center != (orb.Point{}) {
		t.Fatalf("center moved: %v", a.Center)
	}
}

func TestFit(t *testing.T) {
	v := New(geotext.WebMercator, 20)
	v.SetSize(1080, 880)
	b := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1000, 400}}
	a, ok := v.Fit(b, Padding{40, 40, 40, 40}, 300*time.Millisecond)
	if !ok {
		t.Fatal("fit skipped")
	}
	if a.Center != (orb.Point{500, 200}) {
		t.Fatalf("center = %v", a.Center)
	}
	if !almost(a.Resolution, 1) {
		t.Fatalf("resolution = %v", a.Resolution)
	}
	if a.DurationMs != 300 {
		t.Fatalf("duration = %v", a.DurationMs)
	}
	if last := v.LastAnimation(); last == nil || last.Center != a.Center {
		t.Fatalf("last animation = %+v", last)
	}
}

func TestFitPointUsesMaxZoom(t *testing.T) {
	v := New(geotext.WebMercator, 18)
	a, ok := v.Fit(orb.Point{5, 5}.Bound(), Padding{40, 40, 40, 40}, 0)
	if !ok || !almost(a.Zoom, 18) {
		t.Fatalf("fit point: %+v ok=%v", a, ok)
	}
}

func TestFitEmpty(t *testing.T) {
	v := New(geotext.WebMercator, 20)
	if _, ok := v.Fit(orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{0, 0}}, Padding{}, 0); ok {
		t.Fatal("empty bound should be ignored")
	}
}

func TestMoveEndListeners(t *testing.T) {
	v := New(geotext.WebMercator, 20)
	var got []MoveEnd
	v.OnMoveEnd(func(ev MoveEnd) { got = append(got, ev) })
	v.Set(orb.Point{3, 4}, 5, false)
	v.ZoomBy(1, 0)
	if len(got) != 2 || got[0].User || !got[1].User || !almost(got[1].Zoom, 6) {
		t.Fatalf("events = %+v", got)
	}
}

func TestExtent(t *testing.T) {
	v := New(geotext.WebMercator, 20)
	v.SetSize(100, 50)
	v.Animate(Animation{Center: orb.Point{0, 0}, Resolution: v.ResolutionForZoom(3)}, false)
	r := v.Resolution()
	e := v.Extent()
	if !almost(e.Max[0], 50*r) || !almost(e.Min[1], -25*r) {
		t.Fatalf("extent = %v", e)
	}
}
