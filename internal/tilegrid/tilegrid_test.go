package tilegrid

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"

	"mapedit/internal/geotext"
)

// fixedGrid：固定 32x32 网格，用于校验顺序与镜像
type fixedGrid struct {
	finite bool
}

func (fixedGrid) MinZoom() int { return 0 }
func (fixedGrid) MaxZoom() int { return 10 }

func (g fixedGrid) FullTileRange(z int) (TileRange, bool) {
	if !g.finite {
		return TileRange{}, false
	}
	return TileRange{MinX: 0, MaxX: 31, MinY: 0, MaxY: 31}, true
}

func (fixedGrid) TileCoordCenter(z, x, y int) orb.Point {
	return orb.Point{float64(x) + 0.5, -(float64(y) + 0.5)}
}

func (fixedGrid) TileCoordExtent(z, x, y int) orb.Bound {
	return orb.Bound{Min: orb.Point{float64(x), -float64(y + 1)}, Max: orb.Point{float64(x + 1), -float64(y)}}
}

func (fixedGrid) Resolution(z int) float64 { return 1 / math.Pow(2, float64(z)) }

func (fixedGrid) TileRangeForExtent(z int, b orb.Bound) TileRange {
	return TileRange{MinX: 0, MaxX: 1, MinY: 0, MaxY: 1}
}

func TestResolve(t *testing.T) {
	g := fixedGrid{finite: true}
	tests := []struct {
		name    string
		grid    Grid
		req     Request
		msg     string
		kind    error
		centerY float64
	}{
		{"valid xyz", g, Request{Z: 5, X: 3, Y: 2, Mode: ModeXYZ}, "", nil, -2.5},
		{"tms mirrors row", g, Request{Z: 5, X: 3, Y: 2, Mode: ModeTMS}, "", nil, -29.5},
		{"no grid", nil, Request{Z: 5}, "No tiled layer is active.", ErrNoGrid, 0},
		{"zoom range", g, Request{Z: 15, X: 0, Y: 0}, "Zoom must be between 0 and 10.", ErrZoomRange, 0},
		{"zoom checked before sign", g, Request{Z: 11, X: -1, Y: 0}, "Zoom must be between 0 and 10.", ErrZoomRange, 0},
		{"negative x", g, Request{Z: 5, X: -1, Y: 0}, "Tile coordinates must be non-negative.", ErrNegative, 0},
		{"out of range", g, Request{Z: 5, X: 32, Y: 0}, "Tile is outside range x:0-31, y:0-31 at z 5.", ErrOutOfRange, 0},
		{"tms out of range", g, Request{Z: 5, X: 0, Y: 40, Mode: ModeTMS}, "Tile is outside range x:0-31, y:0-31 at z 5.", ErrOutOfRange, 0},
		{"fallback range", fixedGrid{}, Request{Z: 3, X: 8, Y: 0}, "Tile is outside range x:0-7, y:0-7 at z 3.", ErrOutOfRange, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := Resolve(tt.grid, tt.req)
			if tt.kind != nil {
				if !errors.Is(err, tt.kind) || err.Error() != tt.msg {
					t.Fatalf("err = %v want %q", err, tt.msg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if target.Center[1] != tt.centerY || target.Center[0] != 3.5 {
				t.Fatalf("center = %v", target.Center)
			}
			if target.Resolution != 1.0/32 || target.Duration != JumpDuration {
				t.Fatalf("target = %+v", target)
			}
		})
	}
}

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest(" 5", "3", "2.0", "TMS")
	if err != nil || req != (Request{Z: 5, X: 3, Y: 2, Mode: ModeTMS}) {
		t.Fatalf("got %+v %v", req, err)
	}
	for _, in := range [][3]string{{"", "1", "1"}, {"1.5", "1", "1"}, {"a", "1", "1"}, {"1", "1", "Infinity"}} {
		if _, err := ParseRequest(in[0], in[1], in[2], ""); !errors.Is(err, ErrNotInteger) {
			t.Fatalf("ParseRequest(%v) err = %v", in, err)
		}
	}
	if req, _ := ParseRequest("1", "1", "1", "bogus"); req.Mode != ModeXYZ {
		t.Fatalf("mode = %s", req.Mode)
	}
}

func TestHugeIntegersReportRange(t *testing.T) {
	g := fixedGrid{finite: true}
	tests := []struct {
		name    string
		z, x, y string
		kind    error
	}{
		{"huge zoom", "99999999999", "0", "0", ErrZoomRange},
		{"huge column", "5", "1e12", "0", ErrOutOfRange},
		{"huge negative row", "5", "0", "-99999999999", ErrNegative},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRequest(tt.z, tt.x, tt.y, "")
			if err != nil {
				t.Fatalf("parse err = %v", err)
			}
			if _, err := Resolve(g, req); !errors.Is(err, tt.kind) {
				t.Fatalf("err = %v want %v", err, tt.kind)
			}
		})
	}
}

func TestInGrid(t *testing.T) {
	g := fixedGrid{finite: true}
	tests := []struct {
		name    string
		grid    Grid
		z, x, y int
		want    bool
	}{
		{"inside", g, 5, 31, 31, true},
		{"column past range", g, 5, 32, 0, false},
		{"negative row", g, 5, 0, -1, false},
		{"zoom past max", g, 11, 0, 0, false},
		{"fallback range", fixedGrid{}, 3, 7, 8, false},
		{"no grid", nil, 40, 1 << 20, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InGrid(tt.grid, tt.z, tt.x, tt.y); got != tt.want {
				t.Fatalf("InGrid = %v want %v", got, tt.want)
			}
		})
	}
}

func TestXYZGrid(t *testing.T) {
	g := NewXYZ(geotext.WebMercator, 0, 19)
	c := g.TileCoordCenter(1, 0, 0)
	half := math.Pi * 6378137
	if math.Abs(c[0]+half/2) > 1e-3 || math.Abs(c[1]-half/2) > 1e-3 {
		t.Fatalf("center = %v", c)
	}
	if r := g.Resolution(0); math.Abs(r-156543.03392804097) > 1e-6 {
		t.Fatalf("resolution = %v", r)
	}
	r := g.TileRangeForExtent(2, orb.Bound{Min: orb.Point{-1, -1}, Max: orb.Point{1, 1}})
	if r != (TileRange{MinX: 1, MaxX: 2, MinY: 1, MaxY: 2}) {
		t.Fatalf("range = %+v", r)
	}
	target, err := Resolve(g, Request{Z: 5, X: 3, Y: 2, Mode: ModeTMS})
	if err != nil {
		t.Fatal(err)
	}
	want := g.TileCoordCenter(5, 3, 29)
	if target.Center != want {
		t.Fatalf("tms center = %v want %v", target.Center, want)
	}
}

func TestDebugLabels(t *testing.T) {
	g := fixedGrid{finite: true}
	if got := Label(g, 5, 3, 2); got != "z:5 x:3 y:2 -y:29" {
		t.Fatalf("label = %q", got)
	}
	tiles := Debug(g, orb.Bound{Max: orb.Point{1, 1}}, 1.0/32)
	if len(tiles) != 4 || tiles[0].Z != 5 {
		t.Fatalf("tiles = %+v", tiles)
	}
	fs := DebugFeatures(tiles)
	if fs[3].Get("label") != "z:5 x:1 y:1 -y:30" {
		t.Fatalf("label prop = %v", fs[3].Get("label"))
	}
	if Debug(nil, orb.Bound{}, 1) != nil {
		t.Fatal("nil grid should give no tiles")
	}
}
