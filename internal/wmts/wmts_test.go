package wmts

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/paulmach/orb"
)

const capsXML = `<?xml version="1.0" encoding="UTF-8"?>
<Capabilities xmlns="http://www.opengis.net/wmts/1.0" xmlns:ows="http://www.opengis.net/ows/1.1" xmlns:xlink="http://www.w3.org/1999/xlink" version="1.0.0">
  <ows:ServiceIdentification><ows:Title>Test WMTS</ows:Title></ows:ServiceIdentification>
  <ows:OperationsMetadata>
    <ows:Operation name="GetTile">
      <ows:DCP><ows:HTTP>
        <ows:Get xlink:href="https://kvp.example/wmts?">
          <ows:Constraint name="GetEncoding"><ows:AllowedValues><ows:Value>KVP</ows:Value></ows:AllowedValues></ows:Constraint>
        </ows:Get>
      </ows:HTTP></ows:DCP>
    </ows:Operation>
  </ows:OperationsMetadata>
  <Contents>
    <Layer>
      <ows:Title>Roads</ows:Title>
      <ows:Identifier>roads</ows:Identifier>
      <Style isDefault="true"><ows:Identifier>main</ows:Identifier></Style>
      <Format>image/png</Format>
      <TileMatrixSetLink><TileMatrixSet>google</TileMatrixSet></TileMatrixSetLink>
      <TileMatrixSetLink>
        <TileMatrixSet>wgs84</TileMatrixSet>
        <TileMatrixSetLimits>
          <TileMatrixLimits><TileMatrix>0</TileMatrix><MinTileRow>0</MinTileRow><MaxTileRow>0</MaxTileRow><MinTileCol>0</MinTileCol><MaxTileCol>1</MaxTileCol></TileMatrixLimits>
        </TileMatrixSetLimits>
      </TileMatrixSetLink>
      <ResourceURL format="image/png" resourceType="tile" template="https://rest.example/{TileMatrixSet}/{TileMatrix}/{TileRow}/{TileCol}.png"/>
    </Layer>
    <Layer>
      <ows:Identifier> </ows:Identifier>
      <TileMatrixSetLink><TileMatrixSet>google</TileMatrixSet></TileMatrixSetLink>
    </Layer>
    <Layer>
      <ows:Identifier>sat</ows:Identifier>
      <Format>image/jpeg</Format>
      <TileMatrixSetLink><TileMatrixSet>wgs84</TileMatrixSet></TileMatrixSetLink>
    </Layer>
    <TileMatrixSet>
      <ows:Identifier>google</ows:Identifier>
      <ows:SupportedCRS>urn:ogc:def:crs:EPSG::3857</ows:SupportedCRS>
      <TileMatrix>
        <ows:Identifier>0</ows:Identifier>
        <ScaleDenominator>559082264.0287178</ScaleDenominator>
        <TopLeftCorner>-20037508.3427892 20037508.3427892</TopLeftCorner>
        <TileWidth>256</TileWidth><TileHeight>256</TileHeight>
        <MatrixWidth>1</MatrixWidth><MatrixHeight>1</MatrixHeight>
      </TileMatrix>
      <TileMatrix>
        <ows:Identifier>1</ows:Identifier>
        <ScaleDenominator>279541132.0143589</ScaleDenominator>
        <TopLeftCorner>-20037508.3427892 20037508.3427892</TopLeftCorner>
        <TileWidth>256</TileWidth><TileHeight>256</TileHeight>
        <MatrixWidth>2</MatrixWidth><MatrixHeight>2</MatrixHeight>
      </TileMatrix>
    </TileMatrixSet>
    <TileMatrixSet>
      <ows:Identifier>wgs84</ows:Identifier>
      <ows:SupportedCRS>urn:ogc:def:crs:EPSG::4326</ows:SupportedCRS>
      <TileMatrix>
        <ows:Identifier>0</ows:Identifier>
        <ScaleDenominator>279541132.0143589</ScaleDenominator>
        <TopLeftCorner>90 -180</TopLeftCorner>
        <TileWidth>256</TileWidth><TileHeight>256</TileHeight>
        <MatrixWidth>2</MatrixWidth><MatrixHeight>1</MatrixHeight>
      </TileMatrix>
    </TileMatrixSet>
  </Contents>
</Capabilities>`

func mustParse(t *testing.T) *Capabilities {
	t.Helper()
	c, err := Parse([]byte(capsXML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return c
}

func TestParse(t *testing.T) {
	c := mustParse(t)
	if c.Title != "Test WMTS" || len(c.Layers) != 3 || len(c.MatrixSets) != 2 {
		t.Fatalf("caps = %+v", c)
	}
	roads := c.Layer("roads")
	if roads == nil || roads.DefaultStyle() != "main" || len(roads.Links) != 2 {
		t.Fatalf("roads = %+v", roads)
	}
	if c.GetTileKVP() != "https://kvp.example/wmts?" {
		t.Fatalf("kvp = %q", c.GetTileKVP())
	}
	if _, err := Parse([]byte("<html><body/></html>")); !errors.Is(err, ErrNotCapabilities) {
		t.Fatalf("html err = %v", err)
	}
	if _, err := Parse([]byte("not xml")); err == nil {
		t.Fatal("expected error for non-xml")
	}
}

func TestGrid(t *testing.T) {
	c := mustParse(t)
	g, err := NewGrid(c.MatrixSet("google"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if g.MaxZoom() != 1 {
		t.Fatalf("max zoom = %d", g.MaxZoom())
	}
	if r := g.Resolution(0); math.Abs(r-156543.0339) > 1e-3 {
		t.Fatalf("resolution = %v", r)
	}
	ctr := g.TileCoordCenter(1, 0, 0)
	if math.Abs(ctr[0]+10018754.17) > 0.01 || math.Abs(ctr[1]-10018754.17) > 0.01 {
		t.Fatalf("center = %v", ctr)
	}
	if r, ok := g.FullTileRange(1); !ok || r.MaxX != 1 || r.MaxY != 1 {
		t.Fatalf("range = %+v %v", r, ok)
	}
	got := g.TileRangeForExtent(1, orb.Bound{Min: orb.Point{-1, -1}, Max: orb.Point{1, 1}})
	if got.MinX != 0 || got.MaxX != 1 || got.MinY != 0 || got.MaxY != 1 {
		t.Fatalf("extent range = %+v", got)
	}

	link := c.Layer("roads").Links[1]
	geo, err := NewGrid(c.MatrixSet("wgs84"), &link)
	if err != nil {
		t.Fatal(err)
	}
	if r := geo.Resolution(0); math.Abs(r-0.703125) > 1e-9 {
		t.Fatalf("geodetic resolution = %v", r)
	}
	ext := geo.TileCoordExtent(0, 1, 0)
	if math.Abs(ext.Min[0]) > 1e-9 || math.Abs(ext.Max[1]-90) > 1e-9 {
		t.Fatalf("swapped origin extent = %v", ext)
	}
}

func TestCatalog(t *testing.T) {
	c := mustParse(t)
	cat := NewCatalog(c, "3857", nil)
	opts := cat.Options()
	if len(opts) != 2 || opts[1].Title != "sat" {
		t.Fatalf("options = %+v", opts)
	}
	if !reflect.DeepEqual(cat.Selected(), []string{"roads"}) || cat.Title() != "Roads" {
		t.Fatalf("default selection = %v %q", cat.Selected(), cat.Title())
	}

	cat = NewCatalog(c, "3857", []string{"missing", " sat "})
	if !reflect.DeepEqual(cat.Selected(), []string{"sat"}) {
		t.Fatalf("configured defaults = %v", cat.Selected())
	}
	cat.Toggle("roads", true)
	if cat.Title() != "2 layers selected" {
		t.Fatalf("title = %q", cat.Title())
	}
	active, ok := cat.ActiveGrid().(*Grid)
	if !ok || active.MatrixSet != "google" {
		t.Fatalf("active grid = %+v", cat.ActiveGrid())
	}
	cat.Toggle("roads", false)
	cat.Toggle("sat", false)
	if cat.Title() != "WMTS" || cat.ActiveGrid() != nil {
		t.Fatalf("empty selection title = %q", cat.Title())
	}

	if got := Search(opts, "  ROA "); len(got) != 1 || got[0].ID != "roads" {
		t.Fatalf("search = %+v", got)
	}
	if got := Search(opts, ""); len(got) != 2 {
		t.Fatalf("empty search = %+v", got)
	}
}

func TestSourceTileURL(t *testing.T) {
	c := mustParse(t)
	cat := NewCatalog(c, "4326", nil)
	roads, err := cat.Source("roads")
	if err != nil {
		t.Fatal(err)
	}
	if roads.MatrixSet != "wgs84" {
		t.Fatalf("preferred matrix set = %s", roads.MatrixSet)
	}
	u, _ := roads.TileURL(0, 1, 0)
	if u != "https://rest.example/wgs84/0/0/1.png" {
		t.Fatalf("rest url = %s", u)
	}
	sat, err := cat.Source("sat")
	if err != nil {
		t.Fatal(err)
	}
	u, _ = sat.TileURL(0, 1, 0)
	for _, part := range []string{"LAYER=sat", "TILECOL=1", "TILEROW=0", "FORMAT=image%2Fjpeg", "STYLE=default", "TILEMATRIXSET=wgs84"} {
		if !strings.Contains(u, part) {
			t.Fatalf("kvp url %s missing %s", u, part)
		}
	}
	if _, err := sat.TileURL(3, 0, 0); err == nil {
		t.Fatal("expected error for zoom outside matrix set")
	}
	if _, err := cat.Source("nope"); err == nil {
		t.Fatal("expected unknown layer error")
	}
}

func TestCacheDedupesAndRetries(t *testing.T) {
	var hits atomic.Int32
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("x-api-key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(capsXML))
	}))
	defer srv.Close()

	cache := NewCache(srv.Client(), nil, nil)
	_, err := cache.Load(context.Background(), srv.URL, "k")
	if err == nil || err.Error() != "Failed to load WMTS capabilities: HTTP 503" {
		t.Fatalf("err = %v", err)
	}

	fail.Store(false)
	hits.Store(0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Load(context.Background(), srv.URL, "k"); err != nil {
				t.Errorf("Load: %v", err)
			}
		}()
	}
	wg.Wait()
	if hits.Load() != 1 {
		t.Fatalf("upstream hits = %d", hits.Load())
	}
}

type mapStore struct {
	mu      sync.Mutex
	m       map[string][]byte
	deleted []string
}

func (s *mapStore) Get(_ context.Context, k string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[k]
	return v, ok
}

func (s *mapStore) Set(_ context.Context, k string, v []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[k] = v
}

func (s *mapStore) Delete(_ context.Context, k string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, k)
	delete(s.m, k)
}

func TestCacheStore(t *testing.T) {
	store := &mapStore{m: map[string][]byte{}}
	calls := 0
	fetch := func(ctx context.Context, u, k string) ([]byte, error) {
		calls++
		return []byte(capsXML), nil
	}
	a := NewCache(nil, fetch, store)
	if _, err := a.Load(context.Background(), "https://caps", ""); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.m[CacheKey("https://caps", "")]; !ok {
		t.Fatal("store not populated")
	}
	b := NewCache(nil, fetch, store)
	if _, err := b.Load(context.Background(), "https://caps", ""); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("fetch calls = %d", calls)
	}
}

func TestTileProxyMarksErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("x-api-key") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/3/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png"))
	}))
	defer srv.Close()

	src := TemplateSource(srv.URL + "/{z}/{x}/{y}.png")
	p := NewTileProxy(srv.Client(), "secret")
	tile, err := p.Fetch(context.Background(), "xyz", src, 1, 0, 1)
	if err != nil || string(tile.Data) != "png" || tile.ContentType != "image/png" {
		t.Fatalf("tile = %+v err = %v", tile, err)
	}
	if _, err := p.Fetch(context.Background(), "xyz", src, 3, 1, 1); err == nil {
		t.Fatal("expected upstream error")
	}
	before := hits.Load()
	if _, err := p.Fetch(context.Background(), "xyz", src, 3, 1, 1); !errors.Is(err, ErrTileFailed) {
		t.Fatalf("err = %v", err)
	}
	if hits.Load() != before {
		t.Fatal("errored tile was refetched")
	}
	p.Reset()
	if p.Errored("xyz", 3, 1, 1) {
		t.Fatal("reset did not clear errors")
	}
}

func TestTileProxyErroredSetIsBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := TemplateSource(srv.URL + "/{z}/{x}/{y}.png")
	p := NewTileProxy(srv.Client(), "")
	p.limit = 3
	for x := 0; x < 5; x++ {
		_, _ = p.Fetch(context.Background(), "xyz", src, 4, x, 0)
	}
	if n := p.ErroredCount(); n != 3 {
		t.Fatalf("errored = %d", n)
	}
	if p.Errored("xyz", 4, 0, 0) || p.Errored("xyz", 4, 1, 0) {
		t.Fatal("oldest entries not evicted")
	}
	if !p.Errored("xyz", 4, 4, 0) {
		t.Fatal("newest entry missing")
	}
	p.Reset()
	if p.ErroredCount() != 0 {
		t.Fatal("reset did not clear errors")
	}
}

func TestCacheReplacesCorruptStoreEntry(t *testing.T) {
	key := CacheKey("https://caps", "k")
	store := &mapStore{m: map[string][]byte{key: []byte("<not-capabilities")}}
	calls := 0
	fetch := func(ctx context.Context, u, k string) ([]byte, error) {
		calls++
		return []byte(capsXML), nil
	}
	caps, err := NewCache(nil, fetch, store).Load(context.Background(), "https://caps", "k")
	if err != nil || caps == nil {
		t.Fatalf("caps = %v err = %v", caps, err)
	}
	if calls != 1 {
		t.Fatalf("fetch calls = %d", calls)
	}
	if !reflect.DeepEqual(store.deleted, []string{key}) {
		t.Fatalf("deleted = %v", store.deleted)
	}
	if string(store.m[key]) != capsXML {
		t.Fatal("store not refilled with fresh capabilities")
	}
}
