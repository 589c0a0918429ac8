package featurekey

import (
	"reflect"
	"testing"

	"github.com/paulmach/orb"

	"mapedit/internal/layer"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
		ok   bool
	}{
		{"string", "abc", "abc", true},
		{"empty string", "", "", false},
		{"integer float", float64(7), "7", true},
		{"fraction", 1.5, "1.5", true},
		{"negative zero", -0.0, "0", true},
		{"large", 1e21, "1e+21", true},
		{"small", 1e-7, "1e-7", true},
		{"int", 42, "42", true},
		{"bool", true, "true", true},
		{"nil", nil, "", false},
		{"object", map[string]any{"a": 1}, "", false},
		{"array", []any{1}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("Normalize(%v) = %q,%v want %q,%v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestFromGeoJSON(t *testing.T) {
	tests := []struct {
		name    string
		feature map[string]any
		index   int
		want    string
	}{
		{"top-level id", map[string]any{"id": "a", "properties": map[string]any{"id": "b"}}, 3, "a"},
		{"numeric id", map[string]any{"id": float64(12)}, 0, "12"},
		{"properties id", map[string]any{"properties": map[string]any{"id": "b"}}, 3, "b"},
		{"empty id falls through", map[string]any{"id": "", "properties": map[string]any{"id": "b"}}, 3, "b"},
		{"object id falls through", map[string]any{"id": map[string]any{}}, 4, "4"},
		{"null properties", map[string]any{"properties": nil}, 2, "2"},
		{"nil feature", nil, 1, "1"},
		{"name is not a key", map[string]any{"properties": map[string]any{"name": "Harbor"}}, 6, "6"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromGeoJSON(tt.feature, tt.index); got != tt.want {
				t.Fatalf("FromGeoJSON = %q want %q", got, tt.want)
			}
		})
	}
}

func TestFromFeatureMatchesText(t *testing.T) {
	f := layer.NewFeature(orb.Point{1, 2}, map[string]any{"id": float64(9)})
	if got := FromFeature(f, 0); got != "9" {
		t.Fatalf("properties id: got %q", got)
	}
	f.ID = "road-1"
	if got := FromFeature(f, 0); got != "road-1" {
		t.Fatalf("feature id: got %q", got)
	}
	if got := FromFeature(layer.NewFeature(orb.Point{}, nil), 5); got != "5" {
		t.Fatalf("index fallback: got %q", got)
	}
}

func TestListFromGeoJSON(t *testing.T) {
	fc := map[string]any{
		"type": "FeatureCollection",
		"features": []any{
			map[string]any{"type": "Feature", "id": "x"},
			map[string]any{"type": "Feature", "properties": map[string]any{}},
		},
	}
	if got := ListFromGeoJSON(fc); !reflect.DeepEqual(got, []string{"x", "1"}) {
		t.Fatalf("got %v", got)
	}
	if got := ListFromGeoJSON(map[string]any{"type": "Feature"}); got != nil {
		t.Fatalf("non-collection: got %v", got)
	}
}
