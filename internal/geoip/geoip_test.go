package geoip

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded for list", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "10.0.0.2:1234", "203.0.113.9"},
		{"real ip", map[string]string{"X-Real-Ip": "198.51.100.4"}, "10.0.0.2:1234", "198.51.100.4"},
		{"rfc 7239", map[string]string{"Forwarded": `for="[2001:db8::1]";proto=https`}, "10.0.0.2:1234", "2001:db8::1"},
		{"remote addr", nil, "192.0.2.7:5555", "192.0.2.7"},
		{"remote ipv6", nil, "[2001:db8::2]:80", "2001:db8::2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r); got != tt.want {
				t.Fatalf("ClientIP = %q want %q", got, tt.want)
			}
		})
	}
}

func TestZoomForRadius(t *testing.T) {
	for km, want := range map[uint16]float64{0: 4, 5: 10, 100: 8, 300: 6, 1000: 4} {
		if got := ZoomForRadius(km); got != want {
			t.Fatalf("ZoomForRadius(%d) = %v want %v", km, got, want)
		}
	}
}

func TestNilLocator(t *testing.T) {
	l, err := Open("")
	if err != nil || l != nil {
		t.Fatalf("Open(\"\") = %v, %v", l, err)
	}
	if _, ok := l.Locate("8.8.8.8"); ok {
		t.Fatal("nil locator should miss")
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
}
