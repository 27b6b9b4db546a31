package middleware

import (
	"net/http/httptest"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "192.0.2.10:5555", nil, "192.0.2.10"},
		{"forwarded for", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, "203.0.113.5"},
		{"invalid forwarded for", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "garbage"}, "10.0.0.1"},
		{"real ip", "10.0.0.1:80", map[string]string{"X-Real-IP": "198.51.100.7"}, "198.51.100.7"},
		{"no port", "192.0.2.10", nil, "192.0.2.10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			if got := getClientIP(req); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
