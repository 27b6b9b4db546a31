package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSMiddleware_AllowAll(t *testing.T) {
	handler := CORSMiddleware([]string{"*"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/files/a/b.png", nil)
	req.Header.Set("Origin", "https://stream.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestCORSMiddleware_ListedOrigin(t *testing.T) {
	handler := CORSMiddleware([]string{"https://dash.example.com"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin for unknown origin = %q, want empty", got)
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	called := false
	handler := CORSMiddleware([]string{"*"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/api/file-cleans/enqueue", nil))

	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rr.Code)
	}
	if called {
		t.Error("preflight reached the wrapped handler")
	}
}

func TestOriginAllowed(t *testing.T) {
	list := []string{"https://dash.example.com"}

	if !OriginAllowed(list, "") {
		t.Error("empty origin should be allowed")
	}
	if !OriginAllowed(list, "https://dash.example.com") {
		t.Error("listed origin should be allowed")
	}
	if OriginAllowed(list, "https://other.example.com") {
		t.Error("unlisted origin should be rejected")
	}
	if !OriginAllowed([]string{"*"}, "https://other.example.com") {
		t.Error("wildcard should allow any origin")
	}
}
