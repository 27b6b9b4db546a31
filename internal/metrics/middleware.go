package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Middleware instruments HTTP handlers with request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK, // Default to 200 if WriteHeader not called
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)
		method := r.Method
		status := strconv.Itoa(wrapped.statusCode)

		HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
		HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// normalizePath normalizes URL paths for metric labels to avoid cardinality explosion
// Replaces dynamic segments (folders, file names, record ids) with placeholders
func normalizePath(path string) string {
	switch {
	case path == "/health", path == "/health/live", path == "/metrics", path == "/ws/file", path == "/api/file-cleans/enqueue":
		return path

	case strings.HasPrefix(path, "/api/files/"):
		return "/api/files/*"

	case strings.HasPrefix(path, "/api/file-records/"):
		switch {
		case strings.HasSuffix(path, "/unused"):
			return "/api/file-records/:id/unused"
		case strings.HasSuffix(path, "/used"):
			return "/api/file-records/:id/used"
		}
		return "/api/file-records/:id"

	default:
		return "/other"
	}
}
