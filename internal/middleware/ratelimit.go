package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// requestRecord tracks requests for an IP
type requestRecord struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// RateLimiter enforces a sliding-window request limit per client IP.
type RateLimiter struct {
	limit   int
	window  time.Duration
	records sync.Map // map[string]*requestRecord
	cleanup *time.Ticker
	done    chan struct{}
	once    sync.Once

	now func() time.Time
}

// NewRateLimiter allows limit requests per window for each IP.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limit:   limit,
		window:  window,
		cleanup: time.NewTicker(window),
		done:    make(chan struct{}),
		now:     time.Now,
	}

	// Start cleanup goroutine to remove old entries
	go rl.cleanupOldEntries()

	return rl
}

// cleanupOldEntries drops IPs with no requests inside the window
func (rl *RateLimiter) cleanupOldEntries() {
	for {
		select {
		case <-rl.done:
			return
		case <-rl.cleanup.C:
		}

		cutoff := rl.now().Add(-rl.window)
		rl.records.Range(func(key, value any) bool {
			record := value.(*requestRecord)
			record.mu.Lock()
			defer record.mu.Unlock()

			record.timestamps = pruneBefore(record.timestamps, cutoff)
			if len(record.timestamps) == 0 {
				rl.records.Delete(key)
			}
			return true
		})
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() {
		rl.cleanup.Stop()
		close(rl.done)
	})
}

// Allow records a request from ip and reports whether it is within the limit.
func (rl *RateLimiter) Allow(ip string) bool {
	now := rl.now()

	value, _ := rl.records.LoadOrStore(ip, &requestRecord{})
	record := value.(*requestRecord)

	record.mu.Lock()
	defer record.mu.Unlock()

	record.timestamps = pruneBefore(record.timestamps, now.Add(-rl.window))
	if len(record.timestamps) >= rl.limit {
		return false
	}

	record.timestamps = append(record.timestamps, now)
	return true
}

// pruneBefore drops timestamps at or before cutoff, reusing the backing array
func pruneBefore(timestamps []time.Time, cutoff time.Time) []time.Time {
	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

// RateLimitMiddleware rejects requests selected by match once their IP exceeds
// the limiter's budget. Other requests pass through uncounted.
func RateLimitMiddleware(rl *RateLimiter, limitType string, match func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !match(r) {
				next.ServeHTTP(w, r)
				return
			}

			ip := getClientIP(r)
			if !rl.Allow(ip) {
				slog.Warn("rate limit exceeded",
					"ip", ip,
					"limit_type", limitType,
					"limit", rl.limit,
					"path", r.URL.Path,
				)

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"Rate limit exceeded. Please try again later.","code":"RATE_LIMIT_EXCEEDED"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
