package ingest

import (
	"sync"
	"time"
)

// DefaultSessionTimeout is the inactivity window of a session.
const DefaultSessionTimeout = 30 * time.Second

// Watchdog fires onExpire once when Reset is not called within the window.
// Each Reset invalidates the previous timer, so a stale expiry never fires.
type Watchdog struct {
	mu       sync.Mutex
	window   time.Duration
	timer    *time.Timer
	gen      uint64
	stopped  bool
	onExpire func()
}

// NewWatchdog returns an armed watchdog.
func NewWatchdog(window time.Duration, onExpire func()) *Watchdog {
	w := &Watchdog{window: window, onExpire: onExpire}
	w.arm()
	return w
}

// arm requires w.mu or exclusive access.
func (w *Watchdog) arm() {
	w.gen++
	gen := w.gen
	w.timer = time.AfterFunc(w.window, func() { w.fire(gen) })
}

func (w *Watchdog) fire(gen uint64) {
	w.mu.Lock()
	if w.stopped || gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()

	w.onExpire()
}

// Reset rearms the window. It reports false once the watchdog has stopped or fired.
func (w *Watchdog) Reset() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return false
	}
	w.timer.Stop()
	w.arm()
	return true
}

// Stop disarms the watchdog. Safe to call more than once.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopped = true
	w.timer.Stop()
}
