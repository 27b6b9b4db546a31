package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nimeninja/ingestd/internal/metrics"
	"github.com/nimeninja/ingestd/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Conn is one upload channel. It is the Notifier of every session it starts:
// events go through a bounded queue drained by a single writer goroutine.
type Conn struct {
	id    string
	ws    *websocket.Conn
	depth int

	mu     sync.Mutex
	queue  []outFrame
	closed bool

	wake chan struct{}
	done chan struct{}
}

type outFrame struct {
	event string
	data  []byte
}

func newConn(id string, ws *websocket.Conn, queueDepth int) *Conn {
	if queueDepth <= 0 {
		queueDepth = 1
	}
	return &Conn{
		id:    id,
		ws:    ws,
		depth: queueDepth,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// terminal events end a session and are never dropped on a live connection.
func terminal(event string) bool {
	return event == models.EventUploadDone || event == models.EventUploadError
}

// Emit queues an event for the client. It never blocks. On a full queue a
// terminal event evicts the oldest queued non-terminal frame, or is queued past
// the limit when there is none; other events are dropped. Everything is dropped
// once the connection is gone.
func (c *Conn) Emit(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to encode event", "conn_id", c.id, "event", event, "error", err)
		return
	}
	frame, err := json.Marshal(models.Frame{Event: event, Data: data})
	if err != nil {
		slog.Error("failed to encode frame", "conn_id", c.id, "event", event, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		metrics.EventsDroppedTotal.WithLabelValues(event).Inc()
		slog.Debug("dropped event for closed connection", "conn_id", c.id, "event", event)
		return
	}

	if len(c.queue) >= c.depth {
		if !terminal(event) {
			metrics.EventsDroppedTotal.WithLabelValues(event).Inc()
			slog.Warn("dropped event for slow connection", "conn_id", c.id, "event", event, "queue_depth", c.depth)
			return
		}
		c.evictOne()
	}

	c.queue = append(c.queue, outFrame{event: event, data: frame})
	c.signal()
}

// evictOne removes the oldest non-terminal frame. Called with c.mu held.
func (c *Conn) evictOne() {
	for i, f := range c.queue {
		if terminal(f.event) {
			continue
		}
		c.queue = append(c.queue[:i], c.queue[i+1:]...)
		metrics.EventsDroppedTotal.WithLabelValues(f.event).Inc()
		slog.Warn("evicted event for slow connection", "conn_id", c.id, "event", f.event, "queue_depth", c.depth)
		return
	}
}

func (c *Conn) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// take removes every queued frame and reports whether the connection is closed.
func (c *Conn) take() ([]outFrame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	frames := c.queue
	c.queue = nil
	return frames, c.closed
}

// queued returns the events waiting to be written.
func (c *Conn) queued() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	events := make([]string, 0, len(c.queue))
	for _, f := range c.queue {
		events = append(events, f.event)
	}
	return events
}

// close stops accepting events; the writer flushes what is queued and exits.
func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.signal()
}

// discard drops frames that can no longer be written.
func (c *Conn) discard() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, f := range c.queue {
		metrics.EventsDroppedTotal.WithLabelValues(f.event).Inc()
	}
	c.queue = nil
}

// writePump is the only goroutine writing data frames to ws.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		close(c.done)
	}()

	for {
		select {
		case <-c.wake:
			frames, closed := c.take()
			for _, f := range frames {
				c.ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.ws.WriteMessage(websocket.TextMessage, f.data); err != nil {
					slog.Debug("write failed, closing connection", "conn_id", c.id, "error", err)
					c.close()
					c.discard()
					return
				}
			}
			if closed {
				c.ws.SetWriteDeadline(time.Now().Add(writeWait))
				c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				slog.Debug("ping failed, closing connection", "conn_id", c.id, "error", err)
				c.close()
				c.discard()
				return
			}
		}
	}
}
