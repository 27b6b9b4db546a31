// Package gateway exposes the ingestion engine over a WebSocket channel.
// Frames are JSON objects {"event": ..., "data": ...}; chunk payloads are base64.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nimeninja/ingestd/internal/ingest"
	"github.com/nimeninja/ingestd/internal/metrics"
	"github.com/nimeninja/ingestd/internal/middleware"
	"github.com/nimeninja/ingestd/internal/models"
)

// Ingester is the part of the ingestion engine the gateway drives.
type Ingester interface {
	HandleChunk(ctx context.Context, n ingest.Notifier, req *models.UploadChunkRequest) error
	Cancel(uploadID string) bool
}

// Options configures a Handler.
type Options struct {
	AllowedOrigins     []string
	MaxMessageSize     int64
	OutboundQueueDepth int
}

// Handler upgrades requests on the upload endpoint and serves one channel per connection.
type Handler struct {
	engine     Ingester
	upgrader   websocket.Upgrader
	opts       Options
	nextConnID atomic.Uint64
}

// NewHandler creates a Handler for engine.
func NewHandler(engine Ingester, opts Options) *Handler {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 16 << 20
	}
	if opts.OutboundQueueDepth <= 0 {
		opts.OutboundQueueDepth = 256
	}

	h := &Handler{engine: engine, opts: opts}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   32 * 1024,
		WriteBufferSize:  4 * 1024,
		HandshakeTimeout: 5 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.OriginAllowed(opts.AllowedOrigins, r.Header.Get("Origin"))
		},
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		slog.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := newConn(strconv.FormatUint(h.nextConnID.Add(1), 10), ws, h.opts.OutboundQueueDepth)

	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()
	slog.Info("upload channel connected", "conn_id", c.id, "remote_addr", r.RemoteAddr)

	go c.writePump()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	h.readLoop(ctx, c)

	// Sessions outlive the connection; their inactivity watchdogs reap them.
	c.close()
	<-c.done
	slog.Info("upload channel disconnected", "conn_id", c.id)
}

func (h *Handler) readLoop(ctx context.Context, c *Conn) {
	c.ws.SetReadLimit(h.opts.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.Warn("upload channel read failed", "conn_id", c.id, "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		h.dispatch(ctx, c, msg)

		if ctx.Err() != nil {
			return
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, c *Conn, msg []byte) {
	var frame models.Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		slog.Debug("undecodable frame", "conn_id", c.id, "error", err)
		emitError(c, "", "Invalid message")
		return
	}

	switch frame.Event {
	case models.EventUploadChunk:
		var req models.UploadChunkRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			slog.Debug("undecodable chunk", "conn_id", c.id, "error", err)
			emitError(c, bestEffortUploadID(frame.Data), "Invalid upload metadata")
			return
		}
		if err := h.engine.HandleChunk(ctx, c, &req); err != nil {
			slog.Debug("chunk not accepted", "conn_id", c.id, "upload_id", req.UploadID, "chunk_index", req.ChunkIndex, "error", err)
		}

	case models.EventCancelUpload:
		var req models.CancelUploadRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil || req.UploadID == "" {
			slog.Debug("undecodable cancel", "conn_id", c.id, "error", err)
			return
		}
		slog.Info("cancel requested", "conn_id", c.id, "upload_id", req.UploadID)
		h.engine.Cancel(req.UploadID)

	default:
		emitError(c, bestEffortUploadID(frame.Data), "Unknown event: "+frame.Event)
	}
}

func emitError(c *Conn, uploadID, message string) {
	c.Emit(models.EventUploadError, models.UploadErrorEvent{UploadID: uploadID, Message: message})
}

// bestEffortUploadID extracts uploadId from a payload that failed full decoding.
func bestEffortUploadID(data json.RawMessage) string {
	var partial struct {
		UploadID any `json:"uploadId"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return ""
	}
	if s, ok := partial.UploadID.(string); ok {
		return s
	}
	return ""
}
