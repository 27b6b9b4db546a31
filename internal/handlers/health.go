package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nimeninja/ingestd/internal/metrics"
	"github.com/nimeninja/ingestd/internal/models"
	"github.com/nimeninja/ingestd/internal/repository"
	"github.com/nimeninja/ingestd/internal/storage"
	"github.com/nimeninja/ingestd/internal/utils"
)

const (
	// Health status thresholds
	criticalDiskFreeBytes   = 500 * 1024 * 1024      // 500MB
	warningDiskFreeBytes    = 2 * 1024 * 1024 * 1024 // 2GB
	criticalDiskUsedPercent = 98.0
	warningDiskUsedPercent  = 90.0

	// Health check timeout for external dependencies
	healthCheckTimeout = 5 * time.Second
)

// SessionCounter reports the number of uploads in progress.
type SessionCounter interface {
	ActiveSessions() int
}

// HealthHandler serves GET /health.
type HealthHandler struct {
	db        repository.HealthRepository
	backend   storage.Backend
	sessions  SessionCounter
	diskPath  string
	startTime time.Time

	// diskSpace is replaced in tests
	diskSpace func(path string) (*utils.DiskSpaceInfo, error)
}

// NewHealthHandler creates a HealthHandler. diskPath is the directory uploads are
// reassembled in; its filesystem is the one that fills up first.
func NewHealthHandler(db repository.HealthRepository, backend storage.Backend, sessions SessionCounter, diskPath string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		backend:   backend,
		sessions:  sessions,
		diskPath:  diskPath,
		startTime: startTime,
		diskSpace: utils.GetDiskSpace,
	}
}

// ServeHTTP returns detailed health information. Degraded and unhealthy
// instances answer 503 so load balancers stop routing uploads to them.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.HealthCheckDuration.Observe(time.Since(start).Seconds())
	}()

	setNoCacheHeaders(w)
	if r.Method != http.MethodGet {
		sendError(w, "Method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	response := h.check(ctx)

	metrics.HealthChecksTotal.WithLabelValues("health", response.Status).Inc()
	updateHealthStatusGauge(response.Status)

	httpCode := http.StatusOK
	if response.Status != "healthy" {
		httpCode = http.StatusServiceUnavailable
	}
	writeJSON(w, httpCode, response)
}

func (h *HealthHandler) check(ctx context.Context) *models.HealthResponse {
	var details []string
	response := &models.HealthResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Database:      "ok",
		Storage:       "ok",
	}
	if h.sessions != nil {
		response.ActiveSessions = h.sessions.ActiveSessions()
	}

	unhealthy := false

	if err := h.db.Ping(ctx); err != nil {
		slog.Error("database health check failed", "error", err)
		details = append(details, "database unreachable")
		response.Database = "unreachable"
		unhealthy = true
	}

	if err := h.backend.HealthCheck(ctx); err != nil {
		slog.Error("storage health check failed", "error", err)
		details = append(details, "storage backend unhealthy")
		response.Storage = "unhealthy"
		unhealthy = true
	}

	diskInfo, err := h.diskSpace(h.diskPath)
	if err != nil {
		slog.Error("failed to get disk space", "path", h.diskPath, "error", err)
		details = append(details, "disk space check failed")
		unhealthy = true
	} else {
		response.DiskTotalBytes = diskInfo.TotalBytes
		response.DiskFreeBytes = diskInfo.FreeBytes
		response.DiskAvailableBytes = diskInfo.AvailableBytes
		response.DiskUsedPercent = diskInfo.UsedPercent
	}

	if size, err := utils.GetDirSize(h.diskPath); err != nil {
		slog.Warn("failed to measure temp directory", "path", h.diskPath, "error", err)
	} else {
		response.TempDirBytes = size
	}

	if unhealthy {
		response.Status = "unhealthy"
	} else {
		response.Status = determineHealthStatus(diskInfo, &details)
	}

	// Only include status_details if there are issues
	if len(details) > 0 {
		response.StatusDetails = details
	}
	return response
}

// determineHealthStatus classifies disk usage.
// Note: details is passed as a pointer so appended messages are visible to the caller
func determineHealthStatus(diskInfo *utils.DiskSpaceInfo, details *[]string) string {
	if diskInfo.AvailableBytes < criticalDiskFreeBytes {
		*details = append(*details, fmt.Sprintf("critical: disk space < 500MB (%s remaining)",
			utils.FormatBytes(diskInfo.AvailableBytes)))
		return "unhealthy"
	}

	if diskInfo.UsedPercent > criticalDiskUsedPercent {
		*details = append(*details, fmt.Sprintf("critical: disk usage > 98%% (%.1f%% used)",
			diskInfo.UsedPercent))
		return "unhealthy"
	}

	degraded := false

	if diskInfo.AvailableBytes < warningDiskFreeBytes {
		*details = append(*details, fmt.Sprintf("warning: disk space low (%s remaining)",
			utils.FormatBytes(diskInfo.AvailableBytes)))
		degraded = true
	}

	if diskInfo.UsedPercent > warningDiskUsedPercent {
		*details = append(*details, fmt.Sprintf("warning: disk usage high (%.1f%% used)",
			diskInfo.UsedPercent))
		degraded = true
	}

	if degraded {
		return "degraded"
	}
	return "healthy"
}

// LivenessHandler answers GET /health/live with a database ping only.
func LivenessHandler(db repository.HealthRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setNoCacheHeaders(w)
		if r.Method != http.MethodGet {
			sendError(w, "Method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed)
			return
		}

		if err := db.Ping(r.Context()); err != nil {
			slog.Error("liveness check failed: database ping error", "error", err)
			metrics.HealthChecksTotal.WithLabelValues("live", "unhealthy").Inc()
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}

		metrics.HealthChecksTotal.WithLabelValues("live", "healthy").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// updateHealthStatusGauge updates the Prometheus gauge based on status string
func updateHealthStatusGauge(status string) {
	switch status {
	case "healthy":
		metrics.HealthStatus.Set(2)
	case "degraded":
		metrics.HealthStatus.Set(1)
	default:
		metrics.HealthStatus.Set(0)
	}
}
