package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// UnusedCounter reports how many published files are not referenced by the catalog.
type UnusedCounter func(ctx context.Context) (int, error)

// FilesCollector reports file record gauges on each scrape.
type FilesCollector struct {
	countUnused UnusedCounter
	timeout     time.Duration

	unusedFiles *prometheus.Desc
}

// NewFilesCollector creates a new collector backed by countUnused.
func NewFilesCollector(countUnused UnusedCounter) *FilesCollector {
	return &FilesCollector{
		countUnused: countUnused,
		timeout:     5 * time.Second,
		unusedFiles: prometheus.NewDesc(
			"ingest_unused_files_count",
			"Number of published files not yet claimed by a catalog entity",
			nil, nil,
		),
	}
}

// Describe sends metric descriptors to Prometheus
func (c *FilesCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.unusedFiles
}

// Collect queries the file store and sends current values to Prometheus
func (c *FilesCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	unused, err := c.countUnused(ctx)
	if err != nil {
		slog.Error("failed to query unused file metrics", "error", err)
		// Send zero on error to avoid scrape failure
		unused = 0
	}

	ch <- prometheus.MustNewConstMetric(
		c.unusedFiles,
		prometheus.GaugeValue,
		float64(unused),
	)
}
