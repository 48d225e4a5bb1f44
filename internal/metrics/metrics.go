// Package metrics exposes Prometheus metrics gathered at scrape time.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/callprobe/callprobe/internal/database/models"
)

// SessionCounter exposes the number of active media relay sessions.
type SessionCounter interface {
	Count() int
}

// CallCounter returns call counts grouped by lifecycle status and by
// detection result.
type CallCounter interface {
	CountByStatus(ctx context.Context) (map[models.CallStatus]int64, error)
	CountByResult(ctx context.Context) (map[models.DetectionResult]int64, error)
}

// Collector is a prometheus.Collector that gathers callprobe metrics at scrape time.
type Collector struct {
	sessions  SessionCounter
	calls     CallCounter
	startTime time.Time

	// Metric descriptors.
	sessionsDesc   *prometheus.Desc
	callsTotalDesc *prometheus.Desc
	detectionsDesc *prometheus.Desc
	uptimeDesc     *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(sessions SessionCounter, calls CallCounter, startTime time.Time) *Collector {
	return &Collector{
		sessions:  sessions,
		calls:     calls,
		startTime: startTime,

		sessionsDesc: prometheus.NewDesc(
			"callprobe_relay_sessions_active",
			"Number of active media relay sessions",
			nil, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"callprobe_calls_total",
			"Total number of calls by lifecycle status",
			[]string{"status"}, nil,
		),
		detectionsDesc: prometheus.NewDesc(
			"callprobe_detections_total",
			"Total number of calls by detection result",
			[]string{"result"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"callprobe_uptime_seconds",
			"Seconds since the callprobe process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessionsDesc
	ch <- c.callsTotalDesc
	ch <- c.detectionsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.sessions != nil {
		ch <- prometheus.MustNewConstMetric(
			c.sessionsDesc, prometheus.GaugeValue,
			float64(c.sessions.Count()),
		)
	}

	if c.calls != nil {
		statusCounts, err := c.calls.CountByStatus(ctx)
		if err != nil {
			slog.Error("metrics: failed to count calls by status", "error", err)
		} else {
			for _, st := range []models.CallStatus{
				models.StatusInitiated,
				models.StatusRinging,
				models.StatusInProgress,
				models.StatusCompleted,
				models.StatusFailed,
				models.StatusBusy,
				models.StatusNoAnswer,
			} {
				ch <- prometheus.MustNewConstMetric(
					c.callsTotalDesc, prometheus.CounterValue,
					float64(statusCounts[st]), string(st),
				)
			}
		}

		resultCounts, err := c.calls.CountByResult(ctx)
		if err != nil {
			slog.Error("metrics: failed to count calls by result", "error", err)
		} else {
			for _, res := range []models.DetectionResult{
				models.ResultHuman,
				models.ResultMachine,
				models.ResultUnknown,
			} {
				ch <- prometheus.MustNewConstMetric(
					c.detectionsDesc, prometheus.CounterValue,
					float64(resultCounts[res]), string(res),
				)
			}
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
