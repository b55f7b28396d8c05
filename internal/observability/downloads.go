package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (c *Collector) registerDownloadMetrics(reg prometheus.Registerer) error {
	var err error
	if c.DownloadsStarted, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offline_downloads_started_total",
		Help: "Download sessions accepted by the orchestrator.",
	})); err != nil {
		return err
	}
	if c.DownloadsFinished, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_downloads_finished_total",
		Help: "Download sessions that settled, labeled by outcome.",
	}, []string{"outcome"})); err != nil {
		return err
	}
	if c.DownloadDurations, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "offline_download_duration_seconds",
		Help:    "Time from download start to its terminal event.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
	})); err != nil {
		return err
	}
	if c.DownloadActive, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "offline_download_active",
		Help: "1 while a download session is running.",
	})); err != nil {
		return err
	}
	if c.DownloadProgresses, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "offline_download_progress",
		Help: "Last reported progress fraction of the running session, by load kind.",
	}, []string{"kind"})); err != nil {
		return err
	}
	if c.Deletions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_deletions_total",
		Help: "Removals of persisted style packs and tile regions, by kind and result.",
	}, []string{"kind", "result"})); err != nil {
		return err
	}
	return nil
}

// DownloadStarted marks a session as running.
func (c *Collector) DownloadStarted() {
	if c == nil {
		return
	}
	c.DownloadsStarted.Inc()
	c.DownloadActive.Set(1)
	c.DownloadProgresses.Reset()
}

// DownloadProgress records the latest fraction for kind.
func (c *Collector) DownloadProgress(kind string, fraction float64) {
	if c == nil {
		return
	}
	c.DownloadProgresses.WithLabelValues(kind).Set(fraction)
}

// DownloadFinished records the outcome and duration of a session.
func (c *Collector) DownloadFinished(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.DownloadsFinished.WithLabelValues(outcome).Inc()
	c.DownloadDurations.Observe(d.Seconds())
	c.DownloadActive.Set(0)
}

// Deletion counts one removal attempt.
func (c *Collector) Deletion(kind string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.Deletions.WithLabelValues(kind, result).Inc()
}
