// Package metrics exposes Prometheus counters and gauges mirroring the FSA
// totals: files/bytes done, active connections, retry and error counts per
// host.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FilesDoneTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afd_files_done_total",
			Help: "Total number of files successfully transferred, by host",
		},
		[]string{"host"},
	)

	BytesDoneTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afd_bytes_done_total",
			Help: "Total number of bytes successfully transferred, by host",
		},
		[]string{"host"},
	)

	ActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "afd_active_connections",
			Help: "Number of currently active transfer worker connections, by host",
		},
		[]string{"host"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afd_retries_total",
			Help: "Total number of transient-error retries, by host",
		},
		[]string{"host"},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afd_errors_total",
			Help: "Total number of exit-code errors, by host and exit code",
		},
		[]string{"host", "exit_code"},
	)

	BurstLength = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "afd_burst_length",
			Help:    "Number of jobs completed per burst, by host",
			Buckets: prometheus.LinearBuckets(1, 2, 10),
		},
		[]string{"host"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "afd_queue_depth",
			Help: "Number of unretrieved or unsent entries currently queued, by directory",
		},
		[]string{"directory"},
	)
)

func init() {
	prometheus.MustRegister(FilesDoneTotal)
	prometheus.MustRegister(BytesDoneTotal)
	prometheus.MustRegister(ActiveConnections)
	prometheus.MustRegister(RetriesTotal)
	prometheus.MustRegister(ErrorsTotal)
	prometheus.MustRegister(BurstLength)
	prometheus.MustRegister(QueueDepth)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
