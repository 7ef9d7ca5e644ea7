// Package metrics exposes Prometheus counters and gauges for the broker
// and supervisor. Grounded on ChuLiYu-raft-recovery/internal/metrics: a
// Collector struct of prometheus.Counter/Gauge/Histogram fields,
// registered once and served over /metrics via promhttp.Handler.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric this system exports.
type Collector struct {
	requestsDispatched prometheus.Counter
	repliesForwarded   prometheus.Counter
	messagesDropped    *prometheus.CounterVec

	workersReady      prometheus.Gauge
	workersProcessing prometheus.Gauge

	workerForks prometheus.Counter
	workerReaps prometheus.Counter

	dispatchLatency prometheus.Histogram
}

// NewCollector builds and registers a fresh Collector against the
// default Prometheus registry.
func NewCollector() *Collector {
	c := &Collector{
		requestsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zmqbroker_requests_dispatched_total",
			Help: "Total number of frontend requests forwarded to a worker.",
		}),
		repliesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zmqbroker_replies_forwarded_total",
			Help: "Total number of worker replies forwarded to a client.",
		}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zmqbroker_messages_dropped_total",
			Help: "Total number of messages dropped, by reason.",
		}, []string{"reason"}),
		workersReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zmqbroker_workers_ready",
			Help: "Current number of workers idle and available for work.",
		}),
		workersProcessing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zmqbroker_workers_processing",
			Help: "Current number of workers executing a request.",
		}),
		workerForks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zmqbroker_worker_forks_total",
			Help: "Total number of worker child processes forked.",
		}),
		workerReaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zmqbroker_worker_reaps_total",
			Help: "Total number of worker child processes reaped.",
		}),
		dispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "zmqbroker_dispatch_latency_seconds",
			Help:    "Time from frontend receive to backend send.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	prometheus.MustRegister(
		c.requestsDispatched,
		c.repliesForwarded,
		c.messagesDropped,
		c.workersReady,
		c.workersProcessing,
		c.workerForks,
		c.workerReaps,
		c.dispatchLatency,
	)

	return c
}

func (c *Collector) RecordDispatch(latencySeconds float64) {
	c.requestsDispatched.Inc()
	c.dispatchLatency.Observe(latencySeconds)
}

func (c *Collector) RecordReply() {
	c.repliesForwarded.Inc()
}

func (c *Collector) RecordDropped(reason string) {
	c.messagesDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) SetWorkerGauges(ready, processing int) {
	c.workersReady.Set(float64(ready))
	c.workersProcessing.Set(float64(processing))
}

func (c *Collector) RecordFork() {
	c.workerForks.Inc()
}

func (c *Collector) RecordReap() {
	c.workerReaps.Inc()
}

// Serve starts the Prometheus HTTP endpoint. It blocks; callers run it
// in its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		return fmt.Errorf("metrics: serve %s: %w", addr, err)
	}
	return nil
}
