// Package metrics exposes session engine activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"termwrap/internal/session"
)

const namespace = "termwrap"

// Collector implements session.Observer and tracks duplex connections.
type Collector struct {
	reg *prometheus.Registry

	active        prometheus.Gauge
	created       prometheus.Counter
	startFailures prometheus.Counter
	exited        *prometheus.CounterVec
	removed       prometheus.Counter
	lifetime      prometheus.Histogram
	outputBytes   prometheus.Counter
	inputBytes    prometheus.Counter
	connections   prometheus.Gauge
	frames        *prometheus.CounterVec
}

// New creates a collector registered on its own registry, together with Go
// runtime and process collectors.
func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions whose process has started and not yet exited.",
		}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions successfully started.",
		}),
		startFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_start_failures_total",
			Help:      "Commands that failed to start.",
		}),
		exited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_exited_total",
			Help:      "Session processes that exited, by outcome.",
		}, []string{"outcome"}),
		removed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_removed_total",
			Help:      "Sessions removed from the registry.",
		}),
		lifetime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_lifetime_seconds",
			Help:      "Time from start to process exit.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}),
		outputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_bytes_total",
			Help:      "Bytes read from session terminals.",
		}),
		inputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_bytes_total",
			Help:      "Bytes written to session terminals.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "duplex_connections",
			Help:      "Open WebSocket connections.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplex_frames_total",
			Help:      "WebSocket frames handled, by direction.",
		}, []string{"direction"}),
	}
	c.reg.MustRegister(
		c.active, c.created, c.startFailures, c.exited, c.removed,
		c.lifetime, c.outputBytes, c.inputBytes, c.connections, c.frames,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) SessionStarted(string) {
	c.created.Inc()
	c.active.Inc()
}

func (c *Collector) SessionStartFailed(error) { c.startFailures.Inc() }

func (c *Collector) SessionExited(_ string, exitCode int, lifetime time.Duration) {
	c.active.Dec()
	outcome := "success"
	if exitCode != 0 {
		outcome = "failure"
	}
	c.exited.WithLabelValues(outcome).Inc()
	c.lifetime.Observe(lifetime.Seconds())
}

func (c *Collector) SessionRemoved(string) { c.removed.Inc() }

func (c *Collector) OutputBytes(_ string, n int) { c.outputBytes.Add(float64(n)) }

func (c *Collector) InputBytes(_ string, n int) { c.inputBytes.Add(float64(n)) }

// ConnectionOpened and ConnectionClosed bracket one duplex connection.
func (c *Collector) ConnectionOpened() { c.connections.Inc() }

func (c *Collector) ConnectionClosed() { c.connections.Dec() }

// FrameIn and FrameOut count WebSocket frames.
func (c *Collector) FrameIn() { c.frames.WithLabelValues("in").Inc() }

func (c *Collector) FrameOut() { c.frames.WithLabelValues("out").Inc() }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

var _ session.Observer = (*Collector)(nil)
