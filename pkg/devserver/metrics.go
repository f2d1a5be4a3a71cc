package devserver

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the dev server's Prometheus collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	AuthFailures      prometheus.Counter
	Frames            *prometheus.CounterVec // event
	Relayed           *prometheus.CounterVec // event
	Undelivered       *prometheus.CounterVec // event
	HTTPRequests      *prometheus.CounterVec // method, path, status
	HTTPDuration      *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zyeachat", Subsystem: "realtime", Name: "connections_active",
			Help: "Current open realtime connections.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zyeachat", Subsystem: "realtime", Name: "connections_total",
			Help: "Realtime connections accepted.",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zyeachat", Subsystem: "auth", Name: "failures_total",
			Help: "Requests rejected for a missing, invalid or revoked token.",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zyeachat", Subsystem: "realtime", Name: "frames_received_total",
			Help: "Frames received from clients.",
		}, []string{"event"}),
		Relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zyeachat", Subsystem: "realtime", Name: "frames_relayed_total",
			Help: "Frames delivered to at least one connection.",
		}, []string{"event"}),
		Undelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zyeachat", Subsystem: "realtime", Name: "frames_undelivered_total",
			Help: "Frames whose recipient had no open connection.",
		}, []string{"event"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zyeachat", Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zyeachat", Subsystem: "http", Name: "request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"method", "path"}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ConnectionsActive, m.ConnectionsTotal, m.AuthFailures,
		m.Frames, m.Relayed, m.Undelivered,
		m.HTTPRequests, m.HTTPDuration,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Instrument records count and latency for every request, labelled with the
// route pattern rather than the raw path.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("devserver: response writer cannot hijack")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
