// Package metrics exposes scan results as Prometheus metrics.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"printmaster/fleetscan/collector"
)

const namespace = "fleetscan"

// Recorder owns a registry and the metrics derived from scan cycles. It
// implements collector.Observer.
type Recorder struct {
	registry *prometheus.Registry

	consumableLevel *prometheus.GaugeVec
	deviceStatus    *prometheus.GaugeVec
	probesTotal     *prometheus.CounterVec
	probeDuration   prometheus.Histogram
	scanDuration    prometheus.Gauge
	lastScan        prometheus.Gauge
	devices         *prometheus.GaugeVec
	cyclesTotal     prometheus.Counter

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// per-cycle state, touched only from Observe which the collector serializes
	started map[int]time.Time
	pending []collector.DeviceResult
}

// NewRecorder creates a Recorder with its own registry, including Go and
// process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		consumableLevel: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consumable_level_percent",
			Help:      "Last reported consumable level (0-100)",
		}, []string{"device", "address", "consumable", "category"}),
		deviceStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_status",
			Help:      "1 for the device's current status, 0 otherwise",
		}, []string{"device", "address", "status"}),
		probesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Device probes by outcome",
		}, []string{"status", "error_kind"}),
		probeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Time to fetch and parse one device status page",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		scanDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Duration of the last completed scan cycle",
		}),
		lastScan: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_scan_timestamp_seconds",
			Help:      "Unix time the last scan cycle finished",
		}),
		devices: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Devices in the last scan cycle by status",
		}, []string{"status"}),
		cyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_cycles_total",
			Help:      "Completed scan cycles",
		}),
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		started: make(map[int]time.Time),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Observe updates counters as devices finish and swaps the per-device
// gauges in one step when the cycle ends, so a scrape never sees a
// half-updated fleet.
func (r *Recorder) Observe(e collector.Event) {
	switch e.Phase {
	case collector.PhaseBegin:
		r.started = make(map[int]time.Time, e.Total)
		r.pending = r.pending[:0]
	case collector.PhaseProbing:
		r.started[e.Index] = time.Now()
	case collector.PhaseFinished:
		if start, ok := r.started[e.Index]; ok {
			r.probeDuration.Observe(time.Since(start).Seconds())
			delete(r.started, e.Index)
		}
		if e.Result == nil {
			return
		}
		r.probesTotal.WithLabelValues(string(e.Result.Status), string(e.Result.ErrorKind)).Inc()
		r.pending = append(r.pending, *e.Result)
	case collector.PhaseEnd:
		r.publish(r.pending)
		r.scanDuration.Set(e.Elapsed.Seconds())
		r.lastScan.SetToCurrentTime()
		r.cyclesTotal.Inc()
	}
}

func (r *Recorder) publish(results []collector.DeviceResult) {
	r.consumableLevel.Reset()
	r.deviceStatus.Reset()
	statuses := []collector.Status{collector.StatusOnline, collector.StatusAlert, collector.StatusError}
	counts := make(map[collector.Status]int, len(statuses))
	for _, res := range results {
		counts[res.Status]++
		for _, status := range statuses {
			v := 0.0
			if status == res.Status {
				v = 1
			}
			r.deviceStatus.WithLabelValues(res.DisplayName, res.Address, string(status)).Set(v)
		}
		for _, c := range res.Consumables {
			r.consumableLevel.WithLabelValues(res.DisplayName, res.Address, c.Name, string(c.Category)).Set(float64(c.Level))
		}
	}
	for _, status := range statuses {
		r.devices.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// Middleware instruments an HTTP handler with request count and latency.
func (r *Recorder) Middleware(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, req)
		r.httpRequestsTotal.WithLabelValues(req.Method, path, strconv.Itoa(rw.status)).Inc()
		r.httpRequestDuration.WithLabelValues(req.Method, path).Observe(time.Since(start).Seconds())
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

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack passes websocket upgrades through to the underlying connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
