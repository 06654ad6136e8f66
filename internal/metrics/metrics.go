// Package metrics exposes audit progress as Prometheus collectors fed from the
// event bus.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/HerbHall/sitecheck/internal/event"
)

// Recorder owns a private registry so several recorders can coexist in tests.
type Recorder struct {
	registry *prometheus.Registry
	logger   *zap.Logger

	probesTotal   *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
	deviceUp      *prometheus.GaugeVec
	runDevices    *prometheus.GaugeVec
	runsTotal     *prometheus.CounterVec
	lastRun       prometheus.Gauge
}

// NewRecorder creates a recorder with Go runtime and process collectors.
func NewRecorder(logger *zap.Logger) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		logger:   logger,
		probesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitecheck_probes_total",
				Help: "Total number of device probes.",
			},
			[]string{"family", "result"},
		),
		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitecheck_probe_duration_seconds",
				Help:    "Device probe duration in seconds.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"family"},
		),
		deviceUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sitecheck_device_up",
				Help: "Whether the device answered its last probe (1) or not (0).",
			},
			[]string{"device", "ip", "category", "critical"},
		),
		runDevices: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sitecheck_run_devices",
				Help: "Device counts of the last completed run.",
			},
			[]string{"state"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitecheck_runs_total",
				Help: "Total number of audit runs.",
			},
			[]string{"status"},
		),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sitecheck_last_run_timestamp_seconds",
			Help: "Unix time the last audit run completed.",
		}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.probesTotal,
		r.probeDuration,
		r.deviceUp,
		r.runDevices,
		r.runsTotal,
		r.lastRun,
	)
	return r
}

// Registry returns the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Attach subscribes the recorder to bus. The returned function detaches it.
func (r *Recorder) Attach(bus *event.Bus) (detach func()) {
	unsubProbe := bus.Subscribe(event.TopicDeviceProbed, r.handleProbe)
	unsubRun := bus.Subscribe(event.TopicRunCompleted, r.handleRun)
	return func() {
		unsubProbe()
		unsubRun()
	}
}

func (r *Recorder) handleProbe(_ context.Context, e event.Event) {
	p, ok := e.Payload.(event.DeviceProbed)
	if !ok {
		r.logger.Warn("unexpected payload", zap.String("topic", e.Topic))
		return
	}
	family := string(p.Device.Family)
	result, up := "fail", 0.0
	if p.Result.Online {
		result, up = "pass", 1.0
	}
	r.probesTotal.WithLabelValues(family, result).Inc()
	r.probeDuration.WithLabelValues(family).Observe(p.Result.Duration.Seconds())
	r.deviceUp.WithLabelValues(
		p.Device.Name, p.Device.IP, string(p.Device.Category), strconv.FormatBool(p.Device.Critical),
	).Set(up)
}

func (r *Recorder) handleRun(_ context.Context, e event.Event) {
	p, ok := e.Payload.(event.RunCompleted)
	if !ok {
		r.logger.Warn("unexpected payload", zap.String("topic", e.Topic))
		return
	}
	status := "completed"
	if p.Aborted {
		status = "aborted"
	}
	r.runsTotal.WithLabelValues(status).Inc()
	r.runDevices.WithLabelValues("total").Set(float64(p.Stats.Total))
	r.runDevices.WithLabelValues("pass").Set(float64(p.Stats.Pass))
	r.runDevices.WithLabelValues("fail").Set(float64(p.Stats.Fail))
	r.runDevices.WithLabelValues("skipped").Set(float64(p.Skipped))
	r.lastRun.Set(float64(e.Timestamp.Unix()))
}
