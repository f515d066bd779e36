// Package metrics provides Prometheus metrics for vk-masscan runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "vkmasscan"

	subsystemSweep    = "sweep"
	subsystemChange   = "change"
	subsystemSchedule = "schedule"
	subsystemNotify   = "notify"
)

// Metrics holds all Prometheus collectors for the application.
type Metrics struct {
	sweepsTotal     *prometheus.CounterVec
	sweepDuration   prometheus.Histogram
	portsObserved   prometheus.Counter
	newPorts        prometheus.Counter
	changedServices prometheus.Counter
	cyclesTotal     prometheus.Counter
	targetsSkipped  prometheus.Counter
	notifications   *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a metrics instance with a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		sweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemSweep,
				Name:      "total",
				Help:      "Total sweeps executed by outcome.",
			},
			[]string{"status"},
		),
		sweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystemSweep,
				Name:      "duration_seconds",
				Help:      "Sweep duration per target.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		portsObserved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemSweep,
				Name:      "ports_observed_total",
				Help:      "Open ports observed across all sweeps.",
			},
		),
		newPorts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemChange,
				Name:      "new_ports_total",
				Help:      "Ports reported as newly observed.",
			},
		),
		changedServices: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemChange,
				Name:      "changed_services_total",
				Help:      "Service banner transitions reported.",
			},
		),
		cyclesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemSchedule,
				Name:      "cycles_total",
				Help:      "Completed scheduled cycles.",
			},
		),
		targetsSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemSchedule,
				Name:      "targets_skipped_total",
				Help:      "Targets skipped because the run was interrupted.",
			},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemNotify,
				Name:      "sent_total",
				Help:      "Notification delivery attempts by outcome.",
			},
			[]string{"status"},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.sweepsTotal,
		m.sweepDuration,
		m.portsObserved,
		m.newPorts,
		m.changedServices,
		m.cyclesTotal,
		m.targetsSkipped,
		m.notifications,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RecordSweep records one sweep and its duration. ok is false when the
// sweep degraded to an empty result.
func (m *Metrics) RecordSweep(ok bool, duration time.Duration, ports int) {
	status := "ok"
	if !ok {
		status = "degraded"
	}
	m.sweepsTotal.WithLabelValues(status).Inc()
	m.sweepDuration.Observe(duration.Seconds())
	m.portsObserved.Add(float64(ports))
}

// RecordChanges records detected deltas for one address.
func (m *Metrics) RecordChanges(newPorts, changedServices int) {
	m.newPorts.Add(float64(newPorts))
	m.changedServices.Add(float64(changedServices))
}

// RecordCycle records a completed scheduled cycle.
func (m *Metrics) RecordCycle() {
	m.cyclesTotal.Inc()
}

// RecordTargetSkip records a target skipped because the run context
// was canceled before its turn.
func (m *Metrics) RecordTargetSkip() {
	m.targetsSkipped.Inc()
}

// RecordNotification records a delivery attempt outcome.
func (m *Metrics) RecordNotification(delivered bool) {
	status := "delivered"
	if !delivered {
		status = "failed"
	}
	m.notifications.WithLabelValues(status).Inc()
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
