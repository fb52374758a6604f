// Package metrics exposes the engine's Prometheus metrics:
//
//	meanrev_events_total{type}             engine events by type
//	meanrev_exits_total{reason,direction}  closed positions by exit reason
//	meanrev_cycles_total{outcome}          finished cycles by outcome
//	meanrev_cycle_duration_seconds         cycle wall time
//	meanrev_open_positions                 positions held after the last cycle
//	meanrev_blacklisted_markets            blacklist size after the last cycle
//	meanrev_pending_intents                unresolved intents after the last cycle
//	meanrev_state_save_failures_total      cycles whose final save failed
//	meanrev_last_cycle_timestamp_seconds   end time of the last cycle
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/meanrevbot/internal/domain"
	"github.com/alanyoungcy/meanrevbot/internal/strategy"
)

// Metrics owns a private registry so tests and multiple instances do not
// collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	events        *prometheus.CounterVec
	exits         *prometheus.CounterVec
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	openPositions prometheus.Gauge
	blacklisted   prometheus.Gauge
	pending       prometheus.Gauge
	saveFailures  prometheus.Counter
	lastCycle     prometheus.Gauge
}

// New creates and registers the metric set.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meanrev_events_total",
				Help: "Engine events by type",
			},
			[]string{"type"},
		),
		exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meanrev_exits_total",
				Help: "Closed positions split by exit reason and direction",
			},
			[]string{"reason", "direction"},
		),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meanrev_cycles_total",
				Help: "Finished cycles by outcome",
			},
			[]string{"outcome"},
		),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meanrev_cycle_duration_seconds",
			Help:    "Cycle wall time",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meanrev_open_positions",
			Help: "Positions held after the last cycle",
		}),
		blacklisted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meanrev_blacklisted_markets",
			Help: "Blacklist size after the last cycle",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meanrev_pending_intents",
			Help: "Unresolved request intents after the last cycle",
		}),
		saveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meanrev_state_save_failures_total",
			Help: "Cycles whose final state save failed",
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meanrev_last_cycle_timestamp_seconds",
			Help: "Unix time the last cycle finished",
		}),
	}

	m.registry.MustRegister(
		m.events, m.exits, m.cycles, m.cycleDuration,
		m.openPositions, m.blacklisted, m.pending, m.saveFailures, m.lastCycle,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Emit counts an engine event. It satisfies domain.EventSink.
func (m *Metrics) Emit(_ context.Context, ev domain.Event) {
	m.events.WithLabelValues(string(ev.Type)).Inc()
	if ev.Type == domain.EventPositionClosed {
		m.exits.WithLabelValues(ev.Reason, string(ev.Direction)).Inc()
	}
}

// ObserveCycle records the gauges and timings of a finished cycle.
func (m *Metrics) ObserveCycle(rep strategy.CycleReport) {
	m.cycles.WithLabelValues(string(rep.Outcome)).Inc()
	m.cycleDuration.Observe(rep.Duration().Seconds())
	m.lastCycle.Set(float64(rep.FinishedAt.Unix()))
	if rep.Outcome != strategy.OutcomeCompleted {
		return
	}
	m.openPositions.Set(float64(rep.OpenPositions))
	m.blacklisted.Set(float64(rep.Blacklisted))
	m.pending.Set(float64(rep.Pending))
	if rep.SaveError != "" {
		m.saveFailures.Inc()
	}
}

// Handler serves the registry in the Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

var _ domain.EventSink = (*Metrics)(nil)
