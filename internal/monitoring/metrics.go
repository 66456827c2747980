// Package monitoring holds the Prometheus collectors of the run pipeline.
package monitoring

// File: internal/monitoring/metrics.go
// Purpose: Run, stage, LLM and analysis metrics behind a private registry.

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for perf-api. A nil *Metrics is a no-op.
type Metrics struct {
	RunsTotal     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	LLMCalls      *prometheus.CounterVec
	AnalysisTotal *prometheus.CounterVec
	ActiveRuns    prometheus.Gauge
	registry      *prometheus.Registry
}

// New creates the collectors on a fresh registry, so tests can build as many as they like.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perf_runs_total",
				Help: "Load test runs by foreground outcome",
			},
			[]string{"outcome"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "perf_stage_duration_seconds",
				Help:    "Duration of run pipeline stages",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 9),
			},
			[]string{"stage"},
		),
		LLMCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perf_llm_calls_total",
				Help: "LLM provider attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		AnalysisTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perf_analysis_total",
				Help: "Background analyses by outcome",
			},
			[]string{"outcome"},
		),
		ActiveRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "perf_runs_active",
				Help: "Runs currently in their foreground stages",
			},
		),
		registry: registry,
	}

	registry.MustRegister(m.RunsTotal)
	registry.MustRegister(m.StageDuration)
	registry.MustRegister(m.LLMCalls)
	registry.MustRegister(m.AnalysisTotal)
	registry.MustRegister(m.ActiveRuns)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRun counts a finished foreground run.
func (m *Metrics) ObserveRun(outcome string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a pipeline stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveLLMCall counts one provider attempt.
func (m *Metrics) ObserveLLMCall(provider, outcome string) {
	if m == nil {
		return
	}
	m.LLMCalls.WithLabelValues(provider, outcome).Inc()
}

// ObserveAnalysis counts a finished background analysis.
func (m *Metrics) ObserveAnalysis(outcome string) {
	if m == nil {
		return
	}
	m.AnalysisTotal.WithLabelValues(outcome).Inc()
}

// RunStarted increments the active-run gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunFinished decrements the active-run gauge.
func (m *Metrics) RunFinished() {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
}
