package observer

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus records sandbox metrics into a registry.
type Prometheus struct {
	compiles       *prometheus.CounterVec
	compileSeconds *prometheus.HistogramVec
	runs           *prometheus.CounterVec
	runSeconds     *prometheus.HistogramVec
	runMemory      *prometheus.HistogramVec
	verdicts       *prometheus.CounterVec
	containerStart *prometheus.HistogramVec
	rejected       *prometheus.CounterVec
}

// NewPrometheus registers the sandbox collectors on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandbox_compiles_total",
			Help: "Compilations by language and outcome.",
		}, []string{"language", "ok"}),
		compileSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sandbox_compile_duration_seconds",
			Help:    "Compilation wall time.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16},
		}, []string{"language"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandbox_case_runs_total",
			Help: "Executed cases by backend and outcome.",
		}, []string{"backend", "failed"}),
		runSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sandbox_case_duration_seconds",
			Help:    "Per-case wall time.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"backend"}),
		runMemory: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sandbox_case_memory_bytes",
			Help:    "Per-case peak memory where the backend measures it.",
			Buckets: prometheus.ExponentialBuckets(1<<20, 2, 10),
		}, []string{"backend"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandbox_verdicts_total",
			Help: "Judgments by backend and final status.",
		}, []string{"backend", "status"}),
		containerStart: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sandbox_container_start_seconds",
			Help:    "Time to create and start a session container.",
			Buckets: []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5},
		}, []string{"ok"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandbox_requests_rejected_total",
			Help: "Requests refused before judging.",
		}, []string{"reason"}),
	}
	reg.MustRegister(p.compiles, p.compileSeconds, p.runs, p.runSeconds, p.runMemory, p.verdicts, p.containerStart, p.rejected)
	return p
}

func (p *Prometheus) ObserveCompile(_ context.Context, languageID string, ok bool, timeMs int64) {
	p.compiles.WithLabelValues(languageID, strconv.FormatBool(ok)).Inc()
	p.compileSeconds.WithLabelValues(languageID).Observe(msToSeconds(timeMs))
}

func (p *Prometheus) ObserveRun(_ context.Context, backend string, failed bool, timeMs int64, memoryBytes int64, memoryMeasured bool) {
	p.runs.WithLabelValues(backend, strconv.FormatBool(failed)).Inc()
	p.runSeconds.WithLabelValues(backend).Observe(msToSeconds(timeMs))
	if memoryMeasured {
		p.runMemory.WithLabelValues(backend).Observe(float64(memoryBytes))
	}
}

func (p *Prometheus) ObserveVerdict(_ context.Context, backend string, status string) {
	p.verdicts.WithLabelValues(backend, status).Inc()
}

func (p *Prometheus) ObserveContainerStart(_ context.Context, d time.Duration, ok bool) {
	p.containerStart.WithLabelValues(strconv.FormatBool(ok)).Observe(d.Seconds())
}

func (p *Prometheus) ObserveRejected(_ context.Context, reason string) {
	p.rejected.WithLabelValues(reason).Inc()
}

func msToSeconds(ms int64) float64 {
	return float64(ms) / 1000
}
