// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder records engine outcomes. Component examples: "scheduler",
// "executor", "reconciler", "validator". Outcome examples: "sent", "transient",
// "hard", "repaired", "skipped".
type Recorder interface {
	RecordOutcome(component, outcome string, n int)
	RecordDuration(component, operation string, d time.Duration)
}

type Prometheus struct {
	registry  *prometheus.Registry
	outcomes  *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

func NewPrometheus(namespace string) (*Prometheus, error) {
	registry := prometheus.NewRegistry()

	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outcomes_total",
		Help:      "Engine outcomes by component.",
	}, []string{"component", "outcome"})

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Duration of engine operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"component", "operation"})

	for _, c := range []prometheus.Collector{outcomes, durations} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return &Prometheus{registry: registry, outcomes: outcomes, durations: durations}, nil
}

func (p *Prometheus) RecordOutcome(component, outcome string, n int) {
	if n <= 0 {
		return
	}
	p.outcomes.WithLabelValues(component, outcome).Add(float64(n))
}

func (p *Prometheus) RecordDuration(component, operation string, d time.Duration) {
	p.durations.WithLabelValues(component, operation).Observe(d.Seconds())
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Nop is used when metrics are disabled.
type Nop struct{}

func (Nop) RecordOutcome(string, string, int) {}
func (Nop) RecordDuration(string, string, time.Duration) {}
