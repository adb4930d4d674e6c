package capture

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the interceptor.
type Metrics struct {
	ObservedTotal     *prometheus.CounterVec
	SystemPromptChars prometheus.Histogram
	LastToolCount     prometheus.Gauge
}

// NewMetrics creates the metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ObservedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "promptcap_requests_observed_total",
			Help: "Observed outbound requests by capture result.",
		}, []string{"result"}),

		SystemPromptChars: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "promptcap_system_prompt_chars",
			Help:    "Character length of captured system prompts.",
			Buckets: []float64{0, 100, 1_000, 5_000, 10_000, 25_000, 50_000, 100_000},
		}),

		LastToolCount: f.NewGauge(prometheus.GaugeOpts{
			Name: "promptcap_last_tool_count",
			Help: "Number of tools in the most recent capture.",
		}),
	}
}

func (m *Metrics) observe(result string) {
	if m == nil {
		return
	}
	m.ObservedTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) captured(systemChars, toolCount int) {
	if m == nil {
		return
	}
	m.ObservedTotal.WithLabelValues("captured").Inc()
	m.SystemPromptChars.Observe(float64(systemChars))
	m.LastToolCount.Set(float64(toolCount))
}
