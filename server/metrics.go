package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/teranos/specix/builder"
)

const metricsNamespace = "specix"

// metrics holds the server's collectors on a private registry
type metrics struct {
	registry *prometheus.Registry

	ingestTotal    *prometheus.CounterVec
	ingestDuration prometheus.Histogram
	ingestBytes    prometheus.Histogram
	builderStatus  *prometheus.GaugeVec
	sweptRuns      prometheus.Counter
	wsClients      prometheus.Gauge
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &metrics{
		registry: reg,
		ingestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "ingest_total",
				Help:      "Document ingestions by outcome",
			},
			[]string{"outcome"},
		),
		ingestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time from request to validated document or failure",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		}),
		ingestBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "ingest_bytes",
			Help:      "Size of successfully ingested documents",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		builderStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "builder_status",
				Help:      "1 for the builder's current status, 0 otherwise",
			},
			[]string{"status"},
		),
		sweptRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "temp_runs_swept_total",
			Help:      "Orphaned temp run directories removed by the sweeper",
		}),
		wsClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "status_stream_clients",
			Help:      "Connected status stream clients",
		}),
	}
}

func (m *metrics) observeIngest(outcome string, elapsed time.Duration, bytes int64) {
	m.ingestTotal.WithLabelValues(outcome).Inc()
	m.ingestDuration.Observe(elapsed.Seconds())
	if outcome == "success" {
		m.ingestBytes.Observe(float64(bytes))
	}
}

func (m *metrics) setBuilderStatus(current builder.Status) {
	for _, s := range builder.Statuses {
		v := 0.0
		if s == current {
			v = 1
		}
		m.builderStatus.WithLabelValues(string(s)).Set(v)
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
