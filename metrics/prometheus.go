// Package metrics exports limiter measurements to Prometheus.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Svaan1/woovi-leaky-bucket/limiter"
)

// PrometheusRecorder implements limiter.Recorder with a decision counter and
// a store latency histogram.
type PrometheusRecorder struct {
	decisions *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

// NewPrometheusRecorder creates the collectors and registers them on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_decisions_total",
			Help: "Bucket limiter operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bucket_store_latency_seconds",
			Help:    "Latency of bucket store round trips.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"op"}),
	}

	for _, c := range []prometheus.Collector{r.decisions, r.latency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add implements limiter.Recorder. Names are limiter metric names such as
// "bucket.consume"; the part after "bucket." becomes the op label.
func (r *PrometheusRecorder) Add(name string, value float64, tags map[string]string) {
	r.decisions.WithLabelValues(opLabel(name), tags["outcome"]).Add(value)
}

// Observe implements limiter.Recorder. Only store latency is a distribution.
func (r *PrometheusRecorder) Observe(name string, value float64, tags map[string]string) {
	if name != limiter.MetricStoreLatency {
		return
	}
	r.latency.WithLabelValues(tags["op"]).Observe(value)
}

func opLabel(name string) string {
	return strings.TrimPrefix(name, "bucket.")
}

var _ limiter.Recorder = (*PrometheusRecorder)(nil)
