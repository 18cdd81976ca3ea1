package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "webapk"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	stageDuration *prom.HistogramVec
	stageResults  *prom.CounterVec
	buildDuration prom.Histogram
	buildOutcome  *prom.CounterVec
	queueLength   prom.Gauge
	recoveries    *prom.CounterVec
	contentFetch  *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual build cycle stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"}),
		stageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"}),
		buildDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Total duration of a build cycle from dequeue to result",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		buildOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status",
		}, []string{"outcome"}),
		queueLength: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Number of build requests waiting for the worker",
		}),
		recoveries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Recovery supervisor runs by whether a repair was needed",
		}, []string{"repaired"}),
		contentFetch: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "content_fetch_total",
			Help:      "Content acquisitions by source kind and result",
		}, []string{"kind", "result"}),
	}
	reg.MustRegister(pr.stageDuration, pr.stageResults, pr.buildDuration, pr.buildOutcome,
		pr.queueLength, pr.recoveries, pr.contentFetch)
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome BuildOutcomeLabel) {
	if p == nil {
		return
	}
	p.buildOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) SetQueueLength(n int) {
	if p == nil {
		return
	}
	p.queueLength.Set(float64(n))
}

func (p *PrometheusRecorder) IncRecovery(repaired bool) {
	if p == nil {
		return
	}
	p.recoveries.WithLabelValues(boolLabel(repaired)).Inc()
}

func (p *PrometheusRecorder) IncContentFetch(kind string, success bool) {
	if p == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.contentFetch.WithLabelValues(kind, res).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
