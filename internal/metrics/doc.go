// Package metrics provides the observability hooks of the build orchestrator.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics collection never needs nil checks:
//
//	coord := queue.New(cfg, processor)
//	coord.SetRecorder(metrics.NewPrometheusRecorder(reg))
//
// PrometheusRecorder registers its collectors on the provided registry and
// HTTPHandler exposes that registry for scraping.
package metrics
