package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveStageDuration("patch", 150*time.Millisecond)
	pr.IncStageResult("patch", ResultSuccess)
	pr.ObserveBuildDuration(40 * time.Second)
	pr.IncBuildOutcome(BuildOutcomeSuccess)
	pr.SetQueueLength(3)
	pr.IncRecovery(true)
	pr.IncContentFetch("archive", true)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"webapk_stage_duration_seconds",
		"webapk_build_outcomes_total",
		"webapk_queue_length",
		"webapk_recoveries_total",
		"webapk_content_fetch_total",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}

func TestHTTPHandlerServesRegistry(t *testing.T) {
	reg := prom.NewRegistry()
	NewPrometheusRecorder(reg).SetQueueLength(2)

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "webapk_queue_length 2")
}

func TestNoopRecorderSatisfiesInterface(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.IncBuildOutcome(BuildOutcomeFailed)
	r.SetQueueLength(1)
}
