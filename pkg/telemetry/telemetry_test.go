package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounters(t *testing.T) {
	r := NewRecorder()
	r.TrialCompleted("ridge", "scored", 120*time.Millisecond)
	r.TrialCompleted("ridge", "scored", 80*time.Millisecond)
	r.TrialCompleted("knn", "failed", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.trialsTotal.WithLabelValues("ridge", "scored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.trialsTotal.WithLabelValues("knn", "failed")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.trialsTotal))

	r.BestScore("accuracy", 0.91)
	assert.Equal(t, 0.91, testutil.ToFloat64(r.bestScore.WithLabelValues("accuracy")))

	r.Stage("", "searching")
	r.Stage("searching", "finalizing")
	assert.Equal(t, 0.0, testutil.ToFloat64(r.stage.WithLabelValues("searching")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stage.WithLabelValues("finalizing")))

	r.RunFinished("done")
	expected := `
# HELP otter_runs_total Finished runs by outcome
# TYPE otter_runs_total counter
otter_runs_total{outcome="done"} 1
`
	require.NoError(t, testutil.CollectAndCompare(r.runsTotal, strings.NewReader(expected)))
}

func TestHandlerServesRegistry(t *testing.T) {
	r := NewRecorder()
	r.RunFinished("cancelled")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `otter_runs_total{outcome="cancelled"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRecordersAreIndependent(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	a.RunFinished("done")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.runsTotal.WithLabelValues("done")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.runsTotal.WithLabelValues("done")))
}
