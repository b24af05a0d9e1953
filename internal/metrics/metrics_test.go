package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/authority-monitor/internal/model"
)

func TestObserveFlush(t *testing.T) {
	m := New()
	m.ObserveFlush(3, 1)
	m.ObserveFlush(2, 0)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.bufferRecords.WithLabelValues("saved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bufferRecords.WithLabelValues("dropped")))
}

func TestObserveJob(t *testing.T) {
	m := New()
	m.ObserveJob("datatable", OutcomeSuccess, time.Second)
	m.ObserveJob("datatable", OutcomeSkipped, 0)
	m.ObserveJob("datatable", OutcomeSkipped, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("datatable", OutcomeSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("datatable", OutcomeSkipped)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.jobDuration))
}

func TestObserveRequestAndRun(t *testing.T) {
	m := New()
	m.ObserveRequest("LOC", model.ActionSearch, nil)
	m.ObserveRequest("LOC", model.ActionSearch, errors.New("timeout"))
	m.ObserveRun(model.RunSummary{RunID: 42, AuthorityCount: 5, FailingAuthorityCount: 1, PassingScenarioCount: 9, FailingScenarioCount: 1, TotalScenarioCount: 10})
	m.ObserveAlerts(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("LOC", "search", OutcomeError)))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.lastRunID))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.runScenarios.WithLabelValues("total")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runAuthorities.WithLabelValues("failing")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.alertsDelivered))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveFlush(1, 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `authmon_perfbuffer_records_total{outcome="saved"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
