package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordDispatch()
	m.RecordDispatch()
	m.RecordOutcome(OutcomeSuccess, time.Second)
	m.RecordOutcome("timeout", time.Minute)
	m.RecordRows(10, 2)
	m.SetPending(3)
	m.SetLiveWorkers(4)
	m.RecordDiscardedResponse()
	m.RecordWorkerExit(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tasksDispatched))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.taskOutcomes.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.taskOutcomes.WithLabelValues("timeout")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.rows.WithLabelValues("processed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.rows.WithLabelValues("skipped")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.pendingTasks))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.liveWorkers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.discardedResponses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.workerExits.WithLabelValues("false")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDispatch()
		m.RecordOutcome(OutcomeSuccess, time.Second)
		m.RecordRows(1, 1)
		m.SetPending(1)
		m.SetLiveWorkers(1)
		m.RecordDiscardedResponse()
		m.RecordWorkerExit(true)
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg).RecordDiscardedResponse()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "bulkload_pool_discarded_responses_total 1"))
}
