package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/plans/{planId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := m.Middleware(mux)

	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/plans/"+id, nil))
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "GET /api/plans/{planId}", "404")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HTTPRequestsInFlight))
}

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordSweep(2, nil)
	m.RecordDispatch("plan", "sent")
	m.SetNodeCounts(map[string]int{"ONLINE": 3})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MonitorSweeps))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MonitorDemotions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchTotal.WithLabelValues("plan", "sent")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.NodesByStatus.WithLabelValues("ONLINE")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.NodesByStatus.WithLabelValues("OFFLINE")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSweep(1, nil)
		m.RecordDispatch("task", "failed")
		m.WSConnectionOpened()
		m.RecordLogUpload(10)
	})
}
