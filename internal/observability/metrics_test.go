package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordTransition("ADVANCED")
	m.RecordRestore("PROCESS", map[string]int{"answer": 1})
	m.RecordPurged(3)
}

func TestRecordCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)

	m.RecordTransition("ADVANCED")
	m.RecordTransition("ADVANCED")
	m.RecordValidationFailure("finance")
	m.RecordRestore("PROCESS", map[string]int{"answer": 2})
	m.RecordPurged(4)
	m.RecordPurged(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("ADVANCED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidationFailures.WithLabelValues("finance")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrashRestoresTotal.WithLabelValues("PROCESS")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RestoreSkippedTotal.WithLabelValues("answer")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.TrashPurgedTotal))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/processes/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/processes/abc", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/processes/{id}", "418")))
}

func TestLoggerContext(t *testing.T) {
	l := zap.NewExample()
	ctx := WithLogger(context.Background(), l)
	assert.Same(t, l, LoggerFrom(ctx, nil))
	assert.NotNil(t, LoggerFrom(context.Background(), nil))

	logger, err := NewLogger("bogus", false)
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
