package service

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

func TestMetricsServiceRecordsDomainCollectors(t *testing.T) {
	m := NewMetricsService()

	m.ObserveStorage("local", "open", OutcomeMissing, 3*time.Millisecond)
	m.ObserveStorage("cloud", "write", OutcomeOK, 40*time.Millisecond)
	m.RecordPermissionDenied("edit")
	m.RecordPermissionDenied("edit")
	m.RecordMirrorJob("failed")
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)

	count, err := testutil.GatherAndCount(m.Registry(), "storage_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.permissionDeny.WithLabelValues("edit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.mirrorJobs.WithLabelValues("failed")))
	assert.InDelta(t, 0.5, testutil.ToFloat64(m.cacheHitRatio), 0.0001)
}

func TestMetricsHandlerServesExposition(t *testing.T) {
	m := NewMetricsService()
	m.SetInconsistentRecords(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "storage_inconsistent_records 4"))
}

func TestNilMetricsServiceIsSafe(t *testing.T) {
	var m *MetricsService
	m.ObserveStorage("local", "write", OutcomeError, time.Millisecond)
	m.RecordPermissionDenied("view")
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
