package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeHealth(t *testing.T, rec *httptest.ResponseRecorder) HealthStatus {
	t.Helper()
	var h HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	return h
}

func TestHealthHandlerUnknownBeforeFirstPoll(t *testing.T) {
	resetHealthForTest()

	rec := httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	h := decodeHealth(t, rec)
	assert.Equal(t, "unknown", h.Status)
	assert.False(t, h.CacheReachable)
}

func TestHealthHandlerHealthyAfterSuccessfulPoll(t *testing.T) {
	resetHealthForTest()
	ReportCachePoll(nil)

	rec := httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	h := decodeHealth(t, rec)
	assert.Equal(t, "healthy", h.Status)
	assert.True(t, h.CacheReachable)
	assert.Empty(t, h.CacheError)
}

func TestHealthHandlerUnhealthyOnCachePollError(t *testing.T) {
	resetHealthForTest()
	ReportCachePoll(errors.New("dial tcp: connection refused"))

	rec := httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	h := decodeHealth(t, rec)
	assert.Equal(t, "unhealthy", h.Status)
	assert.False(t, h.CacheReachable)
	assert.Contains(t, h.CacheError, "connection refused")
}

func TestHealthHandlerDegradedAfterLeaseLostButCacheRecovered(t *testing.T) {
	resetHealthForTest()
	ReportCachePoll(errors.New("backend full"))
	ReportLeaseLost()
	ReportCachePoll(nil)

	rec := httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	h := decodeHealth(t, rec)
	assert.Equal(t, "degraded", h.Status)
	assert.True(t, h.LeaseEverLost)
	assert.True(t, h.CacheReachable)
}

func TestReportLeaseLostLatchesAcrossSubsequentPolls(t *testing.T) {
	resetHealthForTest()
	ReportLeaseLost()
	ReportCachePoll(nil)
	ReportCachePoll(nil)

	rec := httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	h := decodeHealth(t, rec)
	assert.True(t, h.LeaseEverLost, "lease-lost latch must not clear on a later successful poll")
}

func TestReadyHandlerNotReadyBeforeFirstPoll(t *testing.T) {
	resetHealthForTest()

	rec := httptest.NewRecorder()
	ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadyHandlerReadyAfterSuccessfulPoll(t *testing.T) {
	resetHealthForTest()
	ReportCachePoll(nil)

	rec := httptest.NewRecorder()
	ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyHandlerNotReadyWhenCacheUnreachable(t *testing.T) {
	resetHealthForTest()
	ReportCachePoll(nil)
	ReportCachePoll(errors.New("OOM command not allowed"))

	rec := httptest.NewRecorder()
	ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLivenessHandlerAlwaysOK(t *testing.T) {
	resetHealthForTest()
	ReportCachePoll(errors.New("down"))

	rec := httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "alive", body["status"])
}

func TestSetProducerUpReflectedInSnapshot(t *testing.T) {
	resetHealthForTest()
	SetProducerUp(true)

	rec := httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	h := decodeHealth(t, rec)
	assert.True(t, h.ProducerUp)

	SetProducerUp(false)
	rec = httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	h = decodeHealth(t, rec)
	assert.False(t, h.ProducerUp)
}
