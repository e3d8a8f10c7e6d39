package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// process tracks this pipeline's liveness signals: whether the metrics
// Collector's last poll of the staging cache succeeded (collector.go),
// whether a dump ever observed its lease evaporate mid-dump
// (pkg/cache/lease.go's renewal loop), and whether the Producer currently
// has a replication stream attached.
var process = &health{startTime: time.Now()}

type health struct {
	mu sync.RWMutex

	startTime     time.Time
	cacheOK       bool
	cacheErr      string
	lastPoll      time.Time
	producerUp    bool
	leaseEverLost int32 // atomic bool; latches true, never resets within a process
}

// ReportCachePoll records the outcome of the Collector's periodic Size()/
// Tables() poll of the Staging Cache. A nil err means the backend answered.
func ReportCachePoll(err error) {
	process.mu.Lock()
	defer process.mu.Unlock()
	process.lastPoll = time.Now()
	process.cacheOK = err == nil
	if err != nil {
		process.cacheErr = err.Error()
	} else {
		process.cacheErr = ""
	}
}

// SetProducerUp records whether the Producer currently holds an attached
// replication stream against MySQL.
func SetProducerUp(up bool) {
	process.mu.Lock()
	defer process.mu.Unlock()
	process.producerUp = up
}

// ReportLeaseLost latches that a dump detected its lease evaporate before
// reaching its per-table clear (pkg/cache/lease.go). It never un-latches:
// losing the lease once means the backend evicted it under load, which is
// worth a human's attention even after the next dump cycle recovers.
func ReportLeaseLost() {
	atomic.StoreInt32(&process.leaseEverLost, 1)
}

func resetHealthForTest() {
	process = &health{startTime: time.Now()}
}

// HealthStatus is the JSON payload served by /health and /ready.
type HealthStatus struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	Uptime         string    `json:"uptime"`
	CacheReachable bool      `json:"cache_reachable"`
	CacheError     string    `json:"cache_error,omitempty"`
	LastCachePoll  time.Time `json:"last_cache_poll,omitempty"`
	LeaseEverLost  bool      `json:"lease_ever_lost"`
	ProducerUp     bool      `json:"producer_up"`
}

func snapshot() HealthStatus {
	process.mu.RLock()
	defer process.mu.RUnlock()

	status := "healthy"
	switch {
	case process.lastPoll.IsZero():
		status = "unknown"
	case !process.cacheOK:
		status = "unhealthy"
	case atomic.LoadInt32(&process.leaseEverLost) == 1:
		status = "degraded"
	}

	return HealthStatus{
		Status:         status,
		Timestamp:      time.Now(),
		Uptime:         time.Since(process.startTime).String(),
		CacheReachable: process.cacheOK,
		CacheError:     process.cacheErr,
		LastCachePoll:  process.lastPoll,
		LeaseEverLost:  atomic.LoadInt32(&process.leaseEverLost) == 1,
		ProducerUp:     process.producerUp,
	}
}

// HealthHandler serves a snapshot of the process's liveness signals.
// "unhealthy" (the cache poll failed) maps to 503; "degraded" (a lease was
// lost at some point but the cache is reachable again) and "unknown" (no
// poll has completed yet) still report 200.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := snapshot()
		w.Header().Set("Content-Type", "application/json")
		code := http.StatusOK
		if h.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(h)
	}
}

// ReadyHandler reports readiness: the Staging Cache must have answered at
// least one poll, and the most recent poll must have succeeded.
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := snapshot()
		w.Header().Set("Content-Type", "application/json")
		code := http.StatusOK
		if h.LastCachePoll.IsZero() || !h.CacheReachable {
			code = http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(h)
	}
}

// LivenessHandler always reports 200 while the process is running; it is a
// process-alive check, not a dependency check.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(process.startTime).String(),
		})
	}
}
