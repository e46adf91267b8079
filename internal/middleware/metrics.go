package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/bryanwahyu/metro-bim/internal/domain/failures"
)

// Metrics stores application metrics
type Metrics struct {
	RequestsTotal      uint64
	RequestsInProgress uint64
	RequestsSuccess    uint64
	RequestsFailed     uint64
	AnalysesTotal      uint64
	AnalysesFailed     uint64
	IngestionsTotal    uint64
	IngestionsFailed   uint64
	EvidenceTotal      uint64
	EvidenceFailed     uint64
	UnitsRunning       uint64
	StartTime          time.Time
}

var globalMetrics = &Metrics{
	StartTime: time.Now(),
}

func IncrementRequests()     { atomic.AddUint64(&globalMetrics.RequestsTotal, 1) }
func IncrementInProgress()   { atomic.AddUint64(&globalMetrics.RequestsInProgress, 1) }
func DecrementInProgress()   { atomic.AddUint64(&globalMetrics.RequestsInProgress, ^uint64(0)) }
func IncrementSuccess()      { atomic.AddUint64(&globalMetrics.RequestsSuccess, 1) }
func IncrementFailed()       { atomic.AddUint64(&globalMetrics.RequestsFailed, 1) }
func IncrementUnitsRunning() { atomic.AddUint64(&globalMetrics.UnitsRunning, 1) }
func DecrementUnitsRunning() { atomic.AddUint64(&globalMetrics.UnitsRunning, ^uint64(0)) }

// RecordUnit counts one finished unit of work of the given kind.
func RecordUnit(unit failures.Unit, err error) {
	var total, failed *uint64
	switch unit {
	case failures.UnitAnalysis:
		total, failed = &globalMetrics.AnalysesTotal, &globalMetrics.AnalysesFailed
	case failures.UnitIngestion:
		total, failed = &globalMetrics.IngestionsTotal, &globalMetrics.IngestionsFailed
	case failures.UnitEvidence:
		total, failed = &globalMetrics.EvidenceTotal, &globalMetrics.EvidenceFailed
	default:
		return
	}
	atomic.AddUint64(total, 1)
	if err != nil {
		atomic.AddUint64(failed, 1)
	}
}

// GetMetrics returns current metrics
func GetMetrics() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"requests_total":       atomic.LoadUint64(&globalMetrics.RequestsTotal),
		"requests_in_progress": atomic.LoadUint64(&globalMetrics.RequestsInProgress),
		"requests_success":     atomic.LoadUint64(&globalMetrics.RequestsSuccess),
		"requests_failed":      atomic.LoadUint64(&globalMetrics.RequestsFailed),
		"analyses_total":       atomic.LoadUint64(&globalMetrics.AnalysesTotal),
		"analyses_failed":      atomic.LoadUint64(&globalMetrics.AnalysesFailed),
		"ingestions_total":     atomic.LoadUint64(&globalMetrics.IngestionsTotal),
		"ingestions_failed":    atomic.LoadUint64(&globalMetrics.IngestionsFailed),
		"evidence_total":       atomic.LoadUint64(&globalMetrics.EvidenceTotal),
		"evidence_failed":      atomic.LoadUint64(&globalMetrics.EvidenceFailed),
		"units_running":        atomic.LoadUint64(&globalMetrics.UnitsRunning),
		"uptime_seconds":       time.Since(globalMetrics.StartTime).Seconds(),
		"memory": map[string]interface{}{
			"alloc_bytes":       m.Alloc,
			"total_alloc_bytes": m.TotalAlloc,
			"sys_bytes":         m.Sys,
			"num_gc":            m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
}

// MetricsMiddleware tracks request metrics
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		IncrementRequests()
		IncrementInProgress()
		defer DecrementInProgress()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		if wrapped.statusCode >= 200 && wrapped.statusCode < 400 {
			IncrementSuccess()
		} else {
			IncrementFailed()
		}
	})
}

// MetricsHandler returns metrics as JSON
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(GetMetrics())
}
