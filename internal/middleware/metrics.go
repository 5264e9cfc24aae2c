package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics stores application counters. The zero value is not usable; call NewMetrics.
type Metrics struct {
	requestsTotal      atomic.Uint64
	requestsInProgress atomic.Int64
	requestsSuccess    atomic.Uint64
	requestsFailed     atomic.Uint64

	uploadsTotal      atomic.Uint64
	filesUploaded     atomic.Uint64
	uploadsFailed     atomic.Uint64
	executionsStarted atomic.Uint64
	statusChecks      atomic.Uint64
	terminalChecks    atomic.Uint64
	reportsServed     atomic.Uint64
	reportsFailed     atomic.Uint64
	exportsTotal      atomic.Uint64

	startTime time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// Upload records one upload request; files is zero when the request failed.
func (m *Metrics) Upload(files int, err error) {
	m.uploadsTotal.Add(1)
	if err != nil {
		m.uploadsFailed.Add(1)
		return
	}
	m.filesUploaded.Add(uint64(files))
	m.executionsStarted.Add(1)
}

// StatusCheck records one status poll and whether it saw a terminal status.
// Repeated polls of one finished execution each count.
func (m *Metrics) StatusCheck(terminal bool) {
	m.statusChecks.Add(1)
	if terminal {
		m.terminalChecks.Add(1)
	}
}

func (m *Metrics) Report(err error) {
	if err != nil {
		m.reportsFailed.Add(1)
		return
	}
	m.reportsServed.Add(1)
}

func (m *Metrics) Export() { m.exportsTotal.Add(1) }

// Snapshot returns current metrics
func (m *Metrics) Snapshot() map[string]any {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return map[string]any{
		"requests_total":         m.requestsTotal.Load(),
		"requests_in_progress":   m.requestsInProgress.Load(),
		"requests_success":       m.requestsSuccess.Load(),
		"requests_failed":        m.requestsFailed.Load(),
		"uploads_total":          m.uploadsTotal.Load(),
		"uploads_failed":         m.uploadsFailed.Load(),
		"files_uploaded":         m.filesUploaded.Load(),
		"executions_started":     m.executionsStarted.Load(),
		"terminal_status_checks": m.terminalChecks.Load(),
		"status_checks":          m.statusChecks.Load(),
		"reports_served":         m.reportsServed.Load(),
		"reports_failed":         m.reportsFailed.Load(),
		"exports_total":          m.exportsTotal.Load(),
		"uptime_seconds":         time.Since(m.startTime).Seconds(),
		"memory": map[string]any{
			"alloc_bytes":       ms.Alloc,
			"total_alloc_bytes": ms.TotalAlloc,
			"sys_bytes":         ms.Sys,
			"num_gc":            ms.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
}

// Middleware tracks request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.requestsTotal.Add(1)
		m.requestsInProgress.Add(1)
		defer m.requestsInProgress.Add(-1)

		wrapped := wrapWriter(w)
		next.ServeHTTP(wrapped, r)

		if wrapped.statusCode >= 200 && wrapped.statusCode < 400 {
			m.requestsSuccess.Add(1)
		} else {
			m.requestsFailed.Add(1)
		}
	})
}

// Handler returns metrics as JSON
func (m *Metrics) Handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.Snapshot())
}
