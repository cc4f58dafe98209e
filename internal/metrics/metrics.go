// Package metrics exposes the Scheduler Core's own operational
// counters (jobs scheduled/completed/failed, Task-run dispatch
// outcomes, error counts by retrackerr.Kind) over expvar, plus a
// liveness/readiness HTTP surface for process supervisors.
package metrics

import (
	"context"
	"expvar"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Metrics holds the engine's process-wide counters. expvar names are
// process-global, so the registration below runs exactly once
// regardless of how many times New is called (one process typically
// runs one Scheduler, but tests construct several against the same
// binary).
type Metrics struct {
	JobsScheduled      *expvar.Int
	JobsCompleted      *expvar.Int
	JobsFailed         *expvar.Int
	EmailsSent         *expvar.Int
	EmailsFailed       *expvar.Int
	WebhookDispatched  *expvar.Int
	WebhookFailed      *expvar.Int
	ErrorCounts        *expvar.Map

	ready     atomic.Bool
	startTime time.Time
	log       *logrus.Logger
}

var (
	instance *Metrics
	once     sync.Once
)

// New returns the process's shared Metrics instance, creating and
// registering it with expvar on first call.
func New() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			JobsScheduled:     expvar.NewInt("retrack_jobs_scheduled_total"),
			JobsCompleted:     expvar.NewInt("retrack_jobs_completed_total"),
			JobsFailed:        expvar.NewInt("retrack_jobs_failed_total"),
			EmailsSent:        expvar.NewInt("retrack_emails_sent_total"),
			EmailsFailed:      expvar.NewInt("retrack_emails_failed_total"),
			WebhookDispatched: expvar.NewInt("retrack_webhooks_dispatched_total"),
			WebhookFailed:     expvar.NewInt("retrack_webhooks_failed_total"),
			ErrorCounts:       expvar.NewMap("retrack_error_counts"),
			startTime:         time.Now(),
			log:               logrus.New(),
		}
		expvar.Publish("retrack_uptime_seconds", expvar.Func(func() any {
			return int64(time.Since(instance.startTime).Seconds())
		}))
	})
	return instance
}

func (m *Metrics) RecordJobScheduled() { m.JobsScheduled.Add(1) }
func (m *Metrics) RecordJobCompleted() { m.JobsCompleted.Add(1) }
func (m *Metrics) RecordJobFailed()    { m.JobsFailed.Add(1) }

func (m *Metrics) RecordEmailSent()   { m.EmailsSent.Add(1) }
func (m *Metrics) RecordEmailFailed() { m.EmailsFailed.Add(1) }

func (m *Metrics) RecordWebhookDispatched() { m.WebhookDispatched.Add(1) }
func (m *Metrics) RecordWebhookFailed()     { m.WebhookFailed.Add(1) }

// RecordError tallies a failure by its retrackerr.Kind string.
func (m *Metrics) RecordError(kind string) {
	m.ErrorCounts.Add(kind, 1)
}

// SetReady flips the readiness probe; the Scheduler calls this from
// Start/Stop so /ready reflects whether the dispatch loop is running.
func (m *Metrics) SetReady(ready bool) {
	m.ready.Store(ready)
}

// StartMetricsServer serves expvar plus liveness/readiness endpoints
// until ctx is done.
func (m *Metrics) StartMetricsServer(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/health", m.healthHandler)
	mux.HandleFunc("/ready", m.readinessHandler)

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			m.log.Errorf("metrics server shutdown: %v", err)
		}
	}()

	m.log.Infof("metrics server starting on port %d", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (m *Metrics) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
}

func (m *Metrics) readinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if m.ready.Load() {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte(`{"status":"not_ready"}`))
}
