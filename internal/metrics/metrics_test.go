package metrics

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestNewReturnsSharedInstance(t *testing.T) {
	m1 := New()
	m2 := New()
	if m1 != m2 {
		t.Error("New should return the same process-wide instance")
	}
}

func TestRecordJobCounters(t *testing.T) {
	m := New()

	scheduled := m.JobsScheduled.Value()
	completed := m.JobsCompleted.Value()
	failed := m.JobsFailed.Value()

	m.RecordJobScheduled()
	m.RecordJobCompleted()
	m.RecordJobFailed()

	if got := m.JobsScheduled.Value(); got != scheduled+1 {
		t.Errorf("jobs scheduled = %d, want %d", got, scheduled+1)
	}
	if got := m.JobsCompleted.Value(); got != completed+1 {
		t.Errorf("jobs completed = %d, want %d", got, completed+1)
	}
	if got := m.JobsFailed.Value(); got != failed+1 {
		t.Errorf("jobs failed = %d, want %d", got, failed+1)
	}
}

func TestRecordDispatchCounters(t *testing.T) {
	m := New()

	sent := m.EmailsSent.Value()
	m.RecordEmailSent()
	if got := m.EmailsSent.Value(); got != sent+1 {
		t.Errorf("emails sent = %d, want %d", got, sent+1)
	}

	failed := m.EmailsFailed.Value()
	m.RecordEmailFailed()
	if got := m.EmailsFailed.Value(); got != failed+1 {
		t.Errorf("emails failed = %d, want %d", got, failed+1)
	}

	dispatched := m.WebhookDispatched.Value()
	m.RecordWebhookDispatched()
	if got := m.WebhookDispatched.Value(); got != dispatched+1 {
		t.Errorf("webhooks dispatched = %d, want %d", got, dispatched+1)
	}

	webhookFailed := m.WebhookFailed.Value()
	m.RecordWebhookFailed()
	if got := m.WebhookFailed.Value(); got != webhookFailed+1 {
		t.Errorf("webhooks failed = %d, want %d", got, webhookFailed+1)
	}
}

func TestRecordErrorDoesNotPanic(t *testing.T) {
	m := New()
	m.RecordError("scraper_client")
	m.RecordError("conflict")
	m.RecordError("scraper_client")
}

func TestReadinessReflectsSetReady(t *testing.T) {
	m := New()
	m.SetReady(false)

	req := httpGetRequest(t, "/ready")
	rr := &testResponseWriter{}
	m.readinessHandler(rr, req)
	if rr.statusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rr.statusCode, http.StatusServiceUnavailable)
	}

	m.SetReady(true)
	rr2 := &testResponseWriter{}
	m.readinessHandler(rr2, req)
	if rr2.statusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", rr2.statusCode, http.StatusOK)
	}
	if !strings.Contains(string(rr2.body), `"status":"ready"`) {
		t.Errorf("body = %q, want it to contain ready status", rr2.body)
	}
}

func TestHealthHandlerAlwaysHealthy(t *testing.T) {
	m := New()

	req := httpGetRequest(t, "/health")
	rr := &testResponseWriter{}
	m.healthHandler(rr, req)

	if rr.statusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.statusCode, http.StatusOK)
	}
	if rr.header.Get("Content-Type") != "application/json" {
		t.Error("expected JSON content type")
	}
	if !strings.Contains(string(rr.body), `"status":"healthy"`) {
		t.Errorf("body = %q, want it to contain healthy status", rr.body)
	}
}

func TestStartMetricsServerStopsOnContextCancel(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.StartMetricsServer(ctx, 0) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("StartMetricsServer returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("metrics server did not shut down after context cancel")
	}
}

func httpGetRequest(t *testing.T, path string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

type testResponseWriter struct {
	header     http.Header
	body       []byte
	statusCode int
}

func (rw *testResponseWriter) Header() http.Header {
	if rw.header == nil {
		rw.header = make(http.Header)
	}
	return rw.header
}

func (rw *testResponseWriter) Write(data []byte) (int, error) {
	rw.body = append(rw.body, data...)
	return len(data), nil
}

func (rw *testResponseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
}
