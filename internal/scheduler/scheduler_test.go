package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/retrack-dev/engine/internal/action"
	"github.com/retrack-dev/engine/internal/engineconfig"
	"github.com/retrack-dev/engine/internal/fetch"
	"github.com/retrack-dev/engine/internal/revision"
	"github.com/retrack-dev/engine/retracklog"
	"github.com/retrack-dev/engine/internal/scripthost"
	"github.com/retrack-dev/engine/internal/store"
	"github.com/retrack-dev/engine/internal/types"
	"github.com/retrack-dev/engine/internal/webhookclient"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestScheduler(t *testing.T, s *store.Store, scraperBaseURL string) *Scheduler {
	t.Helper()
	cfg := engineconfig.Default()
	cfg.ScraperBaseURL = scraperBaseURL
	limits := scripthost.Limits{MaxExecutionTime: time.Second, MaxHeapBytes: cfg.JSRuntime.MaxHeapSize}

	pipeline := fetch.New(s, scraperBaseURL, false, limits)
	dispatcher := action.New(s, limits, retracklog.NewSilent())
	engine := revision.New(s, dispatcher, cfg.MaxRevisions, retracklog.NewSilent())

	return New(s, cfg, pipeline, engine, nil, webhookclient.New(time.Second), retracklog.NewSilent(), "test-instance")
}

func TestMetadataCodecRoundTrip(t *testing.T) {
	m := types.SchedulerJobMetadata{JobType: types.SchedulerJobTypePerTrackerRun, IsRunning: true, RetryAttempt: 3}
	decoded, err := DecodeMetadata(EncodeMetadata(m))
	if err != nil {
		t.Fatalf("DecodeMetadata: %v", err)
	}
	if decoded != m {
		t.Errorf("got %+v, want %+v", decoded, m)
	}
}

func TestMetadataCodecRejectsUnknownJobType(t *testing.T) {
	if _, err := DecodeMetadata([]byte{99, 0, 0}); err == nil {
		t.Error("expected an error for an unrecognized job_type")
	}
}

func TestValidateFloorRejectsTooFrequent(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := ValidateFloor("@every 1s", 10*time.Second, from); err == nil {
		t.Error("expected a 1s cadence to be rejected by a 10s floor")
	}
	if err := ValidateFloor("@every 1m", 10*time.Second, from); err != nil {
		t.Errorf("expected a 1m cadence to pass a 10s floor: %v", err)
	}
}

func TestEnsureSingletonsCreatesBothJobs(t *testing.T) {
	s := openTestStore(t)
	sched := newTestScheduler(t, s, "http://scraper.invalid")

	if err := sched.ensureSingletons(context.Background()); err != nil {
		t.Fatalf("ensureSingletons: %v", err)
	}

	jobs, err := s.StreamSchedulerJobs()
	if err != nil {
		t.Fatalf("StreamSchedulerJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 singleton jobs, got %d", len(jobs))
	}

	// Re-running must not create duplicates.
	if err := sched.ensureSingletons(context.Background()); err != nil {
		t.Fatalf("ensureSingletons (2nd): %v", err)
	}
	jobs, _ = s.StreamSchedulerJobs()
	if len(jobs) != 2 {
		t.Fatalf("expected ensureSingletons to stay idempotent, got %d jobs", len(jobs))
	}
}

func TestResumeDeletesCrashedJob(t *testing.T) {
	s := openTestStore(t)
	sched := newTestScheduler(t, s, "http://scraper.invalid")

	trackerID := uuid.Must(uuid.NewV7())
	tracker := &types.Tracker{
		ID: trackerID, Name: "t", Enabled: true,
		Config: types.TrackerConfig{Revisions: 3, Job: &types.JobConfig{Schedule: "@every 1h"}},
	}
	if err := s.InsertTracker(tracker); err != nil {
		t.Fatalf("InsertTracker: %v", err)
	}

	jobID := uuid.Must(uuid.NewV7())
	job := &types.SchedulerJob{
		ID: jobID, CronExpr: "@every 1h",
		Metadata:  types.SchedulerJobMetadata{JobType: types.SchedulerJobTypePerTrackerRun, IsRunning: true},
		TrackerID: &trackerID,
	}
	if err := s.InsertSchedulerJob(job); err != nil {
		t.Fatalf("InsertSchedulerJob: %v", err)
	}
	if err := s.UpdateTrackerJobBinding(trackerID, &jobID); err != nil {
		t.Fatalf("UpdateTrackerJobBinding: %v", err)
	}

	if err := sched.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if _, err := s.GetSchedulerJob(jobID); err == nil {
		t.Error("expected the crashed (is_running) job to be deleted")
	}
	got, err := s.GetTracker(trackerID)
	if err != nil {
		t.Fatalf("GetTracker: %v", err)
	}
	if got.JobID != nil {
		t.Error("expected tracker job binding to be cleared on crash resume")
	}
}

func TestResumeDropsPerTrackerRunOnScheduleMismatch(t *testing.T) {
	s := openTestStore(t)
	sched := newTestScheduler(t, s, "http://scraper.invalid")

	trackerID := uuid.Must(uuid.NewV7())
	tracker := &types.Tracker{
		ID: trackerID, Name: "t", Enabled: true,
		Config: types.TrackerConfig{Revisions: 3, Job: &types.JobConfig{Schedule: "@every 2h"}},
	}
	if err := s.InsertTracker(tracker); err != nil {
		t.Fatalf("InsertTracker: %v", err)
	}

	jobID := uuid.Must(uuid.NewV7())
	job := &types.SchedulerJob{
		ID: jobID, CronExpr: "@every 1h", // stale: tracker's schedule changed to 2h
		Metadata:  types.SchedulerJobMetadata{JobType: types.SchedulerJobTypePerTrackerRun},
		TrackerID: &trackerID,
	}
	if err := s.InsertSchedulerJob(job); err != nil {
		t.Fatalf("InsertSchedulerJob: %v", err)
	}

	if err := sched.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if _, err := s.GetSchedulerJob(jobID); err == nil {
		t.Error("expected the stale-cron run job to be deleted")
	}
}

func TestRunScheduleTickBindsTrackers(t *testing.T) {
	s := openTestStore(t)
	sched := newTestScheduler(t, s, "http://scraper.invalid")

	tracker := &types.Tracker{
		ID: uuid.Must(uuid.NewV7()), Name: "t", Enabled: true,
		Config: types.TrackerConfig{Revisions: 3, Job: &types.JobConfig{Schedule: "@every 1h"}},
	}
	if err := s.InsertTracker(tracker); err != nil {
		t.Fatalf("InsertTracker: %v", err)
	}

	sched.runScheduleTick(context.Background())

	got, err := s.GetTracker(tracker.ID)
	if err != nil {
		t.Fatalf("GetTracker: %v", err)
	}
	if got.JobID == nil {
		t.Fatal("expected the schedule tick to bind a job to the tracker")
	}
	job, err := s.GetSchedulerJob(*got.JobID)
	if err != nil {
		t.Fatalf("GetSchedulerJob: %v", err)
	}
	if job.Metadata.JobType != types.SchedulerJobTypePerTrackerRun {
		t.Errorf("expected a per-tracker run job, got %v", job.Metadata.JobType)
	}
}

func TestRunTrackerJobSuccessResetsMetadata(t *testing.T) {
	s := openTestStore(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`"hello"`))
	}))
	t.Cleanup(srv.Close)

	sched := newTestScheduler(t, s, srv.URL)

	tracker := &types.Tracker{
		ID: uuid.Must(uuid.NewV7()), Name: "t", Enabled: true,
		Target: types.Target{Kind: types.TargetKindPage, Page: &types.PageTarget{ExtractorSource: "context.content"}},
		Config: types.TrackerConfig{Revisions: 3, Job: &types.JobConfig{Schedule: "@every 1h"}},
	}
	if err := s.InsertTracker(tracker); err != nil {
		t.Fatalf("InsertTracker: %v", err)
	}

	jobID := uuid.Must(uuid.NewV7())
	job := types.SchedulerJob{
		ID: jobID, CronExpr: "@every 1h",
		Metadata:  types.SchedulerJobMetadata{JobType: types.SchedulerJobTypePerTrackerRun, RetryAttempt: 0},
		TrackerID: &tracker.ID,
	}
	if err := s.InsertSchedulerJob(&job); err != nil {
		t.Fatalf("InsertSchedulerJob: %v", err)
	}

	sched.runTrackerJob(context.Background(), job)

	updated, err := s.GetSchedulerJob(jobID)
	if err != nil {
		t.Fatalf("GetSchedulerJob: %v", err)
	}
	if updated.Metadata.IsRunning {
		t.Error("expected is_running to be reset to false after a successful run")
	}

	revs, err := s.ListRevisions(tracker.ID)
	if err != nil {
		t.Fatalf("ListRevisions: %v", err)
	}
	if len(revs) != 1 {
		t.Fatalf("expected 1 revision persisted, got %d", len(revs))
	}
}

func TestRunTrackerJobFailureWithoutRetryReportsAndResets(t *testing.T) {
	s := openTestStore(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	sched := newTestScheduler(t, s, srv.URL)
	sched.Config.SMTP.Host = "smtp.example.com"
	sched.Config.SMTP.CatchAllRecipient = "ops@example.com"

	tracker := &types.Tracker{
		ID: uuid.Must(uuid.NewV7()), Name: "t", Enabled: true,
		Target: types.Target{Kind: types.TargetKindPage, Page: &types.PageTarget{ExtractorSource: "context.content"}},
		Config: types.TrackerConfig{Revisions: 3, Job: &types.JobConfig{Schedule: "@every 1h"}},
	}
	if err := s.InsertTracker(tracker); err != nil {
		t.Fatalf("InsertTracker: %v", err)
	}

	jobID := uuid.Must(uuid.NewV7())
	job := types.SchedulerJob{
		ID: jobID, CronExpr: "@every 1h",
		Metadata:  types.SchedulerJobMetadata{JobType: types.SchedulerJobTypePerTrackerRun},
		TrackerID: &tracker.ID,
	}
	if err := s.InsertSchedulerJob(&job); err != nil {
		t.Fatalf("InsertSchedulerJob: %v", err)
	}

	sched.runTrackerJob(context.Background(), job)

	updated, err := s.GetSchedulerJob(jobID)
	if err != nil {
		t.Fatalf("GetSchedulerJob: %v", err)
	}
	if updated.Metadata.IsRunning {
		t.Error("expected is_running reset after a no-retry failure")
	}

	due, err := s.StreamTasksDue(time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("StreamTasksDue: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected a failure-report email task, got %d", len(due))
	}
	var payload types.EmailTaskPayload
	if err := json.Unmarshal(due[0].Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if len(payload.Recipients) != 1 || payload.Recipients[0] != "ops@example.com" {
		t.Errorf("expected the catch-all recipient, got %v", payload.Recipients)
	}
}

func TestRunTrackerJobFailureWithRetryReschedules(t *testing.T) {
	s := openTestStore(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	sched := newTestScheduler(t, s, srv.URL)

	tracker := &types.Tracker{
		ID: uuid.Must(uuid.NewV7()), Name: "t", Enabled: true,
		Target: types.Target{Kind: types.TargetKindPage, Page: &types.PageTarget{ExtractorSource: "context.content"}},
		Config: types.TrackerConfig{Revisions: 3, Job: &types.JobConfig{
			Schedule: "@every 1h",
			Retry:    &types.RetryStrategy{Kind: types.RetryStrategyConstant, Interval: 5 * time.Minute, MaxAttempts: 3},
		}},
	}
	if err := s.InsertTracker(tracker); err != nil {
		t.Fatalf("InsertTracker: %v", err)
	}

	jobID := uuid.Must(uuid.NewV7())
	job := types.SchedulerJob{
		ID: jobID, CronExpr: "@every 1h",
		Metadata:  types.SchedulerJobMetadata{JobType: types.SchedulerJobTypePerTrackerRun},
		TrackerID: &tracker.ID,
	}
	if err := s.InsertSchedulerJob(&job); err != nil {
		t.Fatalf("InsertSchedulerJob: %v", err)
	}
	if err := s.UpdateTrackerJobBinding(tracker.ID, &jobID); err != nil {
		t.Fatalf("UpdateTrackerJobBinding: %v", err)
	}

	sched.runTrackerJob(context.Background(), job)

	updated, err := s.GetSchedulerJob(jobID)
	if err != nil {
		t.Fatalf("GetSchedulerJob: %v", err)
	}
	if updated.Metadata.RetryAttempt != 1 {
		t.Errorf("expected retry_attempt to advance to 1, got %d", updated.Metadata.RetryAttempt)
	}
	if updated.CronExpr == "@every 1h" {
		t.Error("expected a one-shot retry cron to replace the tracker's normal schedule")
	}

	got, err := s.GetTracker(tracker.ID)
	if err != nil {
		t.Fatalf("GetTracker: %v", err)
	}
	if got.JobID == nil {
		t.Error("expected the job binding to survive a retry reschedule")
	}
}

func TestBuildRetryCronHasNoYearField(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	got := buildRetryCron(at)
	want := "7 6 5 4 3 *"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
