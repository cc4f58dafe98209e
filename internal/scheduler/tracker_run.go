package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/retrack-dev/engine/internal/retrackerr"
	"github.com/retrack-dev/engine/internal/retry"
	"github.com/retrack-dev/engine/internal/types"
)

// runTrackerJob executes one per-tracker Run job's full lifecycle
// (§4.6, the five numbered steps under "Per-tracker Run job").
func (s *Scheduler) runTrackerJob(ctx context.Context, job types.SchedulerJob) {
	if job.TrackerID == nil {
		s.deleteJob(job.ID, "run job has no tracker id")
		return
	}

	tracker, err := s.Store.GetTracker(*job.TrackerID)
	if err != nil {
		s.deleteJob(job.ID, "tracker missing")
		return
	}
	if !tracker.Enabled || tracker.Config.Revisions == 0 || tracker.Config.Job == nil {
		s.unbindAndDelete(tracker.ID, job.ID)
		return
	}
	if job.Metadata.IsRunning {
		// Already in flight; skip this tick.
		return
	}

	job.Metadata.IsRunning = true
	if err := s.Store.UpdateSchedulerJob(&job); err != nil {
		s.Logger.Errorf("scheduler: mark job %s running: %v", job.ID, err)
		return
	}

	candidate, previous, fetchErr := s.Pipeline.CreateRevision(ctx, tracker.ID)
	var runErr error
	if fetchErr != nil {
		runErr = fetchErr
	} else if _, applyErr := s.Revision.Apply(ctx, tracker, candidate, previous); applyErr != nil {
		runErr = applyErr
	}

	// Advance to the next fire of the job's own cron; the retry path
	// of onRunFailure overrides this with the one-shot retry time.
	now := time.Now().UTC()
	job.LastTick = now
	if schedule, err := ParseCron(job.CronExpr); err == nil {
		job.NextTick = schedule.Next(now)
	}

	if runErr == nil {
		s.onRunSuccess(tracker, job)
		return
	}
	s.onRunFailure(tracker, job, runErr)
}

// onRunSuccess implements §4.6 item 4.
func (s *Scheduler) onRunSuccess(tracker *types.Tracker, job types.SchedulerJob) {
	if job.Metadata.RetryAttempt == 0 {
		job.Metadata.IsRunning = false
		job.Metadata.RetryAttempt = 0
		if err := s.Store.UpdateSchedulerJob(&job); err != nil {
			s.Logger.Errorf("scheduler: reset job %s after success: %v", job.ID, err)
			return
		}
		s.Metrics.RecordJobCompleted()
		return
	}
	// A retry-scheduled job succeeded; the Schedule tick will attach a
	// fresh job on the tracker's normal cron.
	s.Metrics.RecordJobCompleted()
	s.unbindAndDelete(tracker.ID, job.ID)
}

// onRunFailure implements §4.6 item 5 and §7's propagation rules.
func (s *Scheduler) onRunFailure(tracker *types.Tracker, job types.SchedulerJob, runErr error) {
	if retrackerr.Is(runErr, retrackerr.KindNotFound) {
		// §7 item 2: NotFound is always "remove self", no report.
		s.unbindAndDelete(tracker.ID, job.ID)
		return
	}

	strategy := tracker.Config.Job.Retry
	if strategy == nil {
		job.Metadata.IsRunning = false
		job.Metadata.RetryAttempt = 0
		if err := s.Store.UpdateSchedulerJob(&job); err != nil {
			s.Logger.Errorf("scheduler: reset job %s after failure: %v", job.ID, err)
		}
		s.Metrics.RecordJobFailed()
		s.reportError(tracker, runErr)
		return
	}

	attempt := int(job.Metadata.RetryAttempt)
	if retry.Exhausted(*strategy, attempt) {
		s.Metrics.RecordJobFailed()
		s.reportError(tracker, runErr)
		s.unbindAndDelete(tracker.ID, job.ID)
		return
	}

	retryIn := retry.Interval(*strategy, attempt)
	next := time.Now().UTC().Add(retryIn)
	job.CronExpr = buildRetryCron(next)
	job.Metadata.IsRunning = false
	job.Metadata.RetryAttempt = uint8(attempt + 1)
	job.NextTick = next
	if err := s.Store.UpdateSchedulerJob(&job); err != nil {
		s.Logger.Errorf("scheduler: reschedule job %s for retry: %v", job.ID, err)
	}
}

// unbindAndDelete clears a tracker's job binding and removes the job
// record, the "unbind + remove self" outcome named throughout §4.6.
func (s *Scheduler) unbindAndDelete(trackerID, jobID uuid.UUID) {
	if err := s.Store.UpdateTrackerJobBinding(trackerID, nil); err != nil {
		s.Logger.Errorf("scheduler: unbind tracker %s: %v", trackerID, err)
	}
	s.deleteJob(jobID, "unbind")
}

func (s *Scheduler) deleteJob(jobID uuid.UUID, reason string) {
	if err := s.Store.DeleteSchedulerJob(jobID); err != nil {
		s.Logger.Errorf("scheduler: delete job %s (%s): %v", jobID, reason, err)
	}
}

// reportError implements §7's user-visible error reporting: an Email
// task to the configured catch-all recipient if SMTP is configured,
// otherwise a log line. The embedded message carries the tracker id,
// name, and the first line of the root cause.
func (s *Scheduler) reportError(tracker *types.Tracker, runErr error) {
	firstLine := strings.SplitN(runErr.Error(), "\n", 2)[0]
	s.Metrics.RecordError(string(retrackerr.KindOf(runErr)))
	if !s.Config.SMTP.Configured() {
		s.Logger.Errorf("tracker %s (%s) run failed: %s", tracker.ID, tracker.Name, firstLine)
		return
	}

	task := &types.Task{
		ID:   uuid.Must(uuid.NewV7()),
		Kind: types.TaskKindEmail,
		Payload: mustMarshalJSON(types.EmailTaskPayload{
			Recipients: []string{s.Config.SMTP.CatchAllRecipient},
			Subject:    fmt.Sprintf("Retrack: tracker %q failed", tracker.Name),
			Body:       fmt.Sprintf("tracker %s (%s) failed: %s", tracker.ID, tracker.Name, firstLine),
		}),
		ScheduledAt: time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.Store.ScheduleTask(task); err != nil {
		s.Logger.Errorf("scheduler: enqueue failure report for tracker %s: %v", tracker.ID, err)
	}
}
