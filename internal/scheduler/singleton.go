package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/retrack-dev/engine/internal/types"
)

// ensureSingletons creates any of the three singleton job records
// (Schedule tick, Task run; Run-discovery is reserved and never
// created) missing after Resume has pruned stale/duplicate ones.
func (s *Scheduler) ensureSingletons(ctx context.Context) error {
	existing, err := s.Store.StreamSchedulerJobs()
	if err != nil {
		return err
	}
	have := map[types.SchedulerJobType]bool{}
	for _, j := range existing {
		have[j.Metadata.JobType] = true
	}

	if !have[types.SchedulerJobTypeSchedule] {
		if err := s.createSingleton(types.SchedulerJobTypeSchedule, s.schedulerTickCron()); err != nil {
			return err
		}
	}
	if !have[types.SchedulerJobTypeTaskRun] {
		if err := s.createSingleton(types.SchedulerJobTypeTaskRun, s.taskTickCron()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) createSingleton(jobType types.SchedulerJobType, cronExpr string) error {
	schedule, err := ParseCron(cronExpr)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	job := &types.SchedulerJob{
		ID:        uuid.Must(uuid.NewV7()),
		CronExpr:  cronExpr,
		Metadata:  types.SchedulerJobMetadata{JobType: jobType},
		NextTick:  schedule.Next(now),
		CreatedAt: now,
	}
	return s.Store.InsertSchedulerJob(job)
}

// runScheduleTick binds a fresh per-tracker Run job to every tracker
// lacking one (§4.6 item 1).
func (s *Scheduler) runScheduleTick(ctx context.Context) {
	trackers, err := s.Store.TrackersToSchedule()
	if err != nil {
		s.Logger.Errorf("scheduler: list trackers to schedule: %v", err)
		return
	}

	for _, tracker := range trackers {
		cronExpr := tracker.Config.Job.Schedule
		schedule, err := ParseCron(cronExpr)
		if err != nil {
			s.Logger.Errorf("scheduler: tracker %s has an invalid schedule %q: %v", tracker.ID, cronExpr, err)
			continue
		}

		now := time.Now().UTC()
		jobID := uuid.Must(uuid.NewV7())
		job := &types.SchedulerJob{
			ID:        jobID,
			CronExpr:  cronExpr,
			Metadata:  types.SchedulerJobMetadata{JobType: types.SchedulerJobTypePerTrackerRun},
			NextTick:  schedule.Next(now),
			TrackerID: &tracker.ID,
			CreatedAt: now,
		}
		if err := s.Store.InsertSchedulerJob(job); err != nil {
			s.Logger.Errorf("scheduler: create run job for tracker %s: %v", tracker.ID, err)
			continue
		}
		if err := s.Store.UpdateTrackerJobBinding(tracker.ID, &jobID); err != nil {
			s.Logger.Errorf("scheduler: bind job %s to tracker %s: %v", jobID, tracker.ID, err)
			continue
		}
		s.Metrics.RecordJobScheduled()
	}
}

// runTaskRun drains up to the configured batch size of due tasks and
// executes their effects (§4.6 item 3). A task that fails to dispatch
// is left in place for the next tick rather than retried inline —
// the Task-run job has no per-task retry counter of its own.
// Dispatch is throttled by dispatchLimit so a large backlog drained in
// one tick doesn't open a burst of SMTP connections or flood a
// webhook receiver.
func (s *Scheduler) runTaskRun(ctx context.Context) {
	due, err := s.Store.StreamTasksDue(time.Now().UTC(), s.taskBatchSize())
	if err != nil {
		s.Logger.Errorf("scheduler: list due tasks: %v", err)
		return
	}

	for _, task := range due {
		if err := s.dispatchLimit.Wait(ctx); err != nil {
			s.Logger.Warnf("scheduler: rate limit wait for task %s: %v", task.ID, err)
			return
		}
		if err := s.executeTask(ctx, task); err != nil {
			s.Logger.Warnf("scheduler: task %s failed, retaining for next tick: %v", task.ID, err)
			s.recordTaskFailure(task.Kind)
			continue
		}
		if err := s.Store.DeleteTask(task.ID); err != nil {
			s.Logger.Errorf("scheduler: delete completed task %s: %v", task.ID, err)
		}
		s.recordTaskSuccess(task.Kind)
	}
}

func (s *Scheduler) executeTask(ctx context.Context, task types.Task) error {
	switch task.Kind {
	case types.TaskKindEmail:
		var payload types.EmailTaskPayload
		if err := decodeTaskPayload(task, &payload); err != nil {
			return err
		}
		return s.Mail.Send(ctx, payload.Recipients, payload.Subject, payload.Body)
	case types.TaskKindHTTP:
		var payload types.HTTPTaskPayload
		if err := decodeTaskPayload(task, &payload); err != nil {
			return err
		}
		return s.HTTP.Dispatch(ctx, payload.URL, payload.Method, payload.Headers, payload.Body)
	default:
		return nil
	}
}

func (s *Scheduler) recordTaskSuccess(kind types.TaskKind) {
	if kind == types.TaskKindEmail {
		s.Metrics.RecordEmailSent()
		return
	}
	s.Metrics.RecordWebhookDispatched()
}

func (s *Scheduler) recordTaskFailure(kind types.TaskKind) {
	if kind == types.TaskKindEmail {
		s.Metrics.RecordEmailFailed()
		return
	}
	s.Metrics.RecordWebhookFailed()
}
