package scheduler

import (
	"context"

	"github.com/retrack-dev/engine/internal/retrackerr"
	"github.com/retrack-dev/engine/internal/types"
)

// Resume applies §4.6's startup resume semantics to every persisted
// job: corrupt metadata, crashed in-flight jobs, stale singleton
// duplicates, and per-tracker jobs whose tracker no longer matches
// the job's assumptions are all deleted; ensureSingletons (called
// after Resume by Start) recreates the singleton jobs it removed.
func (s *Scheduler) Resume(ctx context.Context) error {
	jobs, err := s.Store.StreamSchedulerJobs()
	if err != nil {
		return err
	}

	seenSingleton := map[types.SchedulerJobType]bool{}
	for _, job := range jobs {
		if _, err := DecodeMetadata(EncodeMetadata(job.Metadata)); err != nil {
			s.deleteJob(job.ID, "corrupt metadata")
			continue
		}
		if job.Metadata.IsRunning {
			// Assume crashed mid-execution; the Schedule tick (for
			// per-tracker jobs) or ensureSingletons (for singletons)
			// will re-attach.
			s.resumeCrashed(job)
			continue
		}

		switch job.Metadata.JobType {
		case types.SchedulerJobTypeSchedule:
			s.resumeSingleton(job, types.SchedulerJobTypeSchedule, s.schedulerTickCron(), seenSingleton)
		case types.SchedulerJobTypeTaskRun:
			s.resumeSingleton(job, types.SchedulerJobTypeTaskRun, s.taskTickCron(), seenSingleton)
		case types.SchedulerJobTypePerTrackerRun:
			s.resumePerTrackerRun(job)
		default:
			// SchedulerJobTypeRunDiscovery is reserved and never
			// persisted; anything else is unrecognized.
			s.deleteJob(job.ID, "unrecognized job type")
		}
	}
	return nil
}

func (s *Scheduler) resumeCrashed(job types.SchedulerJob) {
	if job.Metadata.JobType == types.SchedulerJobTypePerTrackerRun && job.TrackerID != nil {
		if err := s.Store.UpdateTrackerJobBinding(*job.TrackerID, nil); err != nil {
			s.Logger.Errorf("scheduler: unbind tracker %s for crashed job %s: %v", *job.TrackerID, job.ID, err)
		}
	}
	s.deleteJob(job.ID, "crashed mid-execution")
}

func (s *Scheduler) resumeSingleton(job types.SchedulerJob, jobType types.SchedulerJobType, configuredCron string, seen map[types.SchedulerJobType]bool) {
	if seen[jobType] {
		s.deleteJob(job.ID, "duplicate singleton")
		return
	}
	if job.CronExpr != configuredCron {
		s.deleteJob(job.ID, "singleton cron no longer matches configuration")
		return
	}
	seen[jobType] = true
}

func (s *Scheduler) resumePerTrackerRun(job types.SchedulerJob) {
	if job.TrackerID == nil {
		s.deleteJob(job.ID, "run job has no tracker id")
		return
	}

	tracker, err := s.Store.GetTracker(*job.TrackerID)
	if err != nil {
		if retrackerr.Is(err, retrackerr.KindNotFound) {
			s.deleteJob(job.ID, "tracker deleted")
			return
		}
		s.Logger.Errorf("scheduler: resume run job %s: load tracker: %v", job.ID, err)
		return
	}

	if !tracker.Enabled || tracker.Config.Revisions == 0 || tracker.Config.Job == nil {
		s.unbindAndDelete(tracker.ID, job.ID)
		return
	}

	if job.Metadata.RetryAttempt > 0 {
		if tracker.Config.Job.Retry == nil {
			s.unbindAndDelete(tracker.ID, job.ID)
			return
		}
		// Retry resumes keep their one-shot cron as-is.
		return
	}

	if job.CronExpr != tracker.Config.Job.Schedule {
		s.unbindAndDelete(tracker.ID, job.ID)
	}
}
