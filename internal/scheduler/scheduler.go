// Package scheduler is the Scheduler Core (C6): a durable cron
// scheduler backed by the Data Store. It generalizes the teacher's
// scheduler.Scheduler — a single polling dispatch loop over one jobs
// bucket, guarded by a distributed lock per job — into three singleton
// jobs (Schedule tick, reserved Run-discovery, Task run) plus one
// per-tracker Run job whose lifecycle is described in full by §4.6.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/retrack-dev/engine/internal/engineconfig"
	"github.com/retrack-dev/engine/internal/fetch"
	"github.com/retrack-dev/engine/internal/mailtransport"
	"github.com/retrack-dev/engine/internal/metrics"
	"github.com/retrack-dev/engine/internal/ratelimit"
	"github.com/retrack-dev/engine/internal/revision"
	"github.com/retrack-dev/engine/retracklog"
	"github.com/retrack-dev/engine/internal/store"
	"github.com/retrack-dev/engine/internal/types"
	"github.com/retrack-dev/engine/internal/webhookclient"
)

// tickInterval is the dispatch loop's own polling granularity. It is
// independent of the singleton jobs' configured cron cadence — it
// only needs to be fine enough that a due job is never missed by more
// than tickInterval.
const tickInterval = time.Second

// Scheduler runs the durable job loop described in §4.6.
type Scheduler struct {
	Store    *store.Store
	Config   *engineconfig.Config
	Pipeline *fetch.Pipeline
	Revision *revision.Engine
	Mail     mailtransport.Transport
	HTTP     webhookclient.Dispatcher
	Logger   retracklog.Logger
	Metrics  *metrics.Metrics

	// InstanceID scopes this process's lock ownership; distinct
	// processes sharing one Data Store race safely via AcquireLock.
	InstanceID string

	// dispatchLimit throttles the Task-run job's outbound Email/HTTP
	// dispatch (SchedulerConfig.TaskDispatchRate/Burst); it never
	// throttles the dispatch loop's own job-scanning tick.
	dispatchLimit *ratelimit.Limiter

	quit chan struct{}
	wg   sync.WaitGroup
}

// New builds a Scheduler. action.Dispatcher and revision.Engine are
// constructed by the caller (internal/engine wires them together) so
// Scheduler itself holds no concrete transport beyond what Mail/HTTP
// inject (§9's "Polymorphism over DNS/Email transports").
func New(s *store.Store, cfg *engineconfig.Config, pipeline *fetch.Pipeline, rev *revision.Engine, mail mailtransport.Transport, http webhookclient.Dispatcher, logger retracklog.Logger, instanceID string) *Scheduler {
	return &Scheduler{
		Store:         s,
		Config:        cfg,
		Pipeline:      pipeline,
		Revision:      rev,
		Mail:          mail,
		HTTP:          http,
		Logger:        logger,
		Metrics:       metrics.New(),
		InstanceID:    instanceID,
		dispatchLimit: ratelimit.New(cfg.Scheduler.TaskDispatchRate, cfg.Scheduler.TaskDispatchBurst),
		quit:          make(chan struct{}),
	}
}

// Start resumes persisted jobs per §4.6's resume semantics, ensures
// the three singleton jobs exist, and launches the dispatch loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Resume(ctx); err != nil {
		return err
	}
	if err := s.ensureSingletons(ctx); err != nil {
		return err
	}

	s.Metrics.SetReady(true)
	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop signals the dispatch loop to exit and waits for it to drain.
func (s *Scheduler) Stop() {
	s.Metrics.SetReady(false)
	close(s.quit)
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick scans every persisted job and fires those whose next tick has
// arrived, guarded by a per-job distributed lock so two instances
// sharing one Data Store never double-fire the same job.
func (s *Scheduler) tick(ctx context.Context) {
	jobs, err := s.Store.StreamSchedulerJobs()
	if err != nil {
		s.Logger.Errorf("scheduler: list jobs: %v", err)
		return
	}

	now := time.Now().UTC()
	for _, job := range jobs {
		if job.NextTick.After(now) {
			continue
		}
		lockKey := jobLockKey(job.ID)
		locked, err := s.Store.AcquireLock(lockKey, s.InstanceID)
		if err != nil {
			s.Logger.Errorf("scheduler: acquire lock for job %s: %v", job.ID, err)
			continue
		}
		if !locked {
			continue
		}
		s.fire(ctx, job)
		if err := s.Store.ReleaseLock(lockKey, s.InstanceID); err != nil {
			s.Logger.Errorf("scheduler: release lock for job %s: %v", job.ID, err)
		}
	}
}

func jobLockKey(id uuid.UUID) string {
	return "scheduler_job:" + id.String()
}

// fire dispatches job to its handler. Singleton handlers return
// control to fire for cron-advance bookkeeping; the per-tracker Run
// job owns its own record's full lifecycle and persists it itself.
func (s *Scheduler) fire(ctx context.Context, job types.SchedulerJob) {
	switch job.Metadata.JobType {
	case types.SchedulerJobTypeSchedule:
		s.runScheduleTick(ctx)
		s.advance(job)
	case types.SchedulerJobTypeTaskRun:
		s.runTaskRun(ctx)
		s.advance(job)
	case types.SchedulerJobTypePerTrackerRun:
		s.runTrackerJob(ctx, job)
	default:
		// SchedulerJobTypeRunDiscovery is reserved and never persisted;
		// anything else is unrecognized — drop it defensively.
		if err := s.Store.DeleteSchedulerJob(job.ID); err != nil {
			s.Logger.Errorf("scheduler: delete unrecognized job %s: %v", job.ID, err)
		}
	}
}

// advance recomputes a singleton job's next tick from its own cron
// expression and persists the bookkeeping fields.
func (s *Scheduler) advance(job types.SchedulerJob) {
	schedule, err := ParseCron(job.CronExpr)
	if err != nil {
		s.Logger.Errorf("scheduler: re-parse cron for job %s: %v", job.ID, err)
		return
	}
	now := time.Now().UTC()
	job.LastTick = now
	job.NextTick = schedule.Next(now)
	if err := s.Store.UpdateSchedulerJob(&job); err != nil {
		s.Logger.Errorf("scheduler: advance job %s: %v", job.ID, err)
		return
	}
	s.Metrics.RecordJobCompleted()
}

func (s *Scheduler) schedulerTickCron() string {
	return s.Config.Scheduler.ScheduleTick
}

func (s *Scheduler) taskTickCron() string {
	return s.Config.Scheduler.TaskTick
}

func (s *Scheduler) taskBatchSize() int {
	if s.Config.Scheduler.TaskBatch > 0 {
		return s.Config.Scheduler.TaskBatch
	}
	if s.Config.TaskBatchSize > 0 {
		return s.Config.TaskBatchSize
	}
	return 50
}
