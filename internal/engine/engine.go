// Package engine wires the Retrack components together behind one
// shared, immutable configuration snapshot (spec.md §9, "the core
// never depends on concrete transport implementations" / "shared
// mutable config state" — in this generalization the snapshot itself
// is treated as immutable and swapped wholesale by a restart rather
// than mutated in place). It plays the role the teacher's cmd/mailgrid
// main.go plays: the one place that knows every concrete type and
// assembles them.
package engine

import (
	"context"

	"github.com/retrack-dev/engine/internal/action"
	"github.com/retrack-dev/engine/internal/engineconfig"
	"github.com/retrack-dev/engine/internal/fetch"
	"github.com/retrack-dev/engine/internal/mailtransport"
	"github.com/retrack-dev/engine/internal/revision"
	"github.com/retrack-dev/engine/internal/scheduler"
	"github.com/retrack-dev/engine/internal/scripthost"
	"github.com/retrack-dev/engine/internal/store"
	"github.com/retrack-dev/engine/internal/tracker"
	"github.com/retrack-dev/engine/internal/webhookclient"
	"github.com/retrack-dev/engine/retracklog"
)

// Engine bundles Tracker Admin (C7) and Scheduler Core (C6) — the two
// components a process entrypoint drives directly. C2-C5 are internal
// to the Scheduler's per-tracker Run job and are not re-exposed here.
type Engine struct {
	Config    *engineconfig.Config
	Store     *store.Store
	Trackers  *tracker.Admin
	Scheduler *scheduler.Scheduler
}

// New constructs every component from one Config snapshot and one
// Data Store. instanceID scopes the Scheduler's distributed lock
// ownership (multiple processes may share one bbolt file only via a
// network filesystem that honors flock semantics; this is documented
// as a deployment constraint, not enforced in code).
func New(cfg *engineconfig.Config, s *store.Store, logger retracklog.Logger, instanceID string) *Engine {
	limits := scripthost.Limits{
		MaxHeapBytes:     cfg.JSRuntime.MaxHeapSize,
		MaxExecutionTime: cfg.JSRuntime.MaxScriptExecutionTime,
	}

	pipeline := fetch.New(s, cfg.ScraperBaseURL, cfg.RestrictToPublicURLs, limits)
	dispatcher := action.New(s, limits, logger)
	revisionEngine := revision.New(s, dispatcher, cfg.MaxRevisions, logger)

	// Built unconditionally: an Email action is a per-tracker choice
	// independent of whether the catch-all SMTP config (used for error
	// reports) is present. An unconfigured transport simply fails at
	// Send time, which the Task-run job already logs and retains the
	// task for.
	mail := mailtransport.New(cfg.SMTP)
	http := webhookclient.New(cfg.WebhookRequestTimeout)

	sched := scheduler.New(s, cfg, pipeline, revisionEngine, mail, http, logger, instanceID)

	return &Engine{
		Config:    cfg,
		Store:     s,
		Trackers:  tracker.New(s, cfg),
		Scheduler: sched,
	}
}

// Start resumes persisted scheduler state and launches the dispatch
// loop; see scheduler.Scheduler.Start.
func (e *Engine) Start(ctx context.Context) error {
	return e.Scheduler.Start(ctx)
}

// Stop drains the dispatch loop; see scheduler.Scheduler.Stop.
func (e *Engine) Stop() {
	e.Scheduler.Stop()
}
