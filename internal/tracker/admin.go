package tracker

import (
	"time"

	"github.com/google/uuid"

	"github.com/retrack-dev/engine/internal/engineconfig"
	"github.com/retrack-dev/engine/internal/retrackerr"
	"github.com/retrack-dev/engine/internal/store"
	"github.com/retrack-dev/engine/internal/types"
)

// Admin is the Tracker Admin (C7): validated CRUD over tracker
// definitions, generalizing the teacher's flag-validate-then-act CLI
// pattern into a stateless service over the Data Store.
type Admin struct {
	Store  *store.Store
	Config *engineconfig.Config
}

// New builds an Admin bound to store and cfg.
func New(s *store.Store, cfg *engineconfig.Config) *Admin {
	return &Admin{Store: s, Config: cfg}
}

// Create assigns a UUIDv7 id, normalizes tags, validates, and inserts
// a new tracker (§4.7: "Create: assign UUIDv7, normalize tags,
// validate, insert").
func (a *Admin) Create(t types.Tracker) (*types.Tracker, error) {
	now := time.Now().UTC()
	t.ID = uuid.Must(uuid.NewV7())
	t.Tags = normalizeTags(t.Tags)
	t.JobID = nil
	t.CreatedAt = now
	t.UpdatedAt = now

	if err := validate(&t, a.Config); err != nil {
		return nil, err
	}
	if err := a.Store.InsertTracker(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Update fetches the existing tracker, requires at least one populated
// patch field (a field set to its current value counts), re-validates
// the merged state, and clears the job binding
// when enabled flips false, revisions drops to 0, or the schedule
// changes (§4.7).
func (a *Admin) Update(id uuid.UUID, patch Patch) (*types.Tracker, error) {
	existing, err := a.Store.GetTracker(id)
	if err != nil {
		return nil, err
	}

	updated := *existing
	changed := patch.apply(&updated)
	if !changed {
		return nil, retrackerr.New(retrackerr.KindValidation, "update requires at least one changed field")
	}
	updated.Tags = normalizeTags(updated.Tags)

	if err := validate(&updated, a.Config); err != nil {
		return nil, err
	}

	scheduleChanged := scheduleOf(existing.Config.Job) != scheduleOf(updated.Config.Job)
	if !updated.Enabled || updated.Config.Revisions == 0 || scheduleChanged {
		updated.JobID = nil
	}
	updated.UpdatedAt = time.Now().UTC()

	if err := a.Store.UpsertTracker(&updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func scheduleOf(job *types.JobConfig) string {
	if job == nil {
		return ""
	}
	return job.Schedule
}

// Get fetches a tracker by id.
func (a *Admin) Get(id uuid.UUID) (*types.Tracker, error) {
	return a.Store.GetTracker(id)
}

// List returns trackers, optionally filtered by tag (AND/superset
// match, §4.1).
func (a *Admin) List(tags []string) ([]types.Tracker, error) {
	return a.Store.ListTrackers(tags)
}

// Delete removes a tracker, cascading to its revisions (§4.7).
func (a *Admin) Delete(id uuid.UUID) error {
	return a.Store.DeleteTracker(id)
}

// DeleteByTag bulk-removes every tracker carrying tag and returns the
// count removed.
func (a *Admin) DeleteByTag(tag string) (int, error) {
	norm := normalizeTags([]string{tag})
	if len(norm) == 0 {
		return 0, retrackerr.New(retrackerr.KindValidation, "tag cannot be empty")
	}
	return a.Store.DeleteTrackersByTag(norm[0])
}
