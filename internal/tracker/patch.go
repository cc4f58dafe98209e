package tracker

import "github.com/retrack-dev/engine/internal/types"

// Patch is a partial tracker update: only non-nil fields are applied.
// Update requires at least one populated field (§4.7's "require ≥1
// changed field").
type Patch struct {
	Name    *string
	Enabled *bool
	Target  *types.Target
	Config  *types.TrackerConfig
	Tags    []string // nil means "leave unchanged"; non-nil (incl. empty) replaces
	Actions []types.Action
}

// apply merges non-nil fields of p into t, returning whether anything
// changed.
func (p Patch) apply(t *types.Tracker) bool {
	changed := false
	if p.Name != nil {
		t.Name = *p.Name
		changed = true
	}
	if p.Enabled != nil {
		t.Enabled = *p.Enabled
		changed = true
	}
	if p.Target != nil {
		t.Target = *p.Target
		changed = true
	}
	if p.Config != nil {
		t.Config = *p.Config
		changed = true
	}
	if p.Tags != nil {
		t.Tags = p.Tags
		changed = true
	}
	if p.Actions != nil {
		t.Actions = p.Actions
		changed = true
	}
	return changed
}
