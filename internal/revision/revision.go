// Package revision is the Revision Engine (C4): compares a Fetch
// Pipeline candidate against the previous revision, dispatches actions
// on change, persists, and enforces ring-buffer retention (§4.4).
package revision

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/retrack-dev/engine/internal/action"
	"github.com/retrack-dev/engine/retracklog"
	"github.com/retrack-dev/engine/internal/store"
	"github.com/retrack-dev/engine/internal/types"
)

// Engine applies Fetch Pipeline output against stored history.
type Engine struct {
	Store      *store.Store
	Dispatcher *action.Dispatcher
	MaxRevisions int
	Logger     retracklog.Logger
}

// New builds an Engine.
func New(s *store.Store, dispatcher *action.Dispatcher, maxRevisions int, logger retracklog.Logger) *Engine {
	return &Engine{Store: s, Dispatcher: dispatcher, MaxRevisions: maxRevisions, Logger: logger}
}

// Apply is called after the Fetch Pipeline returns a candidate. It
// performs the deep-equality short-circuit, runs the tracker's actions
// in order, persists the candidate (subject to the effective revision
// limit), and enforces the ring buffer.
func (e *Engine) Apply(ctx context.Context, tracker *types.Tracker, candidate, previous *types.TrackerDataRevision) (*types.TrackerDataRevision, error) {
	if previous != nil && jsonDeepEqual(candidate.Data.Original, previous.Data.Original) {
		return previous, nil
	}

	for _, act := range tracker.Actions {
		if err := e.Dispatcher.Dispatch(ctx, tracker, act, previous, candidate); err != nil {
			e.Logger.Errorf("action dispatch failed for tracker %s: %v", tracker.ID, err)
			return nil, err
		}
	}

	limit := tracker.Config.Revisions
	if e.MaxRevisions > 0 && e.MaxRevisions < limit {
		limit = e.MaxRevisions
	}
	if limit <= 0 {
		return candidate, nil
	}

	if err := e.Store.InsertRevision(candidate); err != nil {
		return nil, err
	}
	if err := e.Store.EnforceRevisionLimit(tracker.ID, limit); err != nil {
		return nil, err
	}
	return candidate, nil
}

// jsonDeepEqual compares two JSON documents by decoded value rather
// than byte-for-byte, so field reordering or whitespace differences
// don't register as a change (§4.4: "JSON deep equality").
func jsonDeepEqual(a, b []byte) bool {
	if bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b)) {
		return true
	}
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return deepEqual(av, bv)
}

func deepEqual(a, b any) bool {
	switch at := a.(type) {
	case map[string]any:
		bt, ok := b.(map[string]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for k, v := range at {
			bv, ok := bt[k]
			if !ok || !deepEqual(v, bv) {
				return false
			}
		}
		return true
	case []any:
		bt, ok := b.([]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !deepEqual(at[i], bt[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
