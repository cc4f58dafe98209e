package revision

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/retrack-dev/engine/internal/action"
	"github.com/retrack-dev/engine/retracklog"
	"github.com/retrack-dev/engine/internal/scripthost"
	"github.com/retrack-dev/engine/internal/store"
	"github.com/retrack-dev/engine/internal/types"
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

func TestApplyNoChangeSuppression(t *testing.T) {
	s := openTestStore(t)
	dispatcher := action.New(s, scripthost.Limits{MaxExecutionTime: time.Second}, retracklog.NewSilent())
	engine := New(s, dispatcher, 10, retracklog.NewSilent())

	tracker := &types.Tracker{ID: uuid.Must(uuid.NewV7()), Name: "t", Config: types.TrackerConfig{Revisions: 3}}
	previous := &types.TrackerDataRevision{
		ID:        uuid.Must(uuid.NewV7()),
		TrackerID: tracker.ID,
		Data:      types.TrackerDataValue{Original: json.RawMessage(`"v1"`)},
	}
	candidate := &types.TrackerDataRevision{
		ID:        uuid.Must(uuid.NewV7()),
		TrackerID: tracker.ID,
		Data:      types.TrackerDataValue{Original: json.RawMessage(`"v1"`)},
	}

	got, err := engine.Apply(context.Background(), tracker, candidate, previous)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.ID != previous.ID {
		t.Errorf("expected unchanged fetch to return the previous revision, got a new one")
	}

	revs, err := s.ListRevisions(tracker.ID)
	if err != nil {
		t.Fatalf("ListRevisions: %v", err)
	}
	if len(revs) != 0 {
		t.Errorf("expected no revision written on no-change, got %d", len(revs))
	}
}

func TestApplyRingBuffer(t *testing.T) {
	s := openTestStore(t)
	dispatcher := action.New(s, scripthost.Limits{MaxExecutionTime: time.Second}, retracklog.NewSilent())
	engine := New(s, dispatcher, 10, retracklog.NewSilent())

	tracker := &types.Tracker{ID: uuid.Must(uuid.NewV7()), Name: "t", Config: types.TrackerConfig{Revisions: 3}}

	values := []string{`"v1"`, `"v2"`, `"v3"`, `"v4"`}
	var previous *types.TrackerDataRevision
	for _, v := range values {
		candidate := &types.TrackerDataRevision{
			ID:        uuid.Must(uuid.NewV7()),
			TrackerID: tracker.ID,
			Data:      types.TrackerDataValue{Original: json.RawMessage(v)},
		}
		result, err := engine.Apply(context.Background(), tracker, candidate, previous)
		if err != nil {
			t.Fatalf("Apply(%s): %v", v, err)
		}
		previous = result
	}

	revs, err := s.ListRevisions(tracker.ID)
	if err != nil {
		t.Fatalf("ListRevisions: %v", err)
	}
	if len(revs) != 3 {
		t.Fatalf("expected 3 revisions retained, got %d", len(revs))
	}
	if string(revs[0].Data.Original) != `"v4"` {
		t.Errorf("expected newest revision v4 first, got %s", revs[0].Data.Original)
	}
	for _, r := range revs {
		if string(r.Data.Original) == `"v1"` {
			t.Error("expected oldest revision v1 to have been evicted")
		}
	}
}

func TestDiffViewOldestHasNoDiff(t *testing.T) {
	revs := []types.TrackerDataRevision{
		{ID: uuid.Must(uuid.NewV7()), Data: types.TrackerDataValue{Original: json.RawMessage(`"v3"`)}},
		{ID: uuid.Must(uuid.NewV7()), Data: types.TrackerDataValue{Original: json.RawMessage(`"v2"`)}},
		{ID: uuid.Must(uuid.NewV7()), Data: types.TrackerDataValue{Original: json.RawMessage(`"v1"`)}},
	}
	views, err := Diff(revs, 3)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(views) != 3 {
		t.Fatalf("expected 3 views, got %d", len(views))
	}
	if views[2].HasDiff {
		t.Error("expected oldest entry to carry no diff")
	}
	if !views[0].HasDiff || views[0].Diff == "" {
		t.Error("expected newest entry to carry a diff")
	}
}
