package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/retrack-dev/engine/internal/engineconfig"
	"github.com/retrack-dev/engine/internal/store"
	"github.com/retrack-dev/engine/internal/types"
	"github.com/retrack-dev/engine/retracklog"
)

func TestNewWiresEveryComponent(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	e := New(engineconfig.Default(), s, retracklog.NewSilent(), "test-instance")
	if e.Trackers == nil || e.Scheduler == nil {
		t.Fatal("expected Trackers and Scheduler to be non-nil")
	}

	created, err := e.Trackers.Create(types.Tracker{
		Name:    "example",
		Enabled: true,
		Target: types.Target{
			Kind: types.TargetKindPage,
			Page: &types.PageTarget{ExtractorSource: "module.exports = (v) => v;"},
		},
		Config: types.TrackerConfig{Revisions: 3, Job: &types.JobConfig{Schedule: "@every 1h"}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	fetched, err := e.Trackers.Get(created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fetched.Name != "example" {
		t.Errorf("Name = %q, want %q", fetched.Name, "example")
	}
}
