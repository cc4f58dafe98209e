package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

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

func TestCreateRevisionPageTarget(t *testing.T) {
	scraper := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/web_page/execute" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"title":"hello"}`))
	}))
	defer scraper.Close()

	s := openTestStore(t)
	tracker := &types.Tracker{
		ID:      uuid.Must(uuid.NewV7()),
		Enabled: true,
		Target: types.Target{
			Kind: types.TargetKindPage,
			Page: &types.PageTarget{ExtractorSource: "doc => doc.title"},
		},
		Config: types.TrackerConfig{Revisions: 5},
	}
	if err := s.InsertTracker(tracker); err != nil {
		t.Fatalf("InsertTracker: %v", err)
	}

	p := New(s, scraper.URL, false, scripthost.Limits{MaxExecutionTime: time.Second})
	candidate, previous, err := p.CreateRevision(context.Background(), tracker.ID)
	if err != nil {
		t.Fatalf("CreateRevision: %v", err)
	}
	if previous != nil {
		t.Error("expected no previous revision")
	}
	if string(candidate.Data.Original) != `{"title":"hello"}` {
		t.Errorf("unexpected candidate value: %s", candidate.Data.Original)
	}
}

func TestCreateRevisionPageTargetScraperClientError(t *testing.T) {
	scraper := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"bad extractor"}`))
	}))
	defer scraper.Close()

	s := openTestStore(t)
	tracker := &types.Tracker{
		ID:      uuid.Must(uuid.NewV7()),
		Enabled: true,
		Target: types.Target{
			Kind: types.TargetKindPage,
			Page: &types.PageTarget{ExtractorSource: "broken"},
		},
		Config: types.TrackerConfig{Revisions: 5},
	}
	if err := s.InsertTracker(tracker); err != nil {
		t.Fatalf("InsertTracker: %v", err)
	}

	p := New(s, scraper.URL, false, scripthost.Limits{MaxExecutionTime: time.Second})
	_, _, err := p.CreateRevision(context.Background(), tracker.ID)
	if err == nil {
		t.Fatal("expected scraper client error")
	}
}

func TestCreateRevisionAPITargetSingleRequest(t *testing.T) {
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"k":1}`))
	}))
	defer apiServer.Close()

	s := openTestStore(t)
	tracker := &types.Tracker{
		ID:      uuid.Must(uuid.NewV7()),
		Enabled: true,
		Target: types.Target{
			Kind: types.TargetKindApi,
			Api: &types.ApiTarget{
				Requests: []types.ApiRequest{{URL: apiServer.URL, Method: http.MethodGet}},
			},
		},
		Config: types.TrackerConfig{Revisions: 5},
	}
	if err := s.InsertTracker(tracker); err != nil {
		t.Fatalf("InsertTracker: %v", err)
	}

	p := New(s, "", false, scripthost.Limits{MaxExecutionTime: time.Second})
	candidate, _, err := p.CreateRevision(context.Background(), tracker.ID)
	if err != nil {
		t.Fatalf("CreateRevision: %v", err)
	}
	if string(candidate.Data.Original) != `{"k":1}` {
		t.Errorf("unexpected candidate value: %s", candidate.Data.Original)
	}
}

func TestCreateRevisionAPITargetConfiguratorShortCircuit(t *testing.T) {
	s := openTestStore(t)
	tracker := &types.Tracker{
		ID:      uuid.Must(uuid.NewV7()),
		Enabled: true,
		Target: types.Target{
			Kind: types.TargetKindApi,
			Api: &types.ApiTarget{
				Requests:           []types.ApiRequest{{URL: "http://should-not-be-called.invalid"}},
				ConfiguratorSource: `{response: {body: "eyJrIjoxfQ=="}}`,
			},
		},
		Config: types.TrackerConfig{Revisions: 5},
	}
	if err := s.InsertTracker(tracker); err != nil {
		t.Fatalf("InsertTracker: %v", err)
	}

	p := New(s, "", false, scripthost.Limits{MaxExecutionTime: time.Second})
	candidate, _, err := p.CreateRevision(context.Background(), tracker.ID)
	if err != nil {
		t.Fatalf("CreateRevision: %v", err)
	}
	if string(candidate.Data.Original) != `{"k":1}` {
		t.Errorf("unexpected candidate value from short-circuit: %s", candidate.Data.Original)
	}
}
