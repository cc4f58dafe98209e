// Package fetch is the Fetch Pipeline (C3): resolves a tracker's
// target into a candidate TrackerDataValue by talking to the external
// scraper service (Page targets) or performing the tracker's own HTTP
// requests (Api targets), invoking the Script Host at the configurator/
// extractor stages along the way. It generalizes the teacher's
// webhook.Client and parser/csv.go — both thin net/http or
// encoding/csv wrappers around one external call — into the multi-step
// sequential-request pipeline §4.3 describes.
package fetch

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/retrack-dev/engine/internal/retrackerr"
	"github.com/retrack-dev/engine/internal/scripthost"
	"github.com/retrack-dev/engine/internal/store"
	"github.com/retrack-dev/engine/internal/types"
)

// Pipeline is the Fetch Pipeline. It holds only the external
// collaborators needed to resolve a target — it never writes to the
// Data Store itself, leaving persistence to the Revision Engine.
type Pipeline struct {
	Store          *store.Store
	HTTPClient     *http.Client
	ScraperBaseURL string

	RestrictToPublicURLs bool
	ScriptLimits         scripthost.Limits
}

// New builds a Pipeline with a default HTTP client.
func New(s *store.Store, scraperBaseURL string, restrictToPublicURLs bool, limits scripthost.Limits) *Pipeline {
	return &Pipeline{
		Store:                s,
		HTTPClient:           &http.Client{},
		ScraperBaseURL:       scraperBaseURL,
		RestrictToPublicURLs: restrictToPublicURLs,
		ScriptLimits:         limits,
	}
}

// CreateRevision resolves tracker's target into a candidate revision
// and returns it alongside the existing newest revision (previous, nil
// if none), leaving the equality check, action dispatch and
// persistence to the Revision Engine (§4.3, §4.4).
func (p *Pipeline) CreateRevision(ctx context.Context, trackerID uuid.UUID) (candidate, previous *types.TrackerDataRevision, err error) {
	tracker, err := p.Store.GetTracker(trackerID)
	if err != nil {
		return nil, nil, err
	}

	revisions, err := p.Store.ListRevisions(trackerID)
	if err != nil {
		return nil, nil, err
	}
	if len(revisions) > 0 {
		previous = &revisions[0]
	}

	timeout := 30 * time.Second
	if tracker.Config.Timeout != nil {
		timeout = *tracker.Config.Timeout
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var previousContent any
	if previous != nil {
		previousContent = rawToAny(previous.Data.Effective())
	}

	var original json.RawMessage
	switch tracker.Target.Kind {
	case types.TargetKindPage:
		original, err = p.fetchPage(fetchCtx, tracker, previousContent)
	case types.TargetKindApi:
		original, err = p.fetchAPI(fetchCtx, tracker, previousContent)
	default:
		err = retrackerr.Newf(retrackerr.KindValidation, "unknown target kind %q", tracker.Target.Kind)
	}
	if err != nil {
		return nil, previous, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, previous, retrackerr.Wrap(retrackerr.KindTransient, err, "generate revision id")
	}

	candidate = &types.TrackerDataRevision{
		ID:        id,
		TrackerID: trackerID,
		Data:      types.TrackerDataValue{Original: original},
		CreatedAt: time.Now().UTC(),
	}
	return candidate, previous, nil
}

func rawToAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// resolveSource returns literal script source as-is, or fetches it
// when isURL is set, enforcing the
// public-URL restriction on the URL case (§4.3: "if URL and 'restrict
// to public URLs' is on, validate against DNS public-reachability").
func (p *Pipeline) resolveSource(ctx context.Context, source string, isURL bool) (string, error) {
	if !isURL {
		return source, nil
	}
	if p.RestrictToPublicURLs {
		if err := p.guardURL(ctx, source); err != nil {
			return "", err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return "", retrackerr.Wrap(retrackerr.KindValidation, err, "build script source request")
	}
	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return "", retrackerr.Wrap(retrackerr.KindTransient, err, "fetch script source")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", retrackerr.Newf(retrackerr.KindTargetClient, "script source fetch returned status %d", resp.StatusCode)
	}
	body, err := readAll(resp.Body)
	if err != nil {
		return "", retrackerr.Wrap(retrackerr.KindTransient, err, "read script source body")
	}
	return string(body), nil
}
