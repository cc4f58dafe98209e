package revision

import (
	"encoding/json"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/retrack-dev/engine/internal/types"
)

// RevisionView is one entry of a Diff result: the oldest entry carries
// only Value; every other entry also carries a unified-diff Diff
// string against the preceding (older) revision (§4.4).
type RevisionView struct {
	Revision types.TrackerDataRevision
	Value    string
	Diff     string
	HasDiff  bool
}

// Diff transforms revisions (assumed newest-first, as ListRevisions
// returns them) into the diff view: the oldest item keeps its raw
// effective value, every newer item carries a line-oriented unified
// diff against the previous item's effective value, rendered with
// contextRadius lines of context.
func Diff(revisions []types.TrackerDataRevision, contextRadius int) ([]RevisionView, error) {
	out := make([]RevisionView, len(revisions))
	// Work oldest-to-newest internally so "previous" means chronologically prior.
	for i := len(revisions) - 1; i >= 0; i-- {
		rev := revisions[i]
		rendered := renderValue(rev.Data.Effective())
		view := RevisionView{Revision: rev, Value: rendered}

		if i != len(revisions)-1 {
			older := renderValue(revisions[i+1].Data.Effective())
			diffText, err := unifiedDiff(older, rendered, contextRadius)
			if err != nil {
				return nil, err
			}
			view.Diff = diffText
			view.HasDiff = true
		}
		out[i] = view
	}
	return out, nil
}

// renderValue pretty-prints JSON objects/arrays for line-oriented
// diffing and strips surrounding quotes from scalar values (§4.4:
// "Scalars are rendered without surrounding quotes").
func renderValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	switch v.(type) {
	case map[string]any, []any:
		pretty, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return string(raw)
		}
		return string(pretty)
	case string:
		return v.(string)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return string(raw)
		}
		return string(encoded)
	}
}

func unifiedDiff(a, b string, contextRadius int) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: "previous",
		ToFile:   "current",
		Context:  contextRadius,
	}
	return difflib.GetUnifiedDiffString(diff)
}
