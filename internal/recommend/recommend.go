// Package recommend turns rule findings into ranked, deduplicated
// recommendations and computes the report scores. Recommendations are
// rebuilt from scratch on every analysis; selecting one by ID is only
// meaningful against the run that produced it.
package recommend

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/handleui/caliper/internal/analysis"
	"github.com/handleui/caliper/internal/patch"
)

// Recommendation bundles findings that share a remediation. Priority is
// the highest severity band among its findings; Saving sums their
// estimated savings.
type Recommendation struct {
	ID       string             `json:"id"`
	Title    string             `json:"title"`
	Priority int                `json:"priority"`
	Saving   int                `json:"estimatedSavingSeconds,omitempty"`
	Findings []analysis.Finding `json:"findings"`
	Patches  []*patch.Patch     `json:"patches,omitempty"`
}

// Merge groups findings into recommendations. Findings whose patches
// target the same paths collapse into one recommendation regardless of
// which rule produced them; findings without patches stand alone.
// Degraded findings are report noise, not actionable, and are dropped.
//
// The result is sorted by priority, then estimated saving, then ID, all
// descending except the ID tiebreak.
func Merge(findings []analysis.Finding) []Recommendation {
	groups := make(map[string]*Recommendation)
	var order []string

	for _, f := range findings {
		if f.Degraded {
			continue
		}
		key := groupKey(f)
		rec, ok := groups[key]
		if !ok {
			rec = &Recommendation{}
			groups[key] = rec
			order = append(order, key)
		}
		rec.Findings = append(rec.Findings, f)
		rec.Saving += f.Saving
		if p := f.Severity.Priority(); p > rec.Priority {
			rec.Priority = p
			rec.Title = f.Description
		}
		mergePatches(rec, f.Patches)
	}

	recs := make([]Recommendation, 0, len(groups))
	for _, key := range order {
		rec := groups[key]
		rec.ID = recommendationID(key)
		recs = append(recs, *rec)
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Priority != recs[j].Priority {
			return recs[i].Priority > recs[j].Priority
		}
		if recs[i].Saving != recs[j].Saving {
			return recs[i].Saving > recs[j].Saving
		}
		return recs[i].ID < recs[j].ID
	})
	return recs
}

// groupKey is the merge identity: the sorted patch target paths when the
// finding carries patches, otherwise the finding's own location.
func groupKey(f analysis.Finding) string {
	if len(f.Patches) > 0 {
		paths := make([]string, 0, len(f.Patches))
		for _, p := range f.Patches {
			paths = append(paths, p.Path.String())
		}
		sort.Strings(paths)
		return "patch:" + strings.Join(paths, ";")
	}
	return fmt.Sprintf("solo:%s/%s/%d", f.Rule, f.JobID, f.StepIndex)
}

func mergePatches(rec *Recommendation, patches []*patch.Patch) {
	for _, p := range patches {
		exists := false
		for _, have := range rec.Patches {
			if have.ID == p.ID {
				exists = true
				break
			}
		}
		if !exists {
			rec.Patches = append(rec.Patches, p)
		}
	}
}

func recommendationID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "rec:" + hex.EncodeToString(sum[:4])
}

// ByID returns the recommendation with the given ID, or nil.
func ByID(recs []Recommendation, id string) *Recommendation {
	for i := range recs {
		if recs[i].ID == id {
			return &recs[i]
		}
	}
	return nil
}

// SelectPatches collects the patches of the selected recommendation IDs,
// deduplicated, in selection order. Unknown IDs are an error.
func SelectPatches(recs []Recommendation, ids []string) ([]*patch.Patch, error) {
	var selected []*patch.Patch
	seen := make(map[string]bool)

	for _, id := range ids {
		rec := ByID(recs, id)
		if rec == nil {
			return nil, fmt.Errorf("unknown recommendation %q", id)
		}
		for _, p := range rec.Patches {
			if !seen[p.ID] {
				seen[p.ID] = true
				selected = append(selected, p)
			}
		}
	}
	return selected, nil
}
