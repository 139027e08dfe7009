package recommend

import (
	"strings"
	"testing"

	"github.com/handleui/caliper/internal/analysis"
	"github.com/handleui/caliper/internal/patch"
)

func insertPatch(job string, index int) *patch.Patch {
	return patch.NewInsertStep(patch.StepPath(job, index, ""), nil)
}

func TestMerge_SharedPatchTarget(t *testing.T) {
	shared := patch.NewSetField(patch.PipelinePath("permissions"), "contents: read")
	findings := []analysis.Finding{
		{
			Rule:        "write-all-permissions",
			Kind:        analysis.KindSecurity,
			Severity:    analysis.SeverityHigh,
			StepIndex:   -1,
			Description: "pipeline grants write-all permissions",
			Patches:     []*patch.Patch{shared},
		},
		{
			Rule:        "broad-token",
			Kind:        analysis.KindSecurity,
			Severity:    analysis.SeverityMedium,
			StepIndex:   -1,
			Description: "token scope wider than needed",
			Saving:      30,
			Patches:     []*patch.Patch{shared},
		},
	}

	recs := Merge(findings)
	if len(recs) != 1 {
		t.Fatalf("got %d recommendations, want 1 merged", len(recs))
	}

	rec := recs[0]
	if len(rec.Findings) != 2 {
		t.Errorf("merged recommendation has %d findings, want 2", len(rec.Findings))
	}
	if rec.Priority != analysis.SeverityHigh.Priority() {
		t.Errorf("priority = %d, want the high band", rec.Priority)
	}
	if rec.Saving != 30 {
		t.Errorf("saving = %d, want 30", rec.Saving)
	}
	if len(rec.Patches) != 1 {
		t.Errorf("shared patch duplicated: %d patches", len(rec.Patches))
	}
	if !strings.Contains(rec.Title, "write-all") {
		t.Errorf("title %q does not come from the high-severity finding", rec.Title)
	}
}

func TestMerge_SeparateTargets(t *testing.T) {
	findings := []analysis.Finding{
		{
			Rule:      "missing-cache",
			Kind:      analysis.KindCaching,
			Severity:  analysis.SeverityMedium,
			JobID:     "build",
			StepIndex: 1,
			Saving:    180,
			Patches:   []*patch.Patch{insertPatch("build", 1)},
		},
		{
			Rule:      "missing-cache",
			Kind:      analysis.KindCaching,
			Severity:  analysis.SeverityMedium,
			JobID:     "test",
			StepIndex: 0,
			Saving:    90,
			Patches:   []*patch.Patch{insertPatch("test", 0)},
		},
		{
			Rule:        "sequential-jobs",
			Kind:        analysis.KindParallelization,
			Severity:    analysis.SeverityMedium,
			StepIndex:   -1,
			Description: "jobs run in sequence",
			Saving:      120,
		},
	}

	recs := Merge(findings)
	if len(recs) != 3 {
		t.Fatalf("got %d recommendations, want 3", len(recs))
	}

	// Same priority band throughout, so estimated saving decides the order.
	savings := []int{recs[0].Saving, recs[1].Saving, recs[2].Saving}
	if savings[0] != 180 || savings[1] != 120 || savings[2] != 90 {
		t.Errorf("savings order = %v, want [180 120 90]", savings)
	}
}

func TestMerge_OrderInsensitive(t *testing.T) {
	findings := []analysis.Finding{
		{Rule: "a", Kind: analysis.KindCaching, Severity: analysis.SeverityMedium, JobID: "x", StepIndex: 0, Saving: 90, Patches: []*patch.Patch{insertPatch("x", 0)}},
		{Rule: "b", Kind: analysis.KindSecurity, Severity: analysis.SeverityHigh, StepIndex: -1, Description: "b"},
		{Rule: "c", Kind: analysis.KindResource, Severity: analysis.SeverityLow, JobID: "y", StepIndex: -1, Saving: 60},
	}
	reversed := []analysis.Finding{findings[2], findings[1], findings[0]}

	a := Merge(findings)
	b := Merge(reversed)
	if len(a) != len(b) {
		t.Fatalf("different lengths: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Errorf("position %d: %q vs %q", i, a[i].ID, b[i].ID)
		}
	}
}

func TestMerge_DropsDegraded(t *testing.T) {
	recs := Merge([]analysis.Finding{
		{Rule: "missing-cache", Kind: analysis.KindCaching, Severity: analysis.SeverityLow, StepIndex: -1, Degraded: true},
	})
	if len(recs) != 0 {
		t.Errorf("degraded finding produced %d recommendations", len(recs))
	}
}

func TestSelectPatches(t *testing.T) {
	p := insertPatch("build", 1)
	recs := Merge([]analysis.Finding{
		{Rule: "missing-cache", Kind: analysis.KindCaching, Severity: analysis.SeverityMedium, JobID: "build", StepIndex: 1, Patches: []*patch.Patch{p}},
	})
	if len(recs) != 1 {
		t.Fatalf("got %d recommendations, want 1", len(recs))
	}

	patches, err := SelectPatches(recs, []string{recs[0].ID})
	if err != nil {
		t.Fatalf("SelectPatches() error: %v", err)
	}
	if len(patches) != 1 || patches[0].ID != p.ID {
		t.Errorf("selected patches = %+v, want the cache insert", patches)
	}

	if _, err := SelectPatches(recs, []string{"rec:ffffffff"}); err == nil {
		t.Error("unknown recommendation ID did not error")
	}

	if rec := ByID(recs, recs[0].ID); rec == nil {
		t.Error("ByID missed an existing recommendation")
	}
	if rec := ByID(recs, "rec:nope"); rec != nil {
		t.Error("ByID resolved a bogus ID")
	}
}
