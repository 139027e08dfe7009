package coordinate

import (
	"reflect"
	"testing"

	"github.com/handleui/caliper/internal/policy"
)

func pipe(typ string) *Pipeline {
	return &Pipeline{Type: typ}
}

func TestBuildPlan_CIBeforeCD(t *testing.T) {
	plan := BuildPlan([]*Pipeline{pipe("cd"), pipe("ci")}, Options{})

	if !reflect.DeepEqual(plan.Order, []string{"ci", "cd"}) {
		t.Errorf("Order = %v, want [ci cd]", plan.Order)
	}
	if len(plan.Conflicts) != 0 {
		t.Errorf("got %d conflicts, want 0: %+v", len(plan.Conflicts), plan.Conflicts)
	}
	if !plan.Resolved {
		t.Error("conflict-free plan not marked resolved")
	}
}

func TestBuildPlan_FullRoleSet(t *testing.T) {
	plan := BuildPlan([]*Pipeline{
		pipe("release"), pipe("security"), pipe("cd"), pipe("ci"),
	}, Options{})

	want := []string{"ci", "cd", "security", "release"}
	if !reflect.DeepEqual(plan.Order, want) {
		t.Errorf("Order = %v, want %v", plan.Order, want)
	}
	if !reflect.DeepEqual(plan.Edges["cd"], []string{"ci"}) {
		t.Errorf("cd edges = %v, want [ci]", plan.Edges["cd"])
	}
	if !reflect.DeepEqual(plan.Edges["release"], []string{"cd"}) {
		t.Errorf("release edges = %v, want [cd]", plan.Edges["release"])
	}
}

func TestBuildPlan_UnknownRolesFloat(t *testing.T) {
	plan := BuildPlan([]*Pipeline{pipe("docs"), pipe("ci")}, Options{})

	// No rule touches docs, so both sit in the first wave.
	if !reflect.DeepEqual(plan.Order, []string{"ci", "docs"}) {
		t.Errorf("Order = %v, want [ci docs]", plan.Order)
	}
}

func TestBuildPlan_FileConflictDeterminism(t *testing.T) {
	build := func(first, second string) *Plan {
		a := &Pipeline{Type: first, Path: ".github/workflows/main.yml"}
		b := &Pipeline{Type: second, Path: ".github/workflows/main.yml"}
		return BuildPlan([]*Pipeline{a, b}, Options{})
	}

	forward := build("ci", "cd")
	backward := build("cd", "ci")

	for _, plan := range []*Plan{forward, backward} {
		fileConflicts := 0
		for _, c := range plan.Conflicts {
			if c.Type == ConflictFile {
				fileConflicts++
				if !reflect.DeepEqual(c.Affected, []string{"cd", "ci"}) {
					t.Errorf("Affected = %v, want [cd ci]", c.Affected)
				}
				if !c.Automatic() {
					t.Error("planned-path clash should resolve automatically")
				}
			}
		}
		if fileConflicts != 1 {
			t.Errorf("got %d file conflicts, want exactly 1", fileConflicts)
		}
	}

	if !reflect.DeepEqual(forward.Paths, backward.Paths) {
		t.Errorf("input order changed resolved paths: %v vs %v", forward.Paths, backward.Paths)
	}
	if forward.Paths["cd"] == forward.Paths["ci"] {
		t.Error("resolved paths still collide")
	}
}

func TestBuildPlan_NameConflict(t *testing.T) {
	plan := BuildPlan([]*Pipeline{
		{Type: "ci", Name: "Main"},
		{Type: "cd", Name: "Main"},
	}, Options{})

	var found *Conflict
	for i := range plan.Conflicts {
		if plan.Conflicts[i].Type == ConflictName {
			found = &plan.Conflicts[i]
		}
	}
	if found == nil {
		t.Fatal("no name conflict reported")
	}
	if !found.Automatic() {
		t.Error("duplicate display names should rename automatically")
	}
	if !plan.Resolved {
		t.Error("automatically resolvable plan not marked resolved")
	}

	names := make(map[string]bool)
	for _, name := range plan.Order {
		if names[name] {
			t.Errorf("order still contains duplicate name %q", name)
		}
		names[name] = true
	}
}

func TestBuildPlan_ExistingFileNotAutomatic(t *testing.T) {
	plan := BuildPlan([]*Pipeline{pipe("ci")}, Options{
		Exists: func(path string) bool { return true },
	})

	if len(plan.Conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1", len(plan.Conflicts))
	}
	c := plan.Conflicts[0]
	if c.Type != ConflictFile || c.Automatic() {
		t.Errorf("on-disk clash reported as %s/automatic=%v, want file/non-automatic", c.Type, c.Automatic())
	}
	if len(c.Resolutions) < 2 {
		t.Errorf("got %d resolutions, want the overwrite and keep choices", len(c.Resolutions))
	}
	if plan.Resolved {
		t.Error("plan with a manual conflict marked resolved")
	}
}

func TestBuildPlan_SharedSecrets(t *testing.T) {
	plan := BuildPlan([]*Pipeline{
		{Type: "ci", Secrets: []string{"NPM_TOKEN", "CODECOV_TOKEN"}},
		{Type: "cd", Secrets: []string{"NPM_TOKEN", "DEPLOY_KEY", "DEPLOY_KEY"}},
		{Type: "security", Secrets: []string{"SNYK_TOKEN"}},
	}, Options{})

	if !reflect.DeepEqual(plan.SharedSecrets, []string{"NPM_TOKEN"}) {
		t.Errorf("SharedSecrets = %v, want [NPM_TOKEN]", plan.SharedSecrets)
	}
}

func TestBuildPlan_SharedVariables(t *testing.T) {
	plan := BuildPlan([]*Pipeline{
		{Type: "ci", Variables: map[string]string{"project": "caliper", "ecosystems": "go"}},
		{Type: "cd", Variables: map[string]string{"project": "caliper", "ecosystems": "node"}},
	}, Options{})

	want := map[string]string{"project": "caliper"}
	if !reflect.DeepEqual(plan.SharedVariables, want) {
		t.Errorf("SharedVariables = %v, want %v", plan.SharedVariables, want)
	}
}

func TestBuildPlan_RequiredPipelines(t *testing.T) {
	pol := policy.Default()
	pol.RequiredPipelines = []string{"security"}

	plan := BuildPlan([]*Pipeline{pipe("ci"), pipe("cd")}, Options{Policy: pol})

	var found *Conflict
	for i := range plan.Conflicts {
		if plan.Conflicts[i].Type == ConflictResource {
			found = &plan.Conflicts[i]
		}
	}
	if found == nil {
		t.Fatal("missing required pipeline not reported")
	}
	if !reflect.DeepEqual(found.Affected, []string{"security"}) {
		t.Errorf("Affected = %v, want [security]", found.Affected)
	}
	if plan.Resolved {
		t.Error("plan missing a required pipeline marked resolved")
	}
}

func TestBuildPlan_Empty(t *testing.T) {
	plan := BuildPlan(nil, Options{})
	if len(plan.Order) != 0 || !plan.Resolved {
		t.Errorf("empty plan = %+v", plan)
	}
}
