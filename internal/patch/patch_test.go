package patch

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/handleui/caliper/internal/workflow"
)

const sampleYAML = `name: CI
on: push
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
      - run: npm install
      - run: npm test
  deploy:
    runs-on: ubuntu-latest
    needs: build
    steps:
      - run: ./deploy.sh
`

func parseSample(t *testing.T) *workflow.Definition {
	t.Helper()
	def, perr := workflow.Parse([]byte(sampleYAML))
	if perr != nil {
		t.Fatalf("parse sample: %v", perr)
	}
	return def
}

func cacheStep() *workflow.Step {
	return &workflow.Step{
		Name: "Cache dependencies",
		Action: &workflow.ActionRef{
			Raw:     "actions/cache@v4",
			Owner:   "actions",
			Repo:    "cache",
			Version: "v4",
		},
		With: map[string]string{
			"path": "~/.npm",
			"key":  "npm-${{ hashFiles('package-lock.json') }}",
		},
	}
}

func TestPatchID_Deterministic(t *testing.T) {
	a := NewSetField(JobPath("build", "timeout-minutes"), "30")
	b := NewSetField(JobPath("build", "timeout-minutes"), "30")
	if a.ID != b.ID {
		t.Errorf("identical patches got different IDs: %q vs %q", a.ID, b.ID)
	}

	c := NewSetField(JobPath("build", "timeout-minutes"), "45")
	if a.ID == c.ID {
		t.Errorf("different values share ID %q", a.ID)
	}

	if !strings.HasPrefix(a.ID, "set-field:jobs.build.timeout-minutes:") {
		t.Errorf("unexpected ID format %q", a.ID)
	}

	s1 := NewInsertStep(StepPath("build", 1, ""), cacheStep())
	s2 := NewInsertStep(StepPath("build", 1, ""), cacheStep())
	if s1.ID != s2.ID {
		t.Errorf("identical insert patches got different IDs: %q vs %q", s1.ID, s2.ID)
	}
}

func TestPath_String(t *testing.T) {
	tests := []struct {
		name string
		path Path
		want string
	}{
		{"pipeline field", PipelinePath("permissions"), "pipeline.permissions"},
		{"job field", JobPath("build", "timeout-minutes"), "jobs.build.timeout-minutes"},
		{"step field", StepPath("build", 2, "continue-on-error"), "jobs.build.steps[2].continue-on-error"},
		{"step position", StepPath("build", 1, ""), "jobs.build.steps[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.path.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApply_SetField(t *testing.T) {
	def := parseSample(t)

	patched, err := Apply(def, []*Patch{
		NewSetField(PipelinePath("permissions"), "contents: read"),
		NewSetField(JobPath("build", "timeout-minutes"), "30"),
		NewSetField(JobPath("deploy", "continue-on-error"), "true"),
	})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	if got := patched.Permissions.Scopes["contents"]; got != "read" {
		t.Errorf("pipeline permissions contents = %q, want read", got)
	}
	if got := patched.Jobs["build"].TimeoutMinutes; got != 30 {
		t.Errorf("build timeout = %d, want 30", got)
	}
	if !patched.Jobs["deploy"].ContinueOnError {
		t.Error("deploy continue-on-error not set")
	}

	if def.Jobs["build"].TimeoutMinutes != 0 {
		t.Error("Apply() mutated its input")
	}
}

func TestApply_RemoveField(t *testing.T) {
	def := parseSample(t)
	def.Permissions = workflow.Permissions{All: "write-all"}

	patched, err := Apply(def, []*Patch{
		NewRemoveField(PipelinePath("permissions")),
		NewRemoveField(JobPath("deploy", "needs")),
	})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	if !patched.Permissions.IsZero() {
		t.Errorf("pipeline permissions not cleared: %+v", patched.Permissions)
	}
	if patched.Jobs["deploy"].Needs != nil {
		t.Errorf("deploy needs not cleared: %v", patched.Jobs["deploy"].Needs)
	}
}

func TestApply_InsertStep(t *testing.T) {
	def := parseSample(t)

	patched, err := Apply(def, []*Patch{
		NewInsertStep(StepPath("build", 1, ""), cacheStep()),
	})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	steps := patched.Jobs["build"].Steps
	if len(steps) != 4 {
		t.Fatalf("build has %d steps, want 4", len(steps))
	}
	if steps[1].Name != "Cache dependencies" {
		t.Errorf("step 1 = %q, want the cache step", steps[1].DisplayName())
	}
	if steps[2].Run != "npm install" {
		t.Errorf("step 2 = %q, original steps not shifted", steps[2].Run)
	}

	if len(def.Jobs["build"].Steps) != 3 {
		t.Error("Apply() mutated its input")
	}
}

func TestApply_InsertIdempotent(t *testing.T) {
	def := parseSample(t)
	p := NewInsertStep(StepPath("build", 1, ""), cacheStep())

	once, err := Apply(def, []*Patch{p})
	if err != nil {
		t.Fatalf("first Apply() error: %v", err)
	}
	twice, err := Apply(once, []*Patch{p})
	if err != nil {
		t.Fatalf("second Apply() error: %v", err)
	}

	if got := len(twice.Jobs["build"].Steps); got != 4 {
		t.Errorf("re-applying insert duplicated the step: %d steps, want 4", got)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Error("re-applying an insert changed the definition")
	}
}

func TestApply_OrderIndependence(t *testing.T) {
	patches := []*Patch{
		NewInsertStep(StepPath("build", 1, ""), cacheStep()),
		NewSetField(JobPath("build", "timeout-minutes"), "30"),
		NewSetField(PipelinePath("permissions"), "contents: read"),
	}

	orders := [][]int{
		{0, 1, 2},
		{2, 1, 0},
		{1, 2, 0},
	}

	var baseline *workflow.Definition
	for _, order := range orders {
		selection := make([]*Patch, 0, len(patches))
		for _, i := range order {
			selection = append(selection, patches[i])
		}
		patched, err := Apply(parseSample(t), selection)
		if err != nil {
			t.Fatalf("Apply(%v) error: %v", order, err)
		}
		if baseline == nil {
			baseline = patched
			continue
		}
		if !reflect.DeepEqual(baseline, patched) {
			t.Errorf("order %v produced a different definition", order)
		}
	}
}

func TestApply_Conflict(t *testing.T) {
	def := parseSample(t)
	a := NewSetField(JobPath("build", "timeout-minutes"), "30")
	b := NewSetField(JobPath("build", "timeout-minutes"), "45")

	patched, err := Apply(def, []*Patch{a, b})
	if patched != nil {
		t.Fatal("conflicting selection still produced a definition")
	}

	var cerr *ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want ConflictError", err)
	}
	if len(cerr.Pairs) != 1 {
		t.Fatalf("got %d conflict pairs, want 1", len(cerr.Pairs))
	}
	pair := cerr.Pairs[0]
	if !(pair[0] == a.ID && pair[1] == b.ID) && !(pair[0] == b.ID && pair[1] == a.ID) {
		t.Errorf("conflict pair %v does not name %q and %q", pair, a.ID, b.ID)
	}

	if def.Jobs["build"].TimeoutMinutes != 0 {
		t.Error("failed application still mutated the input")
	}
}

func TestApply_DuplicatesCollapse(t *testing.T) {
	def := parseSample(t)
	p := NewSetField(JobPath("build", "timeout-minutes"), "30")

	patched, err := Apply(def, []*Patch{p, p, NewSetField(JobPath("build", "timeout-minutes"), "30")})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if got := patched.Jobs["build"].TimeoutMinutes; got != 30 {
		t.Errorf("timeout = %d, want 30", got)
	}
}

func TestApply_Errors(t *testing.T) {
	tests := []struct {
		name    string
		patch   *Patch
		wantMsg string
	}{
		{
			name:    "unknown job",
			patch:   NewSetField(JobPath("missing", "timeout-minutes"), "30"),
			wantMsg: "unknown job",
		},
		{
			name:    "insert index out of range",
			patch:   NewInsertStep(StepPath("build", 9, ""), cacheStep()),
			wantMsg: "out of range",
		},
		{
			name:    "invalid bool",
			patch:   NewSetField(JobPath("build", "continue-on-error"), "maybe"),
			wantMsg: "invalid bool",
		},
		{
			name:    "invalid timeout",
			patch:   NewSetField(JobPath("build", "timeout-minutes"), "soon"),
			wantMsg: "invalid timeout",
		},
		{
			name:    "unsupported field",
			patch:   NewSetField(JobPath("build", "runs-on"), "ubuntu-latest"),
			wantMsg: "unsupported field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Apply(parseSample(t), []*Patch{tt.patch})
			if err == nil {
				t.Fatal("Apply() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestHarden(t *testing.T) {
	def := parseSample(t)
	patches := Harden(def)

	// Two job timeouts plus one per run step (two in build, one in deploy).
	if len(patches) != 5 {
		t.Fatalf("got %d harden patches, want 5", len(patches))
	}

	patched, err := Apply(def, patches)
	if err != nil {
		t.Fatalf("Apply(harden) error: %v", err)
	}
	if got := patched.Jobs["build"].TimeoutMinutes; got != 30 {
		t.Errorf("build timeout = %d, want 30", got)
	}
	if got := patched.Jobs["build"].Steps[1].TimeoutMinutes; got != 15 {
		t.Errorf("run step timeout = %d, want 15", got)
	}
	if got := patched.Jobs["build"].Steps[0].TimeoutMinutes; got != 0 {
		t.Errorf("uses step got a timeout: %d", got)
	}

	if again := Harden(patched); len(again) != 0 {
		t.Errorf("hardened definition still produced %d patches", len(again))
	}
}
