package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/handleui/caliper/internal/coordinate"
	"github.com/handleui/caliper/internal/engine"
)

func TestBuildRequests(t *testing.T) {
	t.Run("bare roles", func(t *testing.T) {
		reqs, seeded, err := buildRequests([]string{"ci", "cd"}, nil)
		if err != nil {
			t.Fatalf("buildRequests() error = %v", err)
		}
		if len(reqs) != 2 {
			t.Fatalf("got %d requests, want 2", len(reqs))
		}
		if reqs[0].Type != "ci" || reqs[0].Name != "ci" {
			t.Errorf("first request = %q/%q, want ci/ci", reqs[0].Type, reqs[0].Name)
		}
		if reqs[1].Type != "cd" {
			t.Errorf("second request type = %q, want cd", reqs[1].Type)
		}
		if len(seeded) != 0 {
			t.Errorf("bare roles should seed no files, got %v", seeded)
		}
	})

	t.Run("role casing normalized", func(t *testing.T) {
		reqs, _, err := buildRequests([]string{"CI"}, nil)
		if err != nil {
			t.Fatalf("buildRequests() error = %v", err)
		}
		if reqs[0].Type != "ci" {
			t.Errorf("type = %q, want ci", reqs[0].Type)
		}
	})

	t.Run("invalid role", func(t *testing.T) {
		if _, _, err := buildRequests([]string{"ci!"}, nil); err == nil {
			t.Error("expected error for invalid role")
		}
	})

	t.Run("seeded file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "ci.yml")
		if err := os.WriteFile(path, []byte(minimalDefinition), 0o644); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}

		vars := map[string]string{"project": "api"}
		reqs, seeded, err := buildRequests([]string{"ci=" + path}, vars)
		if err != nil {
			t.Fatalf("buildRequests() error = %v", err)
		}
		if reqs[0].Name != "ci" {
			t.Errorf("name = %q, want the parsed definition name", reqs[0].Name)
		}
		if reqs[0].Path != filepath.Clean(path) {
			t.Errorf("path = %q, want %q", reqs[0].Path, filepath.Clean(path))
		}
		if len(reqs[0].Text) == 0 {
			t.Error("seeded request should carry the file text")
		}
		if reqs[0].Variables["project"] != "api" {
			t.Errorf("variables = %v, want project=api", reqs[0].Variables)
		}
		if !seeded[filepath.Clean(path)] {
			t.Errorf("seeded set = %v, want %q", seeded, path)
		}
	})

	t.Run("missing seed file", func(t *testing.T) {
		if _, _, err := buildRequests([]string{"ci=/does/not/exist.yml"}, nil); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestUniquifyNames(t *testing.T) {
	reqs := []engine.PipelineRequest{
		{Type: "ci"},
		{Type: "ci"},
		{Type: "cd", Name: "Deploy"},
		{Type: "cd", Name: "Deploy"},
	}
	uniquifyNames(reqs)

	want := []string{"ci", "ci-2", "Deploy", "Deploy-2"}
	for i, name := range want {
		if reqs[i].Name != name {
			t.Errorf("reqs[%d].Name = %q, want %q", i, reqs[i].Name, name)
		}
	}
}

func TestApplyRenames(t *testing.T) {
	reqs := []engine.PipelineRequest{
		{Type: "ci", Name: "ci", Path: "a.yml"},
		{Type: "cd", Name: "cd"},
	}

	applyRenames(reqs, coordinate.ConflictFile, map[string]string{"ci": "b.yml"})
	if reqs[0].Path != "b.yml" {
		t.Errorf("path = %q, want b.yml", reqs[0].Path)
	}
	if reqs[0].Name != "ci" {
		t.Errorf("file rename must not touch the name, got %q", reqs[0].Name)
	}

	applyRenames(reqs, coordinate.ConflictName, map[string]string{"cd": "deploy"})
	if reqs[1].Name != "deploy" {
		t.Errorf("name = %q, want deploy", reqs[1].Name)
	}

	// Unknown names are ignored.
	applyRenames(reqs, coordinate.ConflictName, map[string]string{"ghost": "x"})
}

func TestNextManualConflict(t *testing.T) {
	plan := &coordinate.Plan{Conflicts: []coordinate.Conflict{
		{Type: coordinate.ConflictName, Resolutions: []coordinate.Resolution{{Automatic: true}}},
		{Type: coordinate.ConflictFile, Resolutions: []coordinate.Resolution{{Description: "overwrite"}}},
		{Type: coordinate.ConflictResource, Resolutions: []coordinate.Resolution{{Description: "add"}}},
	}}

	first, ok := nextManualConflict(plan, 0)
	if !ok || first.Type != coordinate.ConflictFile {
		t.Fatalf("first manual conflict = %v/%v, want the file conflict", first.Type, ok)
	}

	second, ok := nextManualConflict(plan, 1)
	if !ok || second.Type != coordinate.ConflictResource {
		t.Fatalf("second manual conflict = %v/%v, want the resource conflict", second.Type, ok)
	}

	if _, ok := nextManualConflict(plan, 2); ok {
		t.Error("expected no manual conflict left after skipping both")
	}
}

func TestParsePlanVars(t *testing.T) {
	tests := []struct {
		name    string
		vars    []string
		want    map[string]string
		wantErr bool
	}{
		{name: "no vars", vars: nil, want: nil},
		{name: "pairs", vars: []string{"project=api", "region=eu"}, want: map[string]string{"project": "api", "region": "eu"}},
		{name: "empty value allowed", vars: []string{"flag="}, want: map[string]string{"flag": ""}},
		{name: "missing equals", vars: []string{"project"}, wantErr: true},
		{name: "empty key", vars: []string{"=api"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := planVars
			defer func() { planVars = original }()
			planVars = tt.vars

			got, err := parsePlanVars()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("parsePlanVars() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d vars, want %d", len(got), len(tt.want))
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("vars[%q] = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestPlanFSHidesSeeded(t *testing.T) {
	dir := t.TempDir()
	seededPath := filepath.Join(dir, "ci.yml")
	otherPath := filepath.Join(dir, "cd.yml")
	for _, path := range []string{seededPath, otherPath} {
		if err := os.WriteFile(path, []byte(minimalDefinition), 0o644); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}
	}

	fs := planFS{
		FS:     engine.OSFileSystem(),
		seeded: map[string]bool{filepath.Clean(seededPath): true},
	}

	if fs.Exists(seededPath) {
		t.Error("seeded file should be hidden from the existence check")
	}
	if !fs.Exists(otherPath) {
		t.Error("unrelated files should still report as existing")
	}
}
