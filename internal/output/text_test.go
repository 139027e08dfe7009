package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/handleui/caliper/internal/analysis"
	"github.com/handleui/caliper/internal/coordinate"
	"github.com/handleui/caliper/internal/engine"
	"github.com/handleui/caliper/internal/patch"
	"github.com/handleui/caliper/internal/recommend"
)

func TestFormatReport(t *testing.T) {
	tests := []struct {
		name     string
		report   *engine.Report
		validate func(t *testing.T, output string)
	}{
		{
			name: "clean report",
			report: &engine.Report{
				Path: ".github/workflows/ci.yml",
				Name: "CI",
				Scores: recommend.Scores{
					Overall: 100, Syntax: 100, ActionRefs: 100,
					SecretRefs: 100, Performance: 100, Security: 100,
				},
				Waves:          [][]string{{"build"}, {"test"}},
				Parallelizable: []string{"build"},
			},
			validate: func(t *testing.T, output string) {
				if !strings.Contains(output, "No findings") {
					t.Error("expected 'No findings' message")
				}
				if !strings.Contains(output, "✓") {
					t.Error("expected checkmark symbol")
				}
				if !strings.Contains(output, "100/100") {
					t.Error("expected perfect score")
				}
				if !strings.Contains(output, "wave 1: build") {
					t.Error("expected first wave in execution plan")
				}
				if !strings.Contains(output, "wave 2: test") {
					t.Error("expected second wave in execution plan")
				}
				if !strings.Contains(output, "parallelizable: build") {
					t.Error("expected parallelizable jobs")
				}
			},
		},
		{
			name: "findings and recommendations",
			report: &engine.Report{
				Path: ".github/workflows/ci.yml",
				Name: "CI",
				Scores: recommend.Scores{
					Overall: 85, Syntax: 100, ActionRefs: 100,
					SecretRefs: 100, Performance: 90, Security: 80,
				},
				Findings: []analysis.Finding{
					{
						Rule:        "write-all-permissions",
						Kind:        analysis.KindSecurity,
						Severity:    analysis.SeverityHigh,
						StepIndex:   -1,
						Description: "workflow grants write-all permissions",
						Suggestion:  "scope permissions to what each job needs",
					},
					{
						Rule:        "missing-cache",
						Kind:        analysis.KindCaching,
						Severity:    analysis.SeverityMedium,
						JobID:       "build",
						StepIndex:   1,
						Description: "node dependencies are installed without a cache",
						Saving:      180,
					},
					{
						Rule:        "runner-mismatch",
						Kind:        analysis.KindResource,
						Severity:    analysis.SeverityLow,
						JobID:       "build",
						StepIndex:   -1,
						Description: "job has many steps but runs on a default runner",
					},
				},
				Recommendations: []recommend.Recommendation{
					{
						ID:       "rec-1a2b3c4d",
						Title:    "node dependencies are installed without a cache",
						Priority: 2,
						Saving:   180,
						Patches:  []*patch.Patch{{Op: patch.OpInsertStep}},
					},
					{
						ID:       "rec-5e6f7a8b",
						Title:    "workflow grants write-all permissions",
						Priority: 3,
					},
				},
				Waves: [][]string{{"build"}},
			},
			validate: func(t *testing.T, output string) {
				if !strings.Contains(output, "(3 findings: 1 high, 1 medium, 1 low)") {
					t.Error("expected severity counts in header")
				}
				if !strings.Contains(output, "caliper apply") {
					t.Error("expected apply hint")
				}
				if !strings.Contains(output, "85/100") {
					t.Error("expected overall score")
				}
				if !strings.Contains(output, "[missing-cache]") {
					t.Error("expected rule tag on finding")
				}
				if !strings.Contains(output, "build/1:") {
					t.Error("expected job/step location")
				}
				if !strings.Contains(output, "scope permissions to what each job needs") {
					t.Error("expected suggestion line")
				}
				if !strings.Contains(output, "rec-1a2b3c4d") {
					t.Error("expected recommendation ID")
				}
				if !strings.Contains(output, "saves ~180s per run") {
					t.Error("expected saving estimate")
				}
				if !strings.Contains(output, "auto-fixable") {
					t.Error("expected auto-fixable marker")
				}
				if !strings.Contains(output, "[high]") {
					t.Error("expected high priority badge")
				}
			},
		},
		{
			name: "parse failure",
			report: &engine.Report{
				Path: ".github/workflows/broken.yml",
				Err:  "parsing definition: unexpected mapping",
			},
			validate: func(t *testing.T, output string) {
				if !strings.Contains(output, "✖") {
					t.Error("expected failure symbol")
				}
				if !strings.Contains(output, "unexpected mapping") {
					t.Error("expected parse error message")
				}
				if !strings.Contains(output, "score 0/100") {
					t.Error("expected zero score note")
				}
			},
		},
		{
			name: "dependency cycle",
			report: &engine.Report{
				Name: "Cyclic",
				Scores: recommend.Scores{
					Overall: 91, Syntax: 75, ActionRefs: 100,
					SecretRefs: 100, Performance: 100, Security: 100,
				},
				Findings: []analysis.Finding{
					{
						Rule:        "dependency-cycle",
						Kind:        analysis.KindParallelization,
						Severity:    analysis.SeverityHigh,
						StepIndex:   -1,
						Description: "jobs form a dependency cycle: a, b",
					},
				},
				Cycle: []string{"a", "b"},
			},
			validate: func(t *testing.T, output string) {
				if !strings.Contains(output, "dependency cycle:") {
					t.Error("expected cycle header")
				}
				if !strings.Contains(output, "a → b → a") {
					t.Error("expected cycle path closed back to its start")
				}
				if strings.Contains(output, "wave") {
					t.Error("cycle output should not list waves")
				}
			},
		},
		{
			name: "unschedulable jobs",
			report: &engine.Report{
				Name: "Dangling",
				Scores: recommend.Scores{
					Overall: 95, Syntax: 90, ActionRefs: 100,
					SecretRefs: 100, Performance: 100, Security: 100,
				},
				Waves:    [][]string{{"build"}},
				Excluded: []string{"deploy"},
			},
			validate: func(t *testing.T, output string) {
				if !strings.Contains(output, "unschedulable: deploy") {
					t.Error("expected unschedulable jobs line")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			FormatReport(&buf, tt.report)
			output := buf.String()

			if output == "" {
				t.Fatal("FormatReport() produced empty output")
			}

			tt.validate(t, output)
		})
	}
}

func TestFormatBatch(t *testing.T) {
	reports := map[string]*engine.Report{
		".github/workflows/ci.yml": {
			Path:   ".github/workflows/ci.yml",
			Name:   "CI",
			Scores: recommend.Scores{Overall: 100},
		},
		".github/workflows/cd.yml": {
			Path:   ".github/workflows/cd.yml",
			Name:   "CD",
			Scores: recommend.Scores{Overall: 80},
			Findings: []analysis.Finding{
				{Rule: "missing-cache", Severity: analysis.SeverityMedium, StepIndex: -1, Description: "no cache"},
				{Rule: "risky-trigger", Severity: analysis.SeverityMedium, StepIndex: -1, Description: "pull_request_target"},
			},
		},
		".github/workflows/broken.yml": {
			Path: ".github/workflows/broken.yml",
			Err:  "parsing definition: bad indent",
		},
	}

	var buf bytes.Buffer
	FormatBatch(&buf, reports)
	output := buf.String()

	if !strings.Contains(output, "3 pipelines analyzed, 2 findings, 1 failed to parse") {
		t.Errorf("expected summary line, got:\n%s", output)
	}

	// Lines are sorted by path.
	broken := strings.Index(output, "broken.yml")
	cd := strings.Index(output, "cd.yml")
	ci := strings.Index(output, "ci.yml")
	if broken == -1 || cd == -1 || ci == -1 {
		t.Fatalf("expected all three paths in output, got:\n%s", output)
	}
	if !(broken < cd && cd < ci) {
		t.Errorf("expected paths sorted, positions broken=%d cd=%d ci=%d", broken, cd, ci)
	}

	if !strings.Contains(output, "bad indent") {
		t.Error("expected parse error on failed line")
	}
	if !strings.Contains(output, "80/100") {
		t.Error("expected per-file score")
	}
}

func TestFormatCoordination(t *testing.T) {
	tests := []struct {
		name     string
		plan     *coordinate.Plan
		validate func(t *testing.T, output string)
	}{
		{
			name: "resolved plan with shared resources",
			plan: &coordinate.Plan{
				Order: []string{"ci", "cd"},
				Edges: map[string][]string{"cd": {"ci"}},
				Paths: map[string]string{
					"ci": ".github/workflows/ci.yml",
					"cd": ".github/workflows/cd.yml",
				},
				Conflicts: []coordinate.Conflict{
					{
						Type:     "name",
						Affected: []string{"ci", "cd"},
						Resolutions: []coordinate.Resolution{
							{Description: "renamed cd to cd-2", Automatic: true},
						},
					},
				},
				SharedSecrets:   []string{"DEPLOY_TOKEN"},
				SharedVariables: map[string]string{"project": "caliper", "region": "eu"},
				Resolved:        true,
			},
			validate: func(t *testing.T, output string) {
				if !strings.Contains(output, "ci → cd") {
					t.Error("expected execution order")
				}
				if !strings.Contains(output, "ci before cd") {
					t.Error("expected ordering constraint")
				}
				if !strings.Contains(output, "cd → .github/workflows/cd.yml") {
					t.Error("expected output file mapping")
				}
				if !strings.Contains(output, "name conflict: ci, cd") {
					t.Error("expected conflict line")
				}
				if !strings.Contains(output, "applied: renamed cd to cd-2") {
					t.Error("expected automatic resolution")
				}
				if !strings.Contains(output, "secrets: DEPLOY_TOKEN") {
					t.Error("expected shared secrets")
				}
				if !strings.Contains(output, "variables: project=caliper, region=eu") {
					t.Error("expected shared variables sorted by key")
				}
				if !strings.Contains(output, "Plan resolved") {
					t.Error("expected resolved footer")
				}
			},
		},
		{
			name: "unresolved plan",
			plan: &coordinate.Plan{
				Order: []string{"ci", "security"},
				Edges: map[string][]string{"security": {"ci"}},
				Conflicts: []coordinate.Conflict{
					{
						Type:     "resource",
						Affected: []string{"ci", "security"},
						Resolutions: []coordinate.Resolution{
							{Description: "serialize access to the shared cache"},
						},
					},
				},
			},
			validate: func(t *testing.T, output string) {
				if !strings.Contains(output, "needs decision: serialize access to the shared cache") {
					t.Error("expected manual resolution marker")
				}
				if !strings.Contains(output, "Plan needs attention") {
					t.Error("expected unresolved footer")
				}
				if strings.Contains(output, "Shared resources") {
					t.Error("expected no shared resources section")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			FormatCoordination(&buf, tt.plan)
			output := buf.String()

			if output == "" {
				t.Fatal("FormatCoordination() produced empty output")
			}

			tt.validate(t, output)
		})
	}
}
