package analysis

import (
	"fmt"
	"strings"

	"github.com/handleui/caliper/internal/graph"
	"github.com/handleui/caliper/internal/patch"
	"github.com/handleui/caliper/internal/policy"
	"github.com/handleui/caliper/internal/workflow"
)

// runnerComplexityThreshold is the step count past which a job on a
// default hosted runner gets flagged for a larger profile.
const runnerComplexityThreshold = 15

const (
	sequentialSavingPerJob = 60
	matrixSavingPerExcess  = 30
	runnerMismatchSaving   = 120
)

// Performance runs the performance rules against a definition and its
// execution plan. The plan must come from a cycle-free graph; with a
// cycle these rules are skipped entirely and only Structure reports it.
func Performance(def *workflow.Definition, plan *graph.Plan, pol *policy.Policy) []Finding {
	pol = pol.Normalized()

	var findings []Finding
	runRule("missing-cache", KindCaching, &findings, func() []Finding {
		return missingCache(def)
	})
	runRule("sequential-jobs", KindParallelization, &findings, func() []Finding {
		return sequentialJobs(plan)
	})
	runRule("matrix-explosion", KindMatrix, &findings, func() []Finding {
		return matrixExplosion(def, pol.MaxMatrixProduct)
	})
	runRule("runner-mismatch", KindResource, &findings, func() []Finding {
		return runnerMismatch(def)
	})
	return findings
}

// missingCache flags the first dependency install per ecosystem in each
// job that has no cache step before it, and attaches a patch inserting
// one right above the install.
func missingCache(def *workflow.Definition) []Finding {
	var findings []Finding
	for _, id := range def.JobIDs() {
		job := def.Jobs[id]
		cacheSeen := false
		reported := make(map[string]bool)

		for i, step := range job.Steps {
			if isCacheStep(step) {
				cacheSeen = true
				continue
			}
			if !step.IsRun() {
				continue
			}
			eco := detectInstall(step.Run)
			if eco == nil || cacheSeen || reported[eco.Name] {
				continue
			}
			reported[eco.Name] = true

			findings = append(findings, Finding{
				Rule:        "missing-cache",
				Kind:        KindCaching,
				Severity:    SeverityMedium,
				JobID:       id,
				StepIndex:   i,
				Description: fmt.Sprintf("job %q installs %s dependencies without a cache step", id, eco.Name),
				Suggestion:  fmt.Sprintf("restore %s from a cache keyed on %s before installing", strings.Join(eco.CachePaths, ", "), strings.Join(eco.CacheKeyFiles, ", ")),
				Saving:      eco.SavingSeconds,
				Patches: []*patch.Patch{
					patch.NewInsertStep(patch.StepPath(id, i, ""), cacheStepFor(eco)),
				},
			})
		}
	}
	return findings
}

// isCacheStep recognizes explicit cache actions and setup actions with
// their built-in cache input enabled.
func isCacheStep(step *workflow.Step) bool {
	if step.Action == nil {
		return false
	}
	if strings.Contains(strings.ToLower(step.Action.Repo), "cache") {
		return true
	}
	if strings.HasPrefix(step.Action.Repo, "setup-") {
		if v, ok := step.With["cache"]; ok && v != "" && v != "false" {
			return true
		}
	}
	return false
}

func cacheStepFor(eco *Ecosystem) *workflow.Step {
	return &workflow.Step{
		Name: fmt.Sprintf("Cache %s dependencies", eco.Name),
		Action: &workflow.ActionRef{
			Raw:     "actions/cache@v4",
			Owner:   "actions",
			Repo:    "cache",
			Version: "v4",
		},
		With: map[string]string{
			"path": strings.Join(eco.CachePaths, "\n"),
			"key":  fmt.Sprintf("%s-${{ runner.os }}-${{ hashFiles('%s') }}", eco.Name, strings.Join(eco.CacheKeyFiles, "', '")),
		},
	}
}

// sequentialJobs fires when more than one job exists but fewer than half
// of the scheduled jobs sit in the first wave.
func sequentialJobs(plan *graph.Plan) []Finding {
	total := plan.JobCount()
	if total <= 1 || len(plan.Waves) == 0 {
		return nil
	}
	firstWave := len(plan.Waves[0])
	if 2*firstWave >= total {
		return nil
	}

	chained := total - firstWave
	return []Finding{{
		Rule:        "sequential-jobs",
		Kind:        KindParallelization,
		Severity:    SeverityMedium,
		StepIndex:   -1,
		Description: fmt.Sprintf("only %d of %d jobs start immediately; the rest wait on needs chains", firstWave, total),
		Suggestion:  "remove needs entries that do not express a real data dependency so independent jobs run in parallel",
		Saving:      chained * sequentialSavingPerJob,
	}}
}

// matrixExplosion flags jobs whose matrix expands past the configured
// product limit. Expression-driven matrices are skipped: their size is
// unknown until run time.
func matrixExplosion(def *workflow.Definition, limit int) []Finding {
	var findings []Finding
	for _, id := range def.JobIDs() {
		job := def.Jobs[id]
		if job.Matrix == nil || job.Matrix.Dynamic() {
			continue
		}
		product := job.Matrix.Product()
		if product <= limit {
			continue
		}
		findings = append(findings, Finding{
			Rule:        "matrix-explosion",
			Kind:        KindMatrix,
			Severity:    SeverityMedium,
			JobID:       id,
			StepIndex:   -1,
			Description: fmt.Sprintf("job %q expands to %d matrix combinations (limit %d)", id, product, limit),
			Suggestion:  "drop axes or use exclude entries to keep the matrix within the limit",
			Saving:      (product - limit) * matrixSavingPerExcess,
		})
	}
	return findings
}

// runnerMismatch flags long jobs pinned to a default hosted runner
// profile where a larger runner would shorten the critical path.
func runnerMismatch(def *workflow.Definition) []Finding {
	var findings []Finding
	for _, id := range def.JobIDs() {
		job := def.Jobs[id]
		if !job.Runner.IsDefault() || len(job.Steps) <= runnerComplexityThreshold {
			continue
		}
		findings = append(findings, Finding{
			Rule:        "runner-mismatch",
			Kind:        KindResource,
			Severity:    SeverityLow,
			JobID:       id,
			StepIndex:   -1,
			Description: fmt.Sprintf("job %q runs %d steps on a default runner profile", id, len(job.Steps)),
			Suggestion:  "move the job to a larger runner or split it into smaller jobs",
			Saving:      runnerMismatchSaving,
		})
	}
	return findings
}

// PerformanceScore folds performance findings into a 0-100 score.
// Degraded findings carry no weight, and the structural rules
// (dependency-cycle, dangling-needs) are excluded because they already
// count against the syntax score.
func PerformanceScore(findings []Finding) int {
	total := 0
	for _, f := range findings {
		if f.Degraded || f.Kind == KindSecurity {
			continue
		}
		if f.Rule == "dependency-cycle" || f.Rule == "dangling-needs" {
			continue
		}
		total += f.Severity.Weight()
	}
	score := 100 - total
	if score < 0 {
		score = 0
	}
	return score
}

// Structure reports graph-level problems as findings: a dependency
// cycle, and needs references that point at jobs which do not exist.
// Jobs named in a cycle or with dangling needs never make the plan, so
// these accompany (rather than replace) rule findings.
func Structure(def *workflow.Definition, g *graph.Graph, cycle *graph.CycleError) []Finding {
	var findings []Finding

	if cycle != nil {
		findings = append(findings, Finding{
			Rule:        "dependency-cycle",
			Kind:        KindParallelization,
			Severity:    SeverityHigh,
			StepIndex:   -1,
			Description: cycle.Error(),
			Suggestion:  "break the cycle by removing one of the needs entries",
		})
	}

	unschedulable := g.Unschedulable()
	for _, id := range g.Nodes() {
		for _, missing := range unschedulable[id] {
			findings = append(findings, Finding{
				Rule:        "dangling-needs",
				Kind:        KindParallelization,
				Severity:    SeverityMedium,
				JobID:       id,
				StepIndex:   -1,
				Description: fmt.Sprintf("job %q needs %q, which does not exist", id, missing),
				Suggestion:  fmt.Sprintf("remove the needs entry or add a job named %q", missing),
				Patches: []*patch.Patch{
					patch.NewRemoveField(patch.JobPath(id, "needs")),
				},
			})
		}
	}
	return findings
}
