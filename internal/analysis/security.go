package analysis

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/handleui/caliper/internal/patch"
	"github.com/handleui/caliper/internal/policy"
	"github.com/handleui/caliper/internal/workflow"
)

// untrustedRiskCap bounds how much the untrusted-action rule can drag
// the security score down in total, however many references it flags.
const untrustedRiskCap = 30

// injectionPaths are the event fields an external user controls. A run
// script interpolating one of these directly is shell-injectable. This
// is a fixed list, not taint analysis; renamed or indirected access is
// not caught.
var injectionPaths = []string{
	`github\.event\.issue\.title`,
	`github\.event\.issue\.body`,
	`github\.event\.pull_request\.title`,
	`github\.event\.pull_request\.body`,
	`github\.event\.comment\.body`,
	`github\.event\.review\.body`,
	`github\.event\.review_comment\.body`,
	`github\.event\.head_commit\.message`,
	`github\.event\.commits\[\d+\]\.message`,
	`github\.event\.pull_request\.head\.ref`,
	`github\.event\.pull_request\.head\.label`,
	`github\.head_ref`,
}

var injectionRe = regexp.MustCompile(`\$\{\{\s*(?:` + strings.Join(injectionPaths, "|") + `)\s*\}\}`)

var commitSHARe = regexp.MustCompile(`^[0-9a-f]{40}$`)

// Security runs the security rules against a definition. These rules
// need no execution plan, so they still run when scheduling failed on a
// cycle.
func Security(def *workflow.Definition, pol *policy.Policy) []Finding {
	pol = pol.Normalized()

	var findings []Finding
	runRule("write-all-permissions", KindSecurity, &findings, func() []Finding {
		return writeAllPermissions(def)
	})
	runRule("risky-trigger", KindSecurity, &findings, func() []Finding {
		return riskyTrigger(def)
	})
	runRule("expression-injection", KindSecurity, &findings, func() []Finding {
		return expressionInjection(def)
	})
	runRule("untrusted-action", KindSecurity, &findings, func() []Finding {
		return untrustedActions(def, pol.Trust)
	})
	runRule("unpinned-action", KindSecurity, &findings, func() []Finding {
		return unpinnedActions(def)
	})
	runRule("forbidden-action", KindSecurity, &findings, func() []Finding {
		return forbiddenActions(def, pol)
	})
	return findings
}

// writeAllPermissions flags blanket write tokens at the pipeline and
// job level, each with a patch tightening the grant to contents: read.
func writeAllPermissions(def *workflow.Definition) []Finding {
	var findings []Finding

	if scopes := def.Permissions.WriteAllScopes(); len(scopes) > 0 {
		findings = append(findings, Finding{
			Rule:        "write-all-permissions",
			Kind:        KindSecurity,
			Severity:    SeverityHigh,
			StepIndex:   -1,
			Description: "pipeline grants write-all permissions to every job",
			Suggestion:  "declare only the scopes jobs actually write, starting from contents: read",
			Patches: []*patch.Patch{
				patch.NewSetField(patch.PipelinePath("permissions"), "contents: read"),
			},
		})
	}

	for _, id := range def.JobIDs() {
		job := def.Jobs[id]
		if scopes := job.Permissions.WriteAllScopes(); len(scopes) > 0 {
			findings = append(findings, Finding{
				Rule:        "write-all-permissions",
				Kind:        KindSecurity,
				Severity:    SeverityHigh,
				JobID:       id,
				StepIndex:   -1,
				Description: fmt.Sprintf("job %q grants write-all permissions", id),
				Suggestion:  "declare only the scopes the job actually writes",
				Patches: []*patch.Patch{
					patch.NewSetField(patch.JobPath(id, "permissions"), "contents: read"),
				},
			})
		}
	}
	return findings
}

// riskyTrigger flags pull_request_target, which runs fork-supplied
// changes with a write token and secret access.
func riskyTrigger(def *workflow.Definition) []Finding {
	if !def.HasTrigger(workflow.TriggerPullRequestTarget) {
		return nil
	}
	return []Finding{{
		Rule:        "risky-trigger",
		Kind:        KindSecurity,
		Severity:    SeverityMedium,
		StepIndex:   -1,
		Description: "pipeline runs on pull_request_target, which exposes secrets and a write token to external pull requests",
		Suggestion:  "switch to pull_request, or keep the trigger but never check out or execute fork code",
	}}
}

// expressionInjection scans run scripts for direct interpolation of
// attacker-controlled event fields.
func expressionInjection(def *workflow.Definition) []Finding {
	var findings []Finding
	for _, id := range def.JobIDs() {
		job := def.Jobs[id]
		for i, step := range job.Steps {
			if !step.IsRun() {
				continue
			}
			match := injectionRe.FindString(step.Run)
			if match == "" {
				continue
			}
			findings = append(findings, Finding{
				Rule:        "expression-injection",
				Kind:        KindSecurity,
				Severity:    SeverityHigh,
				JobID:       id,
				StepIndex:   i,
				Description: fmt.Sprintf("step %q interpolates %s straight into a shell script", step.DisplayName(), strings.TrimSpace(match)),
				Suggestion:  "pass the value through an env entry and reference it as a quoted shell variable",
			})
		}
	}
	return findings
}

// untrustedActions flags references whose owner or slug is not in the
// trust registry. Local and docker references are out of scope here;
// the score contribution of this rule is capped at untrustedRiskCap.
func untrustedActions(def *workflow.Definition, trust policy.TrustRegistry) []Finding {
	var findings []Finding
	seen := make(map[string]bool)

	for _, id := range def.JobIDs() {
		job := def.Jobs[id]
		for i, step := range job.Steps {
			ref := step.Action
			if ref == nil || ref.Local || ref.Docker || ref.Owner == "" {
				continue
			}
			slug := ref.Slug()
			if seen[slug] || trust.TrustedSlug(slug) {
				continue
			}
			seen[slug] = true
			findings = append(findings, Finding{
				Rule:        "untrusted-action",
				Kind:        KindSecurity,
				Severity:    SeverityMedium,
				JobID:       id,
				StepIndex:   i,
				Description: fmt.Sprintf("action %s is not in the trust registry", slug),
				Suggestion:  "review the action and trust it explicitly, or replace it with one from a trusted owner",
			})
		}
	}
	return findings
}

// unpinnedActions flags references that float on a branch or have no
// version at all. A release tag or a full commit SHA counts as pinned.
func unpinnedActions(def *workflow.Definition) []Finding {
	var findings []Finding
	seen := make(map[string]bool)

	for _, id := range def.JobIDs() {
		job := def.Jobs[id]
		for i, step := range job.Steps {
			ref := step.Action
			if ref == nil || ref.Local || ref.Docker || ref.Owner == "" {
				continue
			}
			if pinnedVersion(ref.Version) || seen[ref.Raw] {
				continue
			}
			seen[ref.Raw] = true
			findings = append(findings, Finding{
				Rule:        "unpinned-action",
				Kind:        KindSecurity,
				Severity:    SeverityLow,
				JobID:       id,
				StepIndex:   i,
				Description: fmt.Sprintf("action %s is not pinned to a release or commit", ref.Raw),
				Suggestion:  "pin the reference to a version tag or a full commit SHA",
			})
		}
	}
	return findings
}

func pinnedVersion(v string) bool {
	if v == "" {
		return false
	}
	if commitSHARe.MatchString(v) {
		return true
	}
	_, err := semver.NewVersion(v)
	return err == nil
}

// forbiddenActions flags references the policy bans outright.
func forbiddenActions(def *workflow.Definition, pol *policy.Policy) []Finding {
	if len(pol.ForbiddenActions) == 0 {
		return nil
	}

	var findings []Finding
	seen := make(map[string]bool)
	for _, id := range def.JobIDs() {
		job := def.Jobs[id]
		for i, step := range job.Steps {
			ref := step.Action
			if ref == nil || ref.Owner == "" {
				continue
			}
			slug := ref.Slug()
			if seen[slug] || !pol.Forbidden(slug) {
				continue
			}
			seen[slug] = true
			findings = append(findings, Finding{
				Rule:        "forbidden-action",
				Kind:        KindSecurity,
				Severity:    SeverityHigh,
				JobID:       id,
				StepIndex:   i,
				Description: fmt.Sprintf("action %s is forbidden by policy", slug),
				Suggestion:  "replace the action with an approved alternative",
			})
		}
	}
	return findings
}

// SecurityScore folds security findings into a 0-100 score. Degraded
// findings carry no weight, and the untrusted-action rule's total
// contribution is capped.
func SecurityScore(findings []Finding) int {
	total := 0
	untrusted := 0
	for _, f := range findings {
		if f.Kind != KindSecurity || f.Degraded {
			continue
		}
		w := f.Severity.Weight()
		if f.Rule == "untrusted-action" {
			untrusted += w
			continue
		}
		total += w
	}
	if untrusted > untrustedRiskCap {
		untrusted = untrustedRiskCap
	}
	score := 100 - total - untrusted
	if score < 0 {
		score = 0
	}
	return score
}
