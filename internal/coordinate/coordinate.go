// Package coordinate plans a set of pipelines together. It infers
// ordering between well-known pipeline roles, detects naming and file
// conflicts, extracts shared secrets and variables, and computes a
// consolidated execution order over pipeline names.
package coordinate

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/handleui/caliper/internal/analysis"
	"github.com/handleui/caliper/internal/graph"
	"github.com/handleui/caliper/internal/policy"
	"github.com/handleui/caliper/internal/workflow"
)

// Pipeline is one planned pipeline entering coordination. Name is its
// identity within the plan and defaults to Type; Path is where it will
// be written and defaults to the conventional workflows directory.
type Pipeline struct {
	Type       string
	Name       string
	Path       string
	Definition *workflow.Definition
	Secrets    []string
	Variables  map[string]string
}

// Conflict types.
const (
	ConflictName     = "name"
	ConflictFile     = "file"
	ConflictResource = "resource"
)

// Resolution is one way out of a conflict. Automatic resolutions carry
// the concrete renames they would apply and are taken silently when
// every conflict in the plan has one.
type Resolution struct {
	Description string            `json:"description"`
	Automatic   bool              `json:"automatic"`
	Renames     map[string]string `json:"renames,omitempty"`
}

// Conflict names the pipelines it affects and at least one resolution.
type Conflict struct {
	Type        string       `json:"type"`
	Affected    []string     `json:"affected"`
	Resolutions []Resolution `json:"resolutions"`
}

// Automatic reports whether the conflict carries an automatic
// resolution.
func (c Conflict) Automatic() bool {
	for _, r := range c.Resolutions {
		if r.Automatic {
			return true
		}
	}
	return false
}

// Plan is the coordination result. Order and Paths reflect the state
// after automatic resolutions were applied; Conflicts still lists
// everything that was detected.
type Plan struct {
	Order           []string            `json:"executionOrder"`
	Edges           map[string][]string `json:"dependencies,omitempty"`
	Conflicts       []Conflict          `json:"conflicts,omitempty"`
	SharedSecrets   []string            `json:"sharedSecrets,omitempty"`
	SharedVariables map[string]string   `json:"sharedVariables,omitempty"`
	Paths           map[string]string   `json:"paths,omitempty"`
	Resolved        bool                `json:"resolved"`
}

// Options configures plan construction. Exists reports whether an output
// path is already taken on disk; nil skips that check. A nil Policy
// falls back to defaults.
type Options struct {
	Policy *policy.Policy
	Exists func(path string) bool
}

// orderRules are the fixed role orderings, applied when both roles are
// present in the requested set. The role ranking behind them is total,
// so inferred edges cannot form a cycle.
var orderRules = [][2]string{
	{"ci", "cd"},
	{"ci", "security"},
	{"cd", "release"},
}

// BuildPlan coordinates a set of planned pipelines. The input is not
// mutated; names and paths shown in the plan include any automatic
// renames.
func BuildPlan(pipelines []*Pipeline, opts Options) *Plan {
	pol := opts.Policy.Normalized()
	planned := normalize(pipelines)

	plan := &Plan{}
	resolveNames(planned, plan)
	resolvePaths(planned, plan, opts.Exists)
	checkRequired(planned, pol, plan)

	plan.Edges = inferEdges(planned)
	plan.Order = executionOrder(planned, plan.Edges)
	plan.SharedSecrets = sharedSecrets(planned)
	plan.SharedVariables = sharedVariables(planned)

	plan.Paths = make(map[string]string, len(planned))
	for _, p := range planned {
		plan.Paths[p.Name] = p.Path
	}

	plan.Resolved = true
	for _, c := range plan.Conflicts {
		if !c.Automatic() {
			plan.Resolved = false
			break
		}
	}
	return plan
}

// normalize copies the input, fills defaulted names and paths, and pulls
// secrets out of attached definitions. Processing order is fixed by
// sorting, so identical sets plan identically however they arrive.
func normalize(pipelines []*Pipeline) []*Pipeline {
	planned := make([]*Pipeline, 0, len(pipelines))
	for _, p := range pipelines {
		if p == nil {
			continue
		}
		cp := *p
		if cp.Name == "" {
			cp.Name = cp.Type
		}
		if cp.Path == "" {
			cp.Path = filepath.Join(workflow.DefaultDir, cp.Type+".yml")
		}
		if len(cp.Secrets) == 0 && cp.Definition != nil {
			cp.Secrets = analysis.SecretRefs(cp.Definition)
		}
		planned = append(planned, &cp)
	}

	sort.SliceStable(planned, func(i, j int) bool {
		if planned[i].Name != planned[j].Name {
			return planned[i].Name < planned[j].Name
		}
		if planned[i].Type != planned[j].Type {
			return planned[i].Type < planned[j].Type
		}
		return planned[i].Path < planned[j].Path
	})
	return planned
}

// resolveNames reports groups of pipelines sharing a display name and
// renames all but the first deterministically.
func resolveNames(planned []*Pipeline, plan *Plan) {
	byName := make(map[string][]*Pipeline)
	var names []string
	for _, p := range planned {
		if len(byName[p.Name]) == 0 {
			names = append(names, p.Name)
		}
		byName[p.Name] = append(byName[p.Name], p)
	}

	taken := make(map[string]bool, len(planned))
	for _, p := range planned {
		taken[p.Name] = true
	}

	for _, name := range names {
		group := byName[name]
		if len(group) < 2 {
			continue
		}

		affected := make([]string, 0, len(group))
		for _, p := range group {
			affected = append(affected, fmt.Sprintf("%s (%s)", p.Name, p.Type))
		}

		renames := make(map[string]string, len(group)-1)
		for _, p := range group[1:] {
			next := nextFree(name, taken)
			renames[fmt.Sprintf("%s (%s)", p.Name, p.Type)] = next
			p.Name = next
			taken[next] = true
		}

		plan.Conflicts = append(plan.Conflicts, Conflict{
			Type:     ConflictName,
			Affected: affected,
			Resolutions: []Resolution{{
				Description: fmt.Sprintf("rename duplicates of %q with numeric suffixes", name),
				Automatic:   true,
				Renames:     renames,
			}},
		})
	}
}

// resolvePaths reports pipelines that would write the same output path,
// renaming all but the first, then flags paths already present on disk.
// The on-disk case has no automatic way out: overwriting and keeping are
// both real choices.
func resolvePaths(planned []*Pipeline, plan *Plan, exists func(string) bool) {
	byPath := make(map[string][]*Pipeline)
	var paths []string
	for _, p := range planned {
		if len(byPath[p.Path]) == 0 {
			paths = append(paths, p.Path)
		}
		byPath[p.Path] = append(byPath[p.Path], p)
	}

	taken := make(map[string]bool, len(planned))
	for _, p := range planned {
		taken[p.Path] = true
	}

	for _, path := range paths {
		group := byPath[path]
		if len(group) < 2 {
			continue
		}

		affected := make([]string, 0, len(group))
		for _, p := range group {
			affected = append(affected, p.Name)
		}
		sort.Strings(affected)

		renames := make(map[string]string, len(group)-1)
		for _, p := range group[1:] {
			next := nextFreePath(path, taken)
			renames[p.Name] = next
			p.Path = next
			taken[next] = true
		}

		plan.Conflicts = append(plan.Conflicts, Conflict{
			Type:     ConflictFile,
			Affected: affected,
			Resolutions: []Resolution{{
				Description: fmt.Sprintf("write later pipelines to numbered variants of %s", path),
				Automatic:   true,
				Renames:     renames,
			}},
		})
	}

	if exists == nil {
		return
	}
	for _, p := range planned {
		if !exists(p.Path) {
			continue
		}
		plan.Conflicts = append(plan.Conflicts, Conflict{
			Type:     ConflictFile,
			Affected: []string{p.Name},
			Resolutions: []Resolution{
				{Description: fmt.Sprintf("overwrite the existing %s", p.Path)},
				{Description: fmt.Sprintf("keep the existing file and write %s elsewhere", p.Name)},
			},
		})
	}
}

// checkRequired reports organizationally required pipeline types missing
// from the requested set. Adding a pipeline is not a choice the planner
// can make alone.
func checkRequired(planned []*Pipeline, pol *policy.Policy, plan *Plan) {
	have := make(map[string]bool, len(planned))
	for _, p := range planned {
		have[p.Type] = true
	}

	var missing []string
	for _, required := range pol.RequiredPipelines {
		if !have[required] {
			missing = append(missing, required)
		}
	}
	if len(missing) == 0 {
		return
	}
	sort.Strings(missing)

	plan.Conflicts = append(plan.Conflicts, Conflict{
		Type:     ConflictResource,
		Affected: missing,
		Resolutions: []Resolution{
			{Description: fmt.Sprintf("add the required pipeline types: %s", strings.Join(missing, ", "))},
			{Description: "generate the requested set anyway"},
		},
	})
}

// inferEdges applies the role ordering rules pairwise across the set.
func inferEdges(planned []*Pipeline) map[string][]string {
	byType := make(map[string][]*Pipeline)
	for _, p := range planned {
		byType[p.Type] = append(byType[p.Type], p)
	}

	edges := make(map[string][]string)
	for _, rule := range orderRules {
		before, after := byType[rule[0]], byType[rule[1]]
		for _, b := range after {
			for _, a := range before {
				edges[b.Name] = append(edges[b.Name], a.Name)
			}
		}
	}
	for name := range edges {
		sort.Strings(edges[name])
	}
	return edges
}

// executionOrder flattens the wave schedule over pipeline names. The
// rules cannot produce a cycle, but if scheduling ever fails anyway the
// order degrades to plain lexicographic.
func executionOrder(planned []*Pipeline, edges map[string][]string) []string {
	names := make([]string, 0, len(planned))
	for _, p := range planned {
		names = append(names, p.Name)
	}

	plan, cerr := graph.Schedule(graph.New(names, edges))
	if cerr != nil {
		sort.Strings(names)
		return names
	}

	var order []string
	for _, wave := range plan.Waves {
		order = append(order, wave...)
	}
	return order
}

// sharedSecrets promotes secret names referenced by more than one
// pipeline.
func sharedSecrets(planned []*Pipeline) []string {
	counts := make(map[string]int)
	for _, p := range planned {
		seen := make(map[string]bool, len(p.Secrets))
		for _, s := range p.Secrets {
			if !seen[s] {
				seen[s] = true
				counts[s]++
			}
		}
	}

	var shared []string
	for name, n := range counts {
		if n > 1 {
			shared = append(shared, name)
		}
	}
	sort.Strings(shared)
	return shared
}

// sharedVariables intersects the estimated variables, keeping entries
// every pipeline agrees on.
func sharedVariables(planned []*Pipeline) map[string]string {
	if len(planned) == 0 {
		return nil
	}

	shared := make(map[string]string, len(planned[0].Variables))
	for k, v := range planned[0].Variables {
		shared[k] = v
	}
	for _, p := range planned[1:] {
		for k, v := range shared {
			if p.Variables[k] != v {
				delete(shared, k)
			}
		}
	}
	if len(shared) == 0 {
		return nil
	}
	return shared
}

func nextFree(name string, taken map[string]bool) string {
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", name, i)
		if !taken[candidate] {
			return candidate
		}
	}
}

func nextFreePath(path string, taken map[string]bool) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, i, ext)
		if !taken[candidate] {
			return candidate
		}
	}
}
