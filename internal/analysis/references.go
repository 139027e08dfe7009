package analysis

import (
	"regexp"
	"sort"

	"github.com/handleui/caliper/internal/workflow"
)

var secretRefRe = regexp.MustCompile(`\$\{\{\s*secrets\.([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// SecretRefs returns the distinct secret names a definition references,
// sorted. It scans pipeline and job env values plus every step's run
// script, with entries, env and condition.
func SecretRefs(def *workflow.Definition) []string {
	seen := make(map[string]bool)

	collect := func(text string) {
		for _, m := range secretRefRe.FindAllStringSubmatch(text, -1) {
			seen[m[1]] = true
		}
	}
	collectMap := func(m map[string]string) {
		for _, v := range m {
			collect(v)
		}
	}

	collectMap(def.Env)
	for _, id := range def.JobIDs() {
		job := def.Jobs[id]
		collectMap(job.Env)
		collect(job.If)
		for _, step := range job.Steps {
			collect(step.Run)
			collect(step.If)
			collectMap(step.With)
			collectMap(step.Env)
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InvalidActionRefs returns the distinct raw `uses` strings that do not
// decompose into an owner/repo reference, sorted. Local and docker
// references are structurally fine and never appear here.
func InvalidActionRefs(def *workflow.Definition) []string {
	seen := make(map[string]bool)
	for _, id := range def.JobIDs() {
		job := def.Jobs[id]
		for _, step := range job.Steps {
			if step.Action == nil || step.Action.Valid() {
				continue
			}
			seen[step.Action.Raw] = true
		}
	}

	raws := make([]string, 0, len(seen))
	for raw := range seen {
		raws = append(raws, raw)
	}
	sort.Strings(raws)
	return raws
}
