package workflow

import (
	"fmt"

	"github.com/goccy/go-yaml"
)

// Serialize renders a Definition back to YAML. It is the left inverse of
// Parse up to field ordering and comment loss: re-parsing the output is
// structurally equal to the original parse.
func Serialize(def *Definition) ([]byte, error) {
	if def == nil {
		return nil, fmt.Errorf("cannot serialize nil definition")
	}

	doc := &document{
		Name:        def.Name,
		On:          triggersToNode(def.Triggers),
		Permissions: permissionsToNode(def.Permissions),
		Env:         anyMap(def.Env),
		Jobs:        make(map[string]*jobDoc, len(def.Jobs)),
	}

	for _, id := range def.JobIDs() {
		doc.Jobs[id] = jobToDoc(def.Jobs[id])
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("serializing definition: %w", err)
	}
	return data, nil
}

func jobToDoc(job *Job) *jobDoc {
	jd := &jobDoc{
		Name:            job.Name,
		RunsOn:          runnerToNode(job.Runner),
		If:              job.If,
		Permissions:     permissionsToNode(job.Permissions),
		Env:             anyMap(job.Env),
		Strategy:        matrixToNode(job.Matrix),
		TimeoutMinutes:  job.TimeoutMinutes,
		ContinueOnError: job.ContinueOnError,
		Outputs:         job.Outputs,
	}

	if len(job.Needs) > 0 {
		needs := make([]any, len(job.Needs))
		for i, n := range job.Needs {
			needs[i] = n
		}
		jd.Needs = needs
	}

	jd.Steps = make([]*stepDoc, 0, len(job.Steps))
	for _, step := range job.Steps {
		jd.Steps = append(jd.Steps, stepToDoc(step))
	}
	return jd
}

func stepToDoc(step *Step) *stepDoc {
	sd := &stepDoc{
		ID:              step.ID,
		Name:            step.Name,
		Run:             step.Run,
		Shell:           step.Shell,
		WorkingDir:      step.WorkingDir,
		If:              step.If,
		With:            anyMap(step.With),
		Env:             anyMap(step.Env),
		ContinueOnError: step.ContinueOnError,
		TimeoutMinutes:  step.TimeoutMinutes,
	}
	if step.Action != nil {
		sd.Uses = step.Action.Raw
	}
	return sd
}

// triggersToNode renders triggers compactly: a kind list when no trigger
// carries filters, a kind-keyed map otherwise.
func triggersToNode(triggers []Trigger) any {
	if len(triggers) == 0 {
		return nil
	}

	bare := true
	for _, t := range triggers {
		if len(t.Branches) > 0 || len(t.Tags) > 0 || len(t.Paths) > 0 || len(t.Types) > 0 || len(t.Cron) > 0 {
			bare = false
			break
		}
	}

	if bare {
		kinds := make([]any, len(triggers))
		for i, t := range triggers {
			kinds[i] = t.Kind
		}
		return kinds
	}

	node := make(map[string]any, len(triggers))
	for _, t := range triggers {
		if t.Kind == TriggerSchedule && len(t.Cron) > 0 {
			entries := make([]any, len(t.Cron))
			for i, cron := range t.Cron {
				entries[i] = map[string]any{"cron": cron}
			}
			node[t.Kind] = entries
			continue
		}

		block := make(map[string]any)
		if len(t.Branches) > 0 {
			block["branches"] = stringsToAny(t.Branches)
		}
		if len(t.Tags) > 0 {
			block["tags"] = stringsToAny(t.Tags)
		}
		if len(t.Paths) > 0 {
			block["paths"] = stringsToAny(t.Paths)
		}
		if len(t.Types) > 0 {
			block["types"] = stringsToAny(t.Types)
		}
		if len(block) == 0 {
			node[t.Kind] = nil
		} else {
			node[t.Kind] = block
		}
	}
	return node
}

func permissionsToNode(p Permissions) any {
	if p.All != "" {
		return p.All
	}
	if len(p.Scopes) > 0 {
		node := make(map[string]any, len(p.Scopes))
		for scope, level := range p.Scopes {
			node[scope] = level
		}
		return node
	}
	return nil
}

func runnerToNode(r Runner) any {
	if r.Group != "" {
		node := map[string]any{"group": r.Group}
		if len(r.Labels) > 0 {
			node["labels"] = stringsToAny(r.Labels)
		}
		return node
	}
	switch len(r.Labels) {
	case 0:
		return nil
	case 1:
		return r.Labels[0]
	default:
		return stringsToAny(r.Labels)
	}
}

func matrixToNode(m *Matrix) *strategyDoc {
	if m == nil {
		return nil
	}

	if m.Expr != "" {
		return &strategyDoc{Matrix: m.Expr}
	}

	node := make(map[string]any, len(m.Axes)+2)
	for axis, values := range m.Axes {
		node[axis] = stringsToAny(values)
	}
	if len(m.Include) > 0 {
		node["include"] = mapsToAny(m.Include)
	}
	if len(m.Exclude) > 0 {
		node["exclude"] = mapsToAny(m.Exclude)
	}
	return &strategyDoc{Matrix: node}
}

func stringsToAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func mapsToAny(maps []map[string]string) []any {
	out := make([]any, len(maps))
	for i, m := range maps {
		entry := make(map[string]any, len(m))
		for k, v := range m {
			entry[k] = v
		}
		out[i] = entry
	}
	return out
}

func anyMap(m map[string]string) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
