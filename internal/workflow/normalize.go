package workflow

import (
	"fmt"
	"strings"
)

// normalize resolves the loose document shapes into the typed Definition.
// Structural invariants that make a definition unusable (steps with both
// or neither of uses/run, jobs without steps) fail here; reference-level
// problems (dangling needs) are left for the graph layer to degrade.
func normalize(doc *document) (*Definition, *ParseError) {
	def := &Definition{
		Name:        doc.Name,
		Triggers:    triggersFrom(doc.On),
		Permissions: permissionsFrom(doc.Permissions),
		Env:         stringMap(doc.Env),
		Jobs:        make(map[string]*Job, len(doc.Jobs)),
	}

	for id, jd := range doc.Jobs {
		if jd == nil {
			return nil, &ParseError{Message: fmt.Sprintf("job %q is empty", id)}
		}
		job, perr := normalizeJob(id, jd)
		if perr != nil {
			return nil, perr
		}
		def.Jobs[id] = job
	}

	return def, nil
}

func normalizeJob(id string, jd *jobDoc) (*Job, *ParseError) {
	job := &Job{
		ID:              id,
		Name:            jd.Name,
		Runner:          runnerFrom(jd.RunsOn),
		Needs:           stringList(jd.Needs),
		If:              jd.If,
		Permissions:     permissionsFrom(jd.Permissions),
		Env:             stringMap(jd.Env),
		Matrix:          matrixFrom(jd.Strategy),
		TimeoutMinutes:  jd.TimeoutMinutes,
		ContinueOnError: jd.ContinueOnError,
		Outputs:         jd.Outputs,
	}

	if len(jd.Steps) == 0 {
		return nil, &ParseError{Message: fmt.Sprintf("job %q has no steps", id)}
	}

	job.Steps = make([]*Step, 0, len(jd.Steps))
	for i, sd := range jd.Steps {
		if sd == nil {
			return nil, &ParseError{Message: fmt.Sprintf("job %q step %d is empty", id, i+1)}
		}
		step, perr := normalizeStep(id, i, sd)
		if perr != nil {
			return nil, perr
		}
		job.Steps = append(job.Steps, step)
	}

	return job, nil
}

func normalizeStep(jobID string, index int, sd *stepDoc) (*Step, *ParseError) {
	if sd.Uses != "" && sd.Run != "" {
		return nil, &ParseError{Message: fmt.Sprintf("job %q step %d has both uses and run", jobID, index+1)}
	}
	if sd.Uses == "" && sd.Run == "" {
		return nil, &ParseError{Message: fmt.Sprintf("job %q step %d has neither uses nor run", jobID, index+1)}
	}

	step := &Step{
		ID:              sd.ID,
		Name:            sd.Name,
		Run:             sd.Run,
		Shell:           sd.Shell,
		WorkingDir:      sd.WorkingDir,
		If:              sd.If,
		With:            stringMap(sd.With),
		Env:             stringMap(sd.Env),
		ContinueOnError: sd.ContinueOnError,
		TimeoutMinutes:  sd.TimeoutMinutes,
	}
	if sd.Uses != "" {
		step.Action = parseActionRef(sd.Uses)
	}
	return step, nil
}

// parseActionRef decomposes a `uses` reference. Local (./path) and
// docker:// references are flagged without decomposition; everything else
// splits into owner/repo[/path]@version with missing pieces left empty.
func parseActionRef(raw string) *ActionRef {
	ref := &ActionRef{Raw: raw}

	if strings.HasPrefix(raw, "./") || strings.HasPrefix(raw, "../") {
		ref.Local = true
		return ref
	}
	if strings.HasPrefix(raw, "docker://") {
		ref.Docker = true
		return ref
	}

	spec := raw
	if at := strings.LastIndex(raw, "@"); at >= 0 {
		spec = raw[:at]
		ref.Version = raw[at+1:]
	}

	parts := strings.SplitN(spec, "/", 3)
	if len(parts) >= 2 {
		ref.Owner = parts[0]
		ref.Repo = parts[1]
	}
	if len(parts) == 3 {
		ref.Path = parts[2]
	}
	return ref
}

// triggersFrom normalizes the `on` node: a bare string, a list of kinds,
// or a map of kind to filter block.
func triggersFrom(on any) []Trigger {
	switch v := on.(type) {
	case string:
		return []Trigger{{Kind: v}}
	case []any:
		triggers := make([]Trigger, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				triggers = append(triggers, Trigger{Kind: s})
			}
		}
		return triggers
	case map[string]any:
		triggers := make([]Trigger, 0, len(v))
		for kind, block := range v {
			triggers = append(triggers, triggerFromBlock(kind, block))
		}
		sortTriggers(triggers)
		return triggers
	}
	return nil
}

func triggerFromBlock(kind string, block any) Trigger {
	t := Trigger{Kind: kind}

	switch b := block.(type) {
	case map[string]any:
		t.Branches = stringList(b["branches"])
		t.Tags = stringList(b["tags"])
		t.Paths = stringList(b["paths"])
		t.Types = stringList(b["types"])
	case []any:
		// schedule is a list of {cron: "..."} entries
		if kind == TriggerSchedule {
			for _, entry := range b {
				if m, ok := entry.(map[string]any); ok {
					if cron, ok := m["cron"].(string); ok {
						t.Cron = append(t.Cron, cron)
					}
				}
			}
		}
	}
	return t
}

// sortTriggers orders triggers by kind so map iteration does not leak
// into the model.
func sortTriggers(triggers []Trigger) {
	for i := 1; i < len(triggers); i++ {
		for j := i; j > 0 && triggers[j].Kind < triggers[j-1].Kind; j-- {
			triggers[j], triggers[j-1] = triggers[j-1], triggers[j]
		}
	}
}

// permissionsFrom normalizes a `permissions` node: the bare string form
// sets All, the map form fills Scopes.
func permissionsFrom(perms any) Permissions {
	switch v := perms.(type) {
	case string:
		return Permissions{All: v}
	case map[string]any:
		scopes := make(map[string]string, len(v))
		for scope, level := range v {
			scopes[scope] = scalarString(level)
		}
		return Permissions{Scopes: scopes}
	}
	return Permissions{}
}

// runnerFrom normalizes a `runs-on` node: a single label, a label list,
// or a runner-group map.
func runnerFrom(runsOn any) Runner {
	switch v := runsOn.(type) {
	case string:
		return Runner{Labels: []string{v}}
	case []any:
		return Runner{Labels: stringList(v)}
	case map[string]any:
		return Runner{
			Group:  scalarString(v["group"]),
			Labels: stringList(v["labels"]),
		}
	}
	return Runner{}
}

// matrixFrom normalizes a strategy block. A matrix given as an expression
// string is dynamic; a mapping yields axes plus include/exclude lists.
func matrixFrom(strategy *strategyDoc) *Matrix {
	if strategy == nil || strategy.Matrix == nil {
		return nil
	}

	switch v := strategy.Matrix.(type) {
	case string:
		return &Matrix{Expr: v}
	case map[string]any:
		m := &Matrix{Axes: make(map[string][]string)}
		for axis, values := range v {
			switch axis {
			case "include":
				m.Include = mapList(values)
			case "exclude":
				m.Exclude = mapList(values)
			default:
				switch vals := values.(type) {
				case []any:
					m.Axes[axis] = stringList(vals)
				default:
					m.Axes[axis] = []string{scalarString(values)}
				}
			}
		}
		return m
	}
	return nil
}

// mapList converts a list of YAML mappings into string maps, for matrix
// include/exclude entries.
func mapList(v any) []map[string]string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	result := make([]map[string]string, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		entry := make(map[string]string, len(m))
		for k, val := range m {
			entry[k] = scalarString(val)
		}
		result = append(result, entry)
	}
	return result
}

// stringList normalizes a node that may be a single string or a list.
func stringList(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []any:
		list := make([]string, 0, len(val))
		for _, item := range val {
			list = append(list, scalarString(item))
		}
		return list
	}
	return nil
}

// stringMap converts a map of YAML scalars into a string map.
func stringMap(v map[string]any) map[string]string {
	if len(v) == 0 {
		return nil
	}
	m := make(map[string]string, len(v))
	for k, val := range v {
		m[k] = scalarString(val)
	}
	return m
}

// scalarString renders a YAML scalar as its string form. Non-scalar
// values render through fmt as a last resort.
func scalarString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case int:
		return fmt.Sprintf("%d", val)
	case int64:
		return fmt.Sprintf("%d", val)
	case uint64:
		return fmt.Sprintf("%d", val)
	case float64:
		// YAML integers may arrive as float64 depending on the decoder
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
