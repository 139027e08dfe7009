package workflow

// Clone returns a deep, independent copy of a definition. Patch
// application works on clones so the input definition is never mutated.
func Clone(def *Definition) *Definition {
	if def == nil {
		return nil
	}

	out := &Definition{
		Name:        def.Name,
		Triggers:    cloneTriggers(def.Triggers),
		Permissions: clonePermissions(def.Permissions),
		Env:         cloneStringMap(def.Env),
		Jobs:        make(map[string]*Job, len(def.Jobs)),
	}
	for id, job := range def.Jobs {
		out.Jobs[id] = cloneJob(job)
	}
	return out
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	out := *job
	out.Runner = Runner{
		Labels: cloneStrings(job.Runner.Labels),
		Group:  job.Runner.Group,
	}
	out.Needs = cloneStrings(job.Needs)
	out.Permissions = clonePermissions(job.Permissions)
	out.Env = cloneStringMap(job.Env)
	out.Matrix = cloneMatrix(job.Matrix)
	out.Outputs = cloneStringMap(job.Outputs)
	out.Steps = make([]*Step, len(job.Steps))
	for i, step := range job.Steps {
		out.Steps[i] = CloneStep(step)
	}
	return &out
}

// CloneStep returns a deep copy of a step. Exported because patches carry
// step values that must stay independent of the definitions they touch.
func CloneStep(step *Step) *Step {
	if step == nil {
		return nil
	}
	out := *step
	out.With = cloneStringMap(step.With)
	out.Env = cloneStringMap(step.Env)
	if step.Action != nil {
		action := *step.Action
		out.Action = &action
	}
	return &out
}

func cloneTriggers(triggers []Trigger) []Trigger {
	if triggers == nil {
		return nil
	}
	out := make([]Trigger, len(triggers))
	for i, t := range triggers {
		out[i] = Trigger{
			Kind:     t.Kind,
			Branches: cloneStrings(t.Branches),
			Tags:     cloneStrings(t.Tags),
			Paths:    cloneStrings(t.Paths),
			Types:    cloneStrings(t.Types),
			Cron:     cloneStrings(t.Cron),
		}
	}
	return out
}

func clonePermissions(p Permissions) Permissions {
	return Permissions{
		All:    p.All,
		Scopes: cloneStringMap(p.Scopes),
	}
}

func cloneMatrix(m *Matrix) *Matrix {
	if m == nil {
		return nil
	}
	out := &Matrix{Expr: m.Expr}
	if m.Axes != nil {
		out.Axes = make(map[string][]string, len(m.Axes))
		for axis, values := range m.Axes {
			out.Axes[axis] = cloneStrings(values)
		}
	}
	out.Include = cloneMapList(m.Include)
	out.Exclude = cloneMapList(m.Exclude)
	return out
}

func cloneMapList(list []map[string]string) []map[string]string {
	if list == nil {
		return nil
	}
	out := make([]map[string]string, len(list))
	for i, m := range list {
		out[i] = cloneStringMap(m)
	}
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
