package patch

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/handleui/caliper/internal/workflow"
)

// Apply applies a set of patches to a definition and returns a new,
// independent definition. The input is never mutated. Application is
// all-or-nothing: conflicting selections return a ConflictError and
// nothing else happens.
//
// Patches address locations in the ORIGINAL definition, so a selection is
// order independent: field edits are applied first (indices unchanged),
// then insertions per job in descending index order.
func Apply(def *workflow.Definition, patches []*Patch) (*workflow.Definition, error) {
	if def == nil {
		return nil, fmt.Errorf("cannot patch nil definition")
	}

	selected := dedupe(patches)
	if cerr := findConflicts(selected); cerr != nil {
		return nil, cerr
	}

	out := workflow.Clone(def)

	var fieldOps, inserts []*Patch
	for _, p := range selected {
		if p.Op == OpInsertStep {
			inserts = append(inserts, p)
		} else {
			fieldOps = append(fieldOps, p)
		}
	}

	sort.Slice(fieldOps, func(i, j int) bool {
		return fieldOps[i].ID < fieldOps[j].ID
	})
	for _, p := range fieldOps {
		if err := applyFieldOp(out, p); err != nil {
			return nil, err
		}
	}

	// Descending index per job keeps every original insertion point
	// valid while earlier insertions land.
	sort.Slice(inserts, func(i, j int) bool {
		if inserts[i].Path.Job != inserts[j].Path.Job {
			return inserts[i].Path.Job < inserts[j].Path.Job
		}
		return inserts[i].Path.StepIndex > inserts[j].Path.StepIndex
	})
	for _, p := range inserts {
		if err := applyInsert(out, p); err != nil {
			return nil, err
		}
	}

	// The patched tree must survive a serialize/parse cycle; anything a
	// patch broke surfaces here before the caller sees the result.
	data, err := workflow.Serialize(out)
	if err != nil {
		return nil, fmt.Errorf("patched definition failed validation: %w", err)
	}
	if _, perr := workflow.Parse(data); perr != nil {
		return nil, fmt.Errorf("patched definition failed validation: %w", perr)
	}

	return out, nil
}

// dedupe drops exact duplicates (same ID) from a selection, preserving
// first-seen order.
func dedupe(patches []*Patch) []*Patch {
	seen := make(map[string]bool, len(patches))
	var out []*Patch
	for _, p := range patches {
		if p == nil || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}

// findConflicts reports selections that target the same path with
// different content. Identical edits were already deduplicated, so any
// same-path pair left is incompatible.
func findConflicts(patches []*Patch) *ConflictError {
	byPath := make(map[string][]*Patch)
	for _, p := range patches {
		key := p.Path.String()
		byPath[key] = append(byPath[key], p)
	}

	var pairs [][2]string
	keys := make([]string, 0, len(byPath))
	for key := range byPath {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		group := byPath[key]
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				pair := [2]string{group[i].ID, group[j].ID}
				if pair[0] > pair[1] {
					pair[0], pair[1] = pair[1], pair[0]
				}
				pairs = append(pairs, pair)
			}
		}
	}

	if len(pairs) == 0 {
		return nil
	}
	return &ConflictError{Pairs: pairs}
}

func applyFieldOp(def *workflow.Definition, p *Patch) error {
	switch p.Op {
	case OpSetField:
		return applySetField(def, p)
	case OpRemoveField:
		return applyRemoveField(def, p)
	default:
		return fmt.Errorf("patch %s: unknown operation %q", p.ID, p.Op)
	}
}

func applySetField(def *workflow.Definition, p *Patch) error {
	switch p.Path.Field {
	case "permissions":
		perms, err := parsePermissionsValue(p.Value)
		if err != nil {
			return fmt.Errorf("patch %s: %w", p.ID, err)
		}
		if p.Path.Job == "" {
			def.Permissions = perms
			return nil
		}
		job, err := lookupJob(def, p)
		if err != nil {
			return err
		}
		job.Permissions = perms
		return nil

	case "timeout-minutes":
		minutes, err := strconv.Atoi(p.Value)
		if err != nil || minutes <= 0 {
			return fmt.Errorf("patch %s: invalid timeout %q", p.ID, p.Value)
		}
		if p.Path.StepIndex >= 0 {
			step, err := lookupStep(def, p)
			if err != nil {
				return err
			}
			step.TimeoutMinutes = minutes
			return nil
		}
		job, err := lookupJob(def, p)
		if err != nil {
			return err
		}
		job.TimeoutMinutes = minutes
		return nil

	case "continue-on-error":
		value, err := strconv.ParseBool(p.Value)
		if err != nil {
			return fmt.Errorf("patch %s: invalid bool %q", p.ID, p.Value)
		}
		if p.Path.StepIndex >= 0 {
			step, err := lookupStep(def, p)
			if err != nil {
				return err
			}
			step.ContinueOnError = value
			return nil
		}
		job, err := lookupJob(def, p)
		if err != nil {
			return err
		}
		job.ContinueOnError = value
		return nil
	}

	return fmt.Errorf("patch %s: unsupported field %q", p.ID, p.Path.Field)
}

func applyRemoveField(def *workflow.Definition, p *Patch) error {
	switch p.Path.Field {
	case "permissions":
		if p.Path.Job == "" {
			def.Permissions = workflow.Permissions{}
			return nil
		}
		job, err := lookupJob(def, p)
		if err != nil {
			return err
		}
		job.Permissions = workflow.Permissions{}
		return nil

	case "needs":
		job, err := lookupJob(def, p)
		if err != nil {
			return err
		}
		job.Needs = nil
		return nil

	case "continue-on-error":
		job, err := lookupJob(def, p)
		if err != nil {
			return err
		}
		job.ContinueOnError = false
		return nil

	case "timeout-minutes":
		if p.Path.StepIndex >= 0 {
			step, err := lookupStep(def, p)
			if err != nil {
				return err
			}
			step.TimeoutMinutes = 0
			return nil
		}
		job, err := lookupJob(def, p)
		if err != nil {
			return err
		}
		job.TimeoutMinutes = 0
		return nil
	}

	return fmt.Errorf("patch %s: unsupported field %q", p.ID, p.Path.Field)
}

// applyInsert inserts the patch's step at its index. Inserting a step
// structurally equal to one already in the job is a no-op, which is what
// makes re-applying a caching recommendation safe.
func applyInsert(def *workflow.Definition, p *Patch) error {
	if p.Step == nil {
		return fmt.Errorf("patch %s: insert-step without a step", p.ID)
	}
	job, err := lookupJob(def, p)
	if err != nil {
		return err
	}

	for _, existing := range job.Steps {
		if reflect.DeepEqual(existing, p.Step) {
			return nil
		}
	}

	index := p.Path.StepIndex
	if index < 0 || index > len(job.Steps) {
		return fmt.Errorf("patch %s: step index %d out of range for job %q", p.ID, index, p.Path.Job)
	}

	step := workflow.CloneStep(p.Step)
	job.Steps = append(job.Steps, nil)
	copy(job.Steps[index+1:], job.Steps[index:])
	job.Steps[index] = step
	return nil
}

func lookupJob(def *workflow.Definition, p *Patch) (*workflow.Job, error) {
	job, ok := def.Jobs[p.Path.Job]
	if !ok {
		return nil, fmt.Errorf("patch %s: unknown job %q", p.ID, p.Path.Job)
	}
	return job, nil
}

func lookupStep(def *workflow.Definition, p *Patch) (*workflow.Step, error) {
	job, err := lookupJob(def, p)
	if err != nil {
		return nil, err
	}
	if p.Path.StepIndex < 0 || p.Path.StepIndex >= len(job.Steps) {
		return nil, fmt.Errorf("patch %s: step index %d out of range for job %q", p.ID, p.Path.StepIndex, p.Path.Job)
	}
	return job.Steps[p.Path.StepIndex], nil
}

// parsePermissionsValue accepts the blanket forms ("read-all",
// "write-all") or a single "scope: level" pair.
func parsePermissionsValue(value string) (workflow.Permissions, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return workflow.Permissions{}, fmt.Errorf("empty permissions value")
	}
	if !strings.Contains(value, ":") {
		return workflow.Permissions{All: value}, nil
	}
	scope, level, _ := strings.Cut(value, ":")
	scope = strings.TrimSpace(scope)
	level = strings.TrimSpace(level)
	if scope == "" || level == "" {
		return workflow.Permissions{}, fmt.Errorf("malformed permissions value %q", value)
	}
	return workflow.Permissions{Scopes: map[string]string{scope: level}}, nil
}
