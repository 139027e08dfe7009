// Package patch defines structural patches against pipeline definitions
// and applies selected sets of them atomically.
package patch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/handleui/caliper/internal/workflow"
)

// Op is a structural patch operation.
type Op string

const (
	OpInsertStep  Op = "insert-step"
	OpSetField    Op = "set-field"
	OpRemoveField Op = "remove-field"
)

// Path addresses a location in the definition tree: a job, optionally a
// step index within it, optionally a named field. An empty Job targets
// the definition level.
type Path struct {
	Job       string
	StepIndex int
	Field     string
}

// String renders the canonical path form used for patch identity and
// recommendation grouping.
func (p Path) String() string {
	var b strings.Builder
	if p.Job == "" {
		b.WriteString("pipeline")
	} else {
		b.WriteString("jobs.")
		b.WriteString(p.Job)
	}
	if p.StepIndex >= 0 {
		fmt.Fprintf(&b, ".steps[%d]", p.StepIndex)
	}
	if p.Field != "" {
		b.WriteString(".")
		b.WriteString(p.Field)
	}
	return b.String()
}

// JobPath addresses a job-level field.
func JobPath(job, field string) Path {
	return Path{Job: job, StepIndex: -1, Field: field}
}

// StepPath addresses a step insertion point or a step-level field.
func StepPath(job string, index int, field string) Path {
	return Path{Job: job, StepIndex: index, Field: field}
}

// PipelinePath addresses a definition-level field.
func PipelinePath(field string) Path {
	return Path{Job: "", StepIndex: -1, Field: field}
}

// Patch is one self-contained structural edit. Patches are order
// independent within an Apply call; two patches addressing the same path
// with incompatible content conflict.
type Patch struct {
	ID    string
	Op    Op
	Path  Path
	Step  *workflow.Step
	Value string
}

// NewInsertStep builds an insert-step patch placing the step at the given
// index of the job's step list.
func NewInsertStep(job string, index int, step *workflow.Step) *Patch {
	p := &Patch{
		Op:   OpInsertStep,
		Path: Path{Job: job, StepIndex: index, Field: ""},
		Step: workflow.CloneStep(step),
	}
	p.ID = p.fingerprint()
	return p
}

// NewSetField builds a set-field patch.
func NewSetField(path Path, value string) *Patch {
	p := &Patch{Op: OpSetField, Path: path, Value: value}
	p.ID = p.fingerprint()
	return p
}

// NewRemoveField builds a remove-field patch.
func NewRemoveField(path Path) *Patch {
	p := &Patch{Op: OpRemoveField, Path: path}
	p.ID = p.fingerprint()
	return p
}

// fingerprint derives the deterministic patch identity from operation,
// path, and content. Identical edits always share an ID, which is what
// makes selection by identity stable across analysis runs.
func (p *Patch) fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|", p.Op, p.Path.String(), p.Value)
	if p.Step != nil {
		if p.Step.Action != nil {
			fmt.Fprintf(h, "uses=%s|", p.Step.Action.Raw)
		}
		fmt.Fprintf(h, "run=%s|name=%s|", p.Step.Run, p.Step.Name)
		for _, k := range sortedKeys(p.Step.With) {
			fmt.Fprintf(h, "with.%s=%s|", k, p.Step.With[k])
		}
	}
	sum := h.Sum(nil)
	return fmt.Sprintf("%s:%s:%s", p.Op, p.Path.String(), hex.EncodeToString(sum[:4]))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ConflictError reports patch selections that cannot apply together.
// Pairs lists the conflicting patch ID pairs. Apply is all-or-nothing:
// when a ConflictError is returned nothing was applied.
type ConflictError struct {
	Pairs [][2]string
}

func (e *ConflictError) Error() string {
	if len(e.Pairs) == 0 {
		return "conflicting patches"
	}
	parts := make([]string, len(e.Pairs))
	for i, pair := range e.Pairs {
		parts[i] = fmt.Sprintf("%s <> %s", pair[0], pair[1])
	}
	return fmt.Sprintf("conflicting patches: %s", strings.Join(parts, ", "))
}
