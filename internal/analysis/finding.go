// Package analysis evaluates performance and security rules against a
// parsed definition and its execution plan. Every rule is a pure
// function: it reads the definition and emits findings, never mutating
// what it was handed. A rule that fails internally degrades to a
// finding that says so instead of aborting the run.
package analysis

import (
	"fmt"

	"github.com/handleui/caliper/internal/patch"
)

// Kind classifies what a finding is about.
type Kind string

const (
	KindCaching         Kind = "caching"
	KindParallelization Kind = "parallelization"
	KindResource        Kind = "resource"
	KindSecurity        Kind = "security"
	KindMatrix          Kind = "matrix"
)

// Severity grades a finding. The weight of each grade feeds score
// deductions.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Weight returns the score deduction for a finding of this severity.
func (s Severity) Weight() int {
	switch s {
	case SeverityHigh:
		return 20
	case SeverityMedium:
		return 10
	case SeverityLow:
		return 5
	}
	return 0
}

// Priority returns the ranking band for a finding of this severity,
// higher is more urgent.
func (s Severity) Priority() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Finding is a single rule observation. StepIndex is -1 when the
// finding is job- or pipeline-scoped rather than tied to one step.
type Finding struct {
	Rule        string         `json:"rule"`
	Kind        Kind           `json:"kind"`
	Severity    Severity       `json:"severity"`
	JobID       string         `json:"jobId,omitempty"`
	StepIndex   int            `json:"stepIndex"`
	Description string         `json:"description"`
	Suggestion  string         `json:"suggestion,omitempty"`
	Saving      int            `json:"estimatedSavingSeconds,omitempty"`
	Patches     []*patch.Patch `json:"patches,omitempty"`
	Degraded    bool           `json:"degraded,omitempty"`
}

// degraded wraps a rule failure as a finding so the rest of the run
// carries on.
func degraded(rule string, kind Kind, err any) Finding {
	return Finding{
		Rule:        rule,
		Kind:        kind,
		Severity:    SeverityLow,
		StepIndex:   -1,
		Description: fmt.Sprintf("rule %s did not complete: %v", rule, err),
		Degraded:    true,
	}
}

// runRule executes one rule, converting a panic into a degraded
// finding appended to the output.
func runRule(rule string, kind Kind, out *[]Finding, fn func() []Finding) {
	defer func() {
		if r := recover(); r != nil {
			*out = append(*out, degraded(rule, kind, r))
		}
	}()
	*out = append(*out, fn()...)
}
