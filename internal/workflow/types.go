package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// Definition is the typed form of a pipeline definition. All loose YAML
// shapes (`on` as string/list/map, `needs` as string/list, `runs-on` as
// string/list/group) are normalized once at parse time; downstream code
// never re-checks shapes.
type Definition struct {
	Name        string
	Triggers    []Trigger
	Permissions Permissions
	Env         map[string]string
	Jobs        map[string]*Job
}

// JobIDs returns all job IDs in lexicographic order.
// Deterministic iteration order for scheduling and reporting.
func (d *Definition) JobIDs() []string {
	ids := make([]string, 0, len(d.Jobs))
	for id := range d.Jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Job is a named unit of work: a runner, ordered steps, optional
// dependencies and optional matrix expansion.
type Job struct {
	ID              string
	Name            string
	Runner          Runner
	Needs           []string
	If              string
	Permissions     Permissions
	Env             map[string]string
	Matrix          *Matrix
	Steps           []*Step
	TimeoutMinutes  int
	ContinueOnError bool
	Outputs         map[string]string
}

// DisplayName returns the job's name, falling back to its ID.
func (j *Job) DisplayName() string {
	if j.Name != "" {
		return j.Name
	}
	return j.ID
}

// Trigger is one normalized workflow trigger.
type Trigger struct {
	Kind     string
	Branches []string
	Tags     []string
	Paths    []string
	Types    []string
	Cron     []string
}

// Trigger kinds the analyzers care about. Other kinds pass through
// with their raw name.
const (
	TriggerPush              = "push"
	TriggerPullRequest       = "pull_request"
	TriggerPullRequestTarget = "pull_request_target"
	TriggerWorkflowDispatch  = "workflow_dispatch"
	TriggerSchedule          = "schedule"
	TriggerRelease           = "release"
	TriggerWorkflowCall      = "workflow_call"
)

// HasTrigger reports whether the definition declares a trigger of the
// given kind.
func (d *Definition) HasTrigger(kind string) bool {
	for _, t := range d.Triggers {
		if t.Kind == kind {
			return true
		}
	}
	return false
}

// Permissions is the normalized form of a `permissions` block. The string
// form ("write-all", "read-all") sets All; the map form fills Scopes.
type Permissions struct {
	All    string
	Scopes map[string]string
}

// IsZero reports whether no permissions were declared.
func (p Permissions) IsZero() bool {
	return p.All == "" && len(p.Scopes) == 0
}

// WriteAllScopes returns the scope names granted blanket write access.
// The bare "write-all" string is reported under the pseudo-scope "all".
func (p Permissions) WriteAllScopes() []string {
	var scopes []string
	if p.All == "write-all" {
		scopes = append(scopes, "all")
	}
	for name, level := range p.Scopes {
		if level == "write-all" {
			scopes = append(scopes, name)
		}
	}
	sort.Strings(scopes)
	return scopes
}

// Runner is a normalized `runs-on` specification. Labels holds the plain
// label form (single or array); Group is set for runner-group targeting.
type Runner struct {
	Labels []string
	Group  string
}

// defaultRunnerLabels are the hosted runner profiles with baseline
// resources. Larger hosted profiles and self-hosted labels do not match.
var defaultRunnerLabels = map[string]bool{
	"ubuntu-latest":  true,
	"ubuntu-24.04":   true,
	"ubuntu-22.04":   true,
	"ubuntu-20.04":   true,
	"windows-latest": true,
	"macos-latest":   true,
}

// IsDefault reports whether the runner is a single default hosted profile.
func (r Runner) IsDefault() bool {
	return len(r.Labels) == 1 && r.Group == "" && defaultRunnerLabels[r.Labels[0]]
}

// IsExpression reports whether the runner label is a matrix or context
// expression rather than a literal label.
func (r Runner) IsExpression() bool {
	return len(r.Labels) == 1 && strings.Contains(r.Labels[0], "${{")
}

// Matrix is a normalized strategy matrix. Axis values are stringified
// scalars in declaration order. A matrix given as a whole-node expression
// (fromJSON and friends) keeps the raw expression in Expr.
type Matrix struct {
	Axes    map[string][]string
	Include []map[string]string
	Exclude []map[string]string
	Expr    string
}

// AxisNames returns the axis names in lexicographic order.
func (m *Matrix) AxisNames() []string {
	names := make([]string, 0, len(m.Axes))
	for name := range m.Axes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dynamic reports whether the matrix cannot be expanded statically,
// either because the whole node is an expression or because an axis value
// is one.
func (m *Matrix) Dynamic() bool {
	if m == nil {
		return false
	}
	if m.Expr != "" {
		return true
	}
	for _, values := range m.Axes {
		for _, v := range values {
			if strings.Contains(v, "${{") {
				return true
			}
		}
	}
	return false
}

// Product returns the product of all axis cardinalities, before include
// and exclude adjustments. Dynamic matrices report 0 (unknown).
func (m *Matrix) Product() int {
	if m == nil || m.Dynamic() || len(m.Axes) == 0 {
		return 0
	}
	product := 1
	for _, values := range m.Axes {
		product *= len(values)
	}
	return product
}

// Step is a tagged variant: exactly one of Action or Run is set. Action
// steps reference an external action; run steps execute shell text.
type Step struct {
	ID              string
	Name            string
	Action          *ActionRef
	Run             string
	Shell           string
	WorkingDir      string
	If              string
	With            map[string]string
	Env             map[string]string
	ContinueOnError bool
	TimeoutMinutes  int
}

// IsRun reports whether the step executes shell text.
func (s *Step) IsRun() bool {
	return s.Run != ""
}

// DisplayName returns the step's name, falling back to the action ref or
// the first line of the run command.
func (s *Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Action != nil {
		return s.Action.Raw
	}
	if line, _, found := strings.Cut(s.Run, "\n"); found {
		return line
	}
	return s.Run
}

// ActionRef is a parsed `uses` reference. The common form is
// owner/repo[/path]@version; local (./path) and docker:// references are
// flagged rather than decomposed.
type ActionRef struct {
	Raw     string
	Owner   string
	Repo    string
	Path    string
	Version string
	Local   bool
	Docker  bool
}

// Slug returns the owner/repo pair, or the raw reference for local and
// docker forms.
func (a *ActionRef) Slug() string {
	if a.Owner == "" || a.Repo == "" {
		return a.Raw
	}
	return a.Owner + "/" + a.Repo
}

// Valid reports whether the reference is well-formed: a local or docker
// reference, or an owner/repo pair with a version.
func (a *ActionRef) Valid() bool {
	if a.Local || a.Docker {
		return true
	}
	return a.Owner != "" && a.Repo != "" && a.Version != ""
}

// ParseError is a fatal parse failure for one definition. Line is 1-based
// and 0 when the failure has no source position (content checks, missing
// sections).
type ParseError struct {
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error at line %d: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("parse error: %s", e.Message)
}
