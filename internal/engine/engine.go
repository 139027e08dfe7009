// Package engine ties parsing, scheduling, rule evaluation and
// recommendation ranking into the library entry points: analyze one
// definition, analyze a batch concurrently, coordinate a set of planned
// pipelines, and apply selected recommendations.
package engine

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/handleui/caliper/internal/analysis"
	"github.com/handleui/caliper/internal/coordinate"
	"github.com/handleui/caliper/internal/graph"
	"github.com/handleui/caliper/internal/patch"
	"github.com/handleui/caliper/internal/policy"
	"github.com/handleui/caliper/internal/recommend"
	"github.com/handleui/caliper/internal/workflow"
)

// Engine evaluates pipeline definitions under one policy. It holds no
// mutable state; the policy and trust registry are read-only after
// construction, so one engine serves concurrent analyses.
type Engine struct {
	pol *policy.Policy
	fs  FS
}

// New builds an engine. A nil policy falls back to defaults; a nil fs
// uses the real filesystem.
func New(pol *policy.Policy, fs FS) *Engine {
	if fs == nil {
		fs = OSFileSystem()
	}
	return &Engine{pol: pol.Normalized(), fs: fs}
}

// Report is the analysis result for one definition. Err is set when the
// file could not be read or parsed; everything else is then empty and
// the overall score is 0.
type Report struct {
	Path            string                     `json:"path,omitempty"`
	Name            string                     `json:"name,omitempty"`
	Err             string                     `json:"error,omitempty"`
	Scores          recommend.Scores           `json:"scores"`
	Findings        []analysis.Finding         `json:"findings,omitempty"`
	Recommendations []recommend.Recommendation `json:"recommendations,omitempty"`
	Waves           [][]string                 `json:"waves,omitempty"`
	Excluded        []string                   `json:"excluded,omitempty"`
	Parallelizable  []string                   `json:"parallelizable,omitempty"`
	Cycle           []string                   `json:"cycle,omitempty"`

	def *workflow.Definition
}

// Failed reports whether the analysis never got past reading or parsing.
func (r *Report) Failed() bool {
	return r.Err != ""
}

// Definition returns the parsed definition behind the report, or nil
// when the analysis failed.
func (r *Report) Definition() *workflow.Definition {
	return r.def
}

// Analyze evaluates one definition text. A parse failure yields a
// failed report, not an error: batch callers key failures by path.
func (e *Engine) Analyze(text []byte) *Report {
	def, perr := workflow.Parse(text)
	if perr != nil {
		return &Report{Err: perr.Error()}
	}

	g := graph.Build(def)
	cycle := g.CycleCheck()

	findings := analysis.Structure(def, g, cycle)

	var plan *graph.Plan
	if cycle == nil {
		plan, _ = graph.Schedule(g)
		findings = append(findings, analysis.Performance(def, plan, e.pol)...)
	}
	// Security rules need no schedule and still run on a cyclic graph.
	findings = append(findings, analysis.Security(def, e.pol)...)

	report := &Report{
		Name:            def.Name,
		Scores:          recommend.Compute(def, g, cycle, findings, e.pol),
		Findings:        findings,
		Recommendations: recommend.Merge(findings),
		def:             def,
	}
	if cycle != nil {
		report.Cycle = cycle.Members
	}
	if plan != nil {
		report.Waves = plan.Waves
		report.Excluded = plan.Excluded
		report.Parallelizable = plan.Parallelizable()
	}
	return report
}

// AnalyzeFile reads and analyzes one definition file.
func (e *Engine) AnalyzeFile(path string) *Report {
	data, err := e.fs.ReadFile(path)
	if err != nil {
		return &Report{Path: path, Err: fmt.Sprintf("reading definition: %v", err)}
	}
	report := e.Analyze(data)
	report.Path = path
	return report
}

// AnalyzeBatch analyzes a set of files concurrently on a CPU-bounded
// pool, keyed by path. Files are independent; the only shared state is
// the read-only policy. Cancelling the context stops scheduling further
// files and returns the reports completed so far.
func (e *Engine) AnalyzeBatch(ctx context.Context, paths []string) map[string]*Report {
	reports := make(map[string]*Report, len(paths))

	var g errgroup.Group
	var mu sync.Mutex
	g.SetLimit(runtime.NumCPU())

	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			report := e.AnalyzeFile(path)
			mu.Lock()
			reports[path] = report
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return reports
}

// Apply applies the selected recommendations to the report's definition
// and returns the re-serialized text. All-or-nothing: conflicting
// selections surface as a *patch.ConflictError and nothing is written.
func (e *Engine) Apply(report *Report, recommendationIDs []string) ([]byte, error) {
	if report == nil || report.def == nil {
		return nil, fmt.Errorf("nothing to apply: analysis failed")
	}

	patches, err := recommend.SelectPatches(report.Recommendations, recommendationIDs)
	if err != nil {
		return nil, err
	}

	patched, err := patch.Apply(report.def, patches)
	if err != nil {
		return nil, err
	}
	return workflow.Serialize(patched)
}

// ApplyToFile analyzes a file, applies the selected recommendations,
// and writes the result back to the same path. The new text is
// returned.
func (e *Engine) ApplyToFile(path string, recommendationIDs []string) ([]byte, error) {
	report := e.AnalyzeFile(path)
	if report.Failed() {
		return nil, fmt.Errorf("%s: %s", path, report.Err)
	}

	text, err := e.Apply(report, recommendationIDs)
	if err != nil {
		return nil, err
	}
	if err := e.fs.WriteFile(path, text); err != nil {
		return nil, fmt.Errorf("writing patched definition: %w", err)
	}
	return text, nil
}

// Harden analyzes a file and applies the timeout guards, writing the
// result back. Unlike Apply this needs no recommendation selection.
func (e *Engine) Harden(path string) ([]byte, error) {
	report := e.AnalyzeFile(path)
	if report.Failed() {
		return nil, fmt.Errorf("%s: %s", path, report.Err)
	}

	patches := patch.Harden(report.def)
	if len(patches) == 0 {
		return workflow.Serialize(report.def)
	}

	patched, err := patch.Apply(report.def, patches)
	if err != nil {
		return nil, err
	}
	text, err := workflow.Serialize(patched)
	if err != nil {
		return nil, err
	}
	if err := e.fs.WriteFile(path, text); err != nil {
		return nil, fmt.Errorf("writing hardened definition: %w", err)
	}
	return text, nil
}

// PipelineRequest is one entry of a multi-pipeline coordination
// request: a role, optional display name and output path, optional
// definition text, and caller-estimated variables.
type PipelineRequest struct {
	Type      string
	Name      string
	Path      string
	Text      []byte
	Variables map[string]string
}

// Coordinate plans a set of pipelines together. Requests carrying text
// are parsed so secret references and ecosystems feed shared-resource
// extraction; unparseable text degrades that request to its basics.
func (e *Engine) Coordinate(reqs []PipelineRequest) *coordinate.Plan {
	pipelines := make([]*coordinate.Pipeline, 0, len(reqs))
	for _, req := range reqs {
		p := &coordinate.Pipeline{
			Type:      req.Type,
			Name:      req.Name,
			Path:      req.Path,
			Variables: copyVariables(req.Variables),
		}
		if len(req.Text) > 0 {
			if def, perr := workflow.Parse(req.Text); perr == nil {
				p.Definition = def
				if ecos := analysis.Ecosystems(def); len(ecos) > 0 {
					if p.Variables == nil {
						p.Variables = make(map[string]string, 1)
					}
					p.Variables["ecosystems"] = strings.Join(ecos, ",")
				}
			}
		}
		pipelines = append(pipelines, p)
	}

	return coordinate.BuildPlan(pipelines, coordinate.Options{
		Policy: e.pol,
		Exists: e.fs.Exists,
	})
}

func copyVariables(vars map[string]string) map[string]string {
	if len(vars) == 0 {
		return nil
	}
	cp := make(map[string]string, len(vars))
	for k, v := range vars {
		cp[k] = v
	}
	return cp
}
