package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/handleui/caliper/internal/coordinate"
	"github.com/handleui/caliper/internal/engine"
	"github.com/handleui/caliper/internal/output"
	"github.com/handleui/caliper/internal/tui"
	"github.com/handleui/caliper/internal/workflow"
)

var (
	planOutput string
	planVars   []string
)

// maxResolveRounds bounds the interactive resolution loop. Every typed
// decision re-plans, and a fresh plan can surface new conflicts.
const maxResolveRounds = 10

var roleRe = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

var planCmd = &cobra.Command{
	Use:   "plan <role>[=file] ...",
	Short: "Plan a coordinated multi-pipeline setup",
	Long: `Plan coordinates a set of pipelines before anything is written: the
execution order across roles (CI before CD, CD before release), the
output path each pipeline gets, name and path collisions, and the
secrets and variables the set shares.

Each argument is a pipeline role, optionally seeded with an existing
definition file whose secrets and ecosystems feed the shared-resource
extraction. Conflicts with an automatic resolution are applied
silently; the rest are prompted for on an interactive terminal.`,
	Example: `  caliper plan ci cd
  caliper plan ci=.github/workflows/ci.yml cd release
  caliper plan ci cd --var project=api --output json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planOutput, "output", "o", "text", "output format: text or json")
	planCmd.Flags().StringArrayVar(&planVars, "var", nil, "variable shared by every requested pipeline (key=value, repeatable)")
}

func runPlan(cmd *cobra.Command, args []string) error {
	if planOutput != "text" && planOutput != "json" {
		return fmt.Errorf("unknown output format %q (want text or json)", planOutput)
	}

	vars, err := parsePlanVars()
	if err != nil {
		return err
	}
	reqs, seeded, err := buildRequests(args, vars)
	if err != nil {
		return err
	}

	// A seeded file is its own output; finding it on disk is not a
	// conflict.
	eng := engine.New(cfg.Policy(), planFS{FS: engine.OSFileSystem(), seeded: seeded})
	plan := eng.Coordinate(reqs)

	accepted := 0
	useTUI := planOutput == "text" && isatty.IsTerminal(os.Stdin.Fd())
	if useTUI && !plan.Resolved {
		plan, accepted, err = resolveConflicts(eng, reqs, plan)
		if err != nil {
			return err
		}
	}

	if planOutput == "json" {
		return output.FormatCoordinationJSON(os.Stdout, plan)
	}
	output.FormatCoordination(os.Stdout, plan)
	if accepted > 0 {
		label := "conflicts"
		if accepted == 1 {
			label = "conflict"
		}
		fmt.Printf("%s %d %s accepted as-is\n", tui.Bullet(), accepted, label)
	}

	if !useTUI && !plan.Resolved {
		return fmt.Errorf("plan needs decisions: run interactively to resolve")
	}
	return nil
}

// planFS hides seeded input files from the output-path existence check.
type planFS struct {
	engine.FS
	seeded map[string]bool
}

func (p planFS) Exists(path string) bool {
	if p.seeded[filepath.Clean(path)] {
		return false
	}
	return p.FS.Exists(path)
}

// buildRequests turns "role" and "role=file" arguments into pipeline
// requests. Names are made unique up front so conflict prompts map back
// to exactly one request.
func buildRequests(args []string, vars map[string]string) ([]engine.PipelineRequest, map[string]bool, error) {
	reqs := make([]engine.PipelineRequest, 0, len(args))
	seeded := make(map[string]bool)

	for _, arg := range args {
		role, file, hasFile := strings.Cut(arg, "=")
		role = strings.ToLower(strings.TrimSpace(role))
		if !roleRe.MatchString(role) {
			return nil, nil, fmt.Errorf("invalid pipeline role %q (want something like ci, cd, security or release)", arg)
		}

		req := engine.PipelineRequest{Type: role, Variables: vars}
		if hasFile {
			text, err := os.ReadFile(file)
			if err != nil {
				return nil, nil, fmt.Errorf("reading %s: %w", file, err)
			}
			req.Text = text
			req.Path = filepath.Clean(file)
			seeded[req.Path] = true
			if def, perr := workflow.Parse(text); perr == nil && def.Name != "" {
				req.Name = def.Name
			}
		}
		reqs = append(reqs, req)
	}

	uniquifyNames(reqs)
	return reqs, seeded, nil
}

// uniquifyNames assigns each request a distinct name, defaulting to the
// role and suffixing duplicates in argument order.
func uniquifyNames(reqs []engine.PipelineRequest) {
	taken := make(map[string]bool, len(reqs))
	for i := range reqs {
		base := reqs[i].Name
		if base == "" {
			base = reqs[i].Type
		}
		name := base
		for n := 2; taken[name]; n++ {
			name = fmt.Sprintf("%s-%d", base, n)
		}
		reqs[i].Name = name
		taken[name] = true
	}
}

// resolveConflicts walks the user through every conflict without an
// automatic resolution. A typed replacement mutates the requests and
// re-plans; choosing a listed resolution accepts the conflict as-is.
// Returns the final plan and how many conflicts were accepted.
func resolveConflicts(eng *engine.Engine, reqs []engine.PipelineRequest, plan *coordinate.Plan) (*coordinate.Plan, int, error) {
	accepted := 0
	for round := 0; round < maxResolveRounds; round++ {
		conflict, ok := nextManualConflict(plan, accepted)
		if !ok {
			return plan, accepted, nil
		}

		model := tui.NewResolvePromptModel(conflict)
		program := tea.NewProgram(model)
		if _, err := program.Run(); err != nil {
			return plan, accepted, fmt.Errorf("conflict prompt failed: %w", err)
		}
		result := model.GetResult()
		if result == nil || result.Cancelled {
			return plan, accepted, fmt.Errorf("conflict resolution cancelled")
		}

		renames := result.Renames
		if result.Resolution != nil {
			renames = result.Resolution.Renames
		}
		if len(renames) == 0 {
			// Overwrite an existing file, or proceed without a required
			// pipeline. The conflict stays in the plan; stop asking.
			accepted++
			continue
		}

		applyRenames(reqs, conflict.Type, renames)
		plan = eng.Coordinate(reqs)
		accepted = 0
	}
	return plan, accepted, nil
}

// nextManualConflict returns the first conflict without an automatic
// resolution, skipping the given number of already-accepted ones.
func nextManualConflict(plan *coordinate.Plan, skip int) (coordinate.Conflict, bool) {
	seen := 0
	for _, c := range plan.Conflicts {
		if c.Automatic() {
			continue
		}
		if seen < skip {
			seen++
			continue
		}
		return c, true
	}
	return coordinate.Conflict{}, false
}

// applyRenames writes the user's typed replacements back onto the
// requests: new output paths for file conflicts, new names otherwise.
func applyRenames(reqs []engine.PipelineRequest, conflictType string, renames map[string]string) {
	for name, replacement := range renames {
		for i := range reqs {
			if reqs[i].Name != name {
				continue
			}
			if conflictType == coordinate.ConflictFile {
				reqs[i].Path = filepath.Clean(replacement)
			} else {
				reqs[i].Name = replacement
			}
			break
		}
	}
}

// parsePlanVars parses repeated --var key=value flags.
func parsePlanVars() (map[string]string, error) {
	if len(planVars) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(planVars))
	for _, pair := range planVars {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q (want key=value)", pair)
		}
		vars[key] = value
	}
	return vars, nil
}
