package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/handleui/caliper/internal/analysis"
	"github.com/handleui/caliper/internal/engine"
	"github.com/handleui/caliper/internal/output"
	"github.com/handleui/caliper/internal/persistence"
	"github.com/handleui/caliper/internal/sentry"
	"github.com/handleui/caliper/internal/tui"
	"github.com/handleui/caliper/internal/workflow"
)

var (
	analyzeOutput  string
	analyzeForce   bool
	analyzeFailOn  string
	analyzePattern string
)

// historyLimit caps how many past scores the trend line shows.
const historyLimit = 5

var analyzeCmd = &cobra.Command{
	Use:   "analyze [file]",
	Short: "Analyze pipeline definitions and report findings",
	Long: `Analyze evaluates pipeline definitions without running them: it parses
the file, schedules the job graph into parallel waves, runs the
performance and security rules, and scores the result.

With no argument every definition in the workflows directory is
analyzed concurrently. Results are cached per file content, so
unchanged files are instant on the next run.`,
	Example: `  caliper analyze
  caliper analyze .github/workflows/ci.yml
  caliper analyze --pattern "ci-*" --output json
  caliper analyze --fail-on medium`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "text", "output format: text or json")
	analyzeCmd.Flags().BoolVar(&analyzeForce, "force", false, "re-analyze even when a cached report matches")
	analyzeCmd.Flags().StringVar(&analyzeFailOn, "fail-on", "", "exit non-zero at this severity or above: high, medium, low or none")
	analyzeCmd.Flags().StringVar(&analyzePattern, "pattern", "", `only analyze files whose base name matches this glob (e.g. "ci-*")`)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if analyzeOutput != "text" && analyzeOutput != "json" {
		return fmt.Errorf("unknown output format %q (want text or json)", analyzeOutput)
	}
	threshold, err := failOnThreshold()
	if err != nil {
		return err
	}

	sentry.SetTag("output", analyzeOutput)

	eng := engine.New(cfg.Policy(), nil)
	store := openStore()
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	if len(args) == 1 {
		return analyzeSingle(eng, store, args[0], threshold)
	}
	return analyzeAll(cmd.Context(), eng, store, threshold)
}

// analyzeSingle analyzes one definition file and prints the full report,
// including the score trend when past runs are cached.
func analyzeSingle(eng *engine.Engine, store *persistence.Store, path string, threshold int) error {
	report := cachedAnalyze(eng, store, path, analyzeForce)

	if analyzeOutput == "json" {
		if err := output.FormatReportJSON(os.Stdout, report); err != nil {
			return fmt.Errorf("encoding report: %w", err)
		}
	} else {
		output.FormatReport(os.Stdout, report)
		printHistory(store, path)
	}

	return checkThreshold(map[string]*engine.Report{path: report}, threshold)
}

// analyzeAll discovers and analyzes every definition in the workflows
// directory. Interactive terminals get live progress; everything else
// gets the plain batch summary.
func analyzeAll(ctx context.Context, eng *engine.Engine, store *persistence.Store, threshold int) error {
	paths, err := workflow.DiscoverMatching(workflowsDir, analyzePattern)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Printf("%s No pipeline definitions found in %s\n", tui.Bullet(), workflowsDir)
		return nil
	}
	sentry.AddBreadcrumb("analyze", fmt.Sprintf("batch of %d definitions", len(paths)))

	useTUI := analyzeOutput == "text" && isatty.IsTerminal(os.Stderr.Fd())

	var reports map[string]*engine.Report
	if useTUI {
		reports, err = batchWithProgress(ctx, eng, store, paths)
	} else {
		reports, err = batchPlain(ctx, eng, store, paths)
	}
	if err != nil {
		return err
	}

	if analyzeOutput == "json" {
		if err := output.FormatBatchJSON(os.Stdout, reports); err != nil {
			return fmt.Errorf("encoding reports: %w", err)
		}
	} else if len(reports) > 0 {
		output.FormatBatch(os.Stdout, reports)
	}

	return checkThreshold(reports, threshold)
}

// batchWithProgress runs the batch behind a Bubble Tea progress display.
// The work runs in a goroutine and feeds the model through messages; the
// model owns cancellation of the work context.
func batchWithProgress(ctx context.Context, eng *engine.Engine, store *persistence.Store, paths []string) (map[string]*engine.Report, error) {
	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	model := tui.NewBatchModel(paths, cancelWork)
	program := tea.NewProgram(&model, tea.WithContext(ctx))

	go func() {
		start := time.Now()
		runBatch(workCtx, eng, store, paths,
			func(path string) { program.Send(tui.FileStartMsg{Path: path}) },
			func(path string, report *engine.Report) {
				program.Send(tui.FileResultMsg{Path: path, Report: report})
			})
		program.Send(tui.BatchDoneMsg{
			Duration:  time.Since(start),
			Cancelled: workCtx.Err() != nil,
		})
	}()

	if _, err := program.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("interrupted")
		}
		return nil, fmt.Errorf("progress display failed: %w", err)
	}
	if model.Err() != nil {
		return nil, model.Err()
	}

	if model.Cancelled {
		fmt.Fprintf(os.Stderr, "%s Analysis cancelled, showing completed results\n\n",
			tui.WarningStyle.Render("!"))
	}
	return model.Reports(), nil
}

// batchPlain runs the batch without a progress display.
func batchPlain(ctx context.Context, eng *engine.Engine, store *persistence.Store, paths []string) (map[string]*engine.Report, error) {
	reports := make(map[string]*engine.Report, len(paths))
	var mu sync.Mutex

	runBatch(ctx, eng, store, paths,
		func(string) {},
		func(path string, report *engine.Report) {
			mu.Lock()
			reports[path] = report
			mu.Unlock()
		})

	if ctx.Err() != nil {
		return reports, fmt.Errorf("interrupted")
	}
	return reports, nil
}

// runBatch analyzes paths on a CPU-bounded pool, consulting the report
// cache per file. Completion order is not deterministic; callers key
// results by path.
func runBatch(ctx context.Context, eng *engine.Engine, store *persistence.Store, paths []string, onStart func(string), onResult func(string, *engine.Report)) {
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())

	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			onStart(path)
			onResult(path, cachedAnalyze(eng, store, path, analyzeForce))
			return nil
		})
	}
	_ = g.Wait()
}

// cachedAnalyze returns the stored report when the file's bytes are
// unchanged since the last run, otherwise analyzes and stores. The cache
// is content-addressed, so a stale entry can never match. Reports read
// from the cache carry no parsed definition and cannot feed Apply.
func cachedAnalyze(eng *engine.Engine, store *persistence.Store, path string, force bool) *engine.Report {
	if store == nil {
		return eng.AnalyzeFile(path)
	}

	hash, err := persistence.ComputeFileHash(path)
	if err != nil {
		return eng.AnalyzeFile(path)
	}

	if !force {
		if rec, ok, lookupErr := store.GetReport(path, hash); lookupErr == nil && ok {
			var report engine.Report
			if unmarshalErr := json.Unmarshal(rec.ReportJSON, &report); unmarshalErr == nil {
				return &report
			}
		}
	}

	report := eng.AnalyzeFile(path)
	saveReport(store, path, hash, report)
	return report
}

// saveReport stores a report in the per-repo cache. Failures are warned
// and swallowed; a cold cache only costs time.
func saveReport(store *persistence.Store, path, hash string, report *engine.Report) {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return
	}

	rec := &persistence.ReportRecord{
		FilePath:     path,
		ContentHash:  hash,
		PipelineName: report.Name,
		OverallScore: report.Scores.Overall,
		FindingCount: len(report.Findings),
		ReportJSON:   reportJSON,
	}
	findings := make([]*persistence.FindingRecord, 0, len(report.Findings))
	for _, f := range report.Findings {
		findings = append(findings, &persistence.FindingRecord{
			Rule:          f.Rule,
			Kind:          string(f.Kind),
			Severity:      string(f.Severity),
			JobID:         f.JobID,
			StepIndex:     f.StepIndex,
			Description:   f.Description,
			SavingSeconds: f.Saving,
			Degraded:      f.Degraded,
		})
	}

	if saveErr := store.SaveReport(rec, findings); saveErr != nil {
		fmt.Fprintf(os.Stderr, "%s Could not cache report: %s\n",
			tui.WarningStyle.Render("!"), tui.MutedStyle.Render(saveErr.Error()))
	}
}

// printHistory prints the cached score trend for a path, oldest first.
// Needs at least two runs to say anything.
func printHistory(store *persistence.Store, path string) {
	if store == nil {
		return
	}
	records, err := store.History(path, historyLimit)
	if err != nil || len(records) < 2 {
		return
	}

	// History is newest first; reverse for a left-to-right trend.
	scores := make([]string, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		scores = append(scores, strconv.Itoa(records[i].OverallScore))
	}
	fmt.Printf("%s %s\n\n",
		tui.MutedStyle.Render("history:"),
		tui.MutedStyle.Render(strings.Join(scores, " → ")))
}

// openStore opens the per-repository report cache. Cache failures are
// not fatal: analysis still runs, only without memory.
func openStore() *persistence.Store {
	repoRoot, err := os.Getwd()
	if err != nil {
		return nil
	}
	store, err := persistence.Open(repoRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s Report cache unavailable: %s\n",
			tui.WarningStyle.Render("!"), tui.MutedStyle.Render(err.Error()))
		return nil
	}
	return store
}

// failOnThreshold resolves the --fail-on flag against the configured
// default and maps it to a priority threshold. Zero disables the gate.
func failOnThreshold() (int, error) {
	value := analyzeFailOn
	if value == "" {
		value = cfg.FailOn
	}
	if value == "none" {
		return 0, nil
	}

	severity := analysis.Severity(value)
	switch severity {
	case analysis.SeverityHigh, analysis.SeverityMedium, analysis.SeverityLow:
		return severity.Priority(), nil
	}
	return 0, fmt.Errorf("invalid fail-on value %q (want high, medium, low or none)", value)
}

// checkThreshold returns an error when any report carries a finding at
// or above the fail-on threshold. A file that fails to parse gates like
// a high severity finding.
func checkThreshold(reports map[string]*engine.Report, threshold int) error {
	if threshold == 0 {
		return nil
	}

	var count int
	for _, report := range reports {
		if report.Failed() {
			count++
			continue
		}
		for _, f := range report.Findings {
			if f.Severity.Priority() >= threshold {
				count++
				break
			}
		}
	}
	if count == 0 {
		return nil
	}

	label := "pipelines"
	if count == 1 {
		label = "pipeline"
	}
	return fmt.Errorf("%d %s at or above the fail-on threshold", count, label)
}
