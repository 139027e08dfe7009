package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/nightlyone/lockfile"
	"github.com/spf13/cobra"

	"github.com/handleui/caliper/internal/engine"
	"github.com/handleui/caliper/internal/patch"
	"github.com/handleui/caliper/internal/persistence"
	"github.com/handleui/caliper/internal/sentry"
	"github.com/handleui/caliper/internal/tui"
)

var (
	applyAll    bool
	applyHarden bool
	applyDryRun bool
)

// lockFileName guards concurrent caliper invocations writing the same
// workflows directory.
const lockFileName = ".caliper.lock"

var applyCmd = &cobra.Command{
	Use:   "apply <file> [recommendation-id...]",
	Short: "Apply recommended fixes to a pipeline file",
	Long: `Apply rewrites a pipeline definition with the selected recommendations
applied. Selections are all-or-nothing: recommendations whose patches
conflict leave the file untouched.

Recommendation IDs come from caliper analyze. --all selects every
auto-fixable recommendation; --harden instead adds a timeout to every
job that lacks one.`,
	Example: `  caliper apply .github/workflows/ci.yml --all
  caliper apply .github/workflows/ci.yml rec-1a2b3c4d
  caliper apply .github/workflows/ci.yml --harden
  caliper apply .github/workflows/ci.yml --all --dry-run`,
	Args: cobra.MinimumNArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAll, "all", false, "apply every auto-fixable recommendation")
	applyCmd.Flags().BoolVar(&applyHarden, "harden", false, "add a timeout to every job that lacks one")
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "print the patched definition instead of writing it")
}

func runApply(cmd *cobra.Command, args []string) error {
	path := args[0]
	ids := args[1:]

	if applyHarden && (applyAll || len(ids) > 0) {
		return fmt.Errorf("--harden takes no recommendation selection")
	}
	if !applyHarden && !applyAll && len(ids) == 0 {
		return fmt.Errorf("nothing selected: pass recommendation IDs, --all or --harden")
	}
	sentry.AddBreadcrumb("apply", fmt.Sprintf("%d explicit selections, all=%t harden=%t dry-run=%t",
		len(ids), applyAll, applyHarden, applyDryRun))

	if !applyDryRun {
		unlock, err := acquireWriteLock(path)
		if err != nil {
			return err
		}
		defer unlock()
	}

	fs := engine.FS(engine.OSFileSystem())
	if applyDryRun {
		fs = previewFS{FS: fs}
	}
	eng := engine.New(cfg.Policy(), fs)

	if applyHarden {
		return runHarden(eng, path)
	}

	report := eng.AnalyzeFile(path)
	if report.Failed() {
		return fmt.Errorf("%s: %s", path, report.Err)
	}

	if applyAll {
		ids = autoFixableIDs(report)
		if len(ids) == 0 {
			fmt.Printf("%s No auto-fixable recommendations for %s\n", tui.Bullet(), path)
			return nil
		}
	}

	text, err := eng.Apply(report, ids)
	if err != nil {
		return err
	}

	if applyDryRun {
		_, _ = os.Stdout.Write(text)
		return nil
	}
	if err := fs.WriteFile(path, text); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	// Re-analyze the new text so the score delta and the report cache
	// both reflect what is on disk now.
	after := eng.Analyze(text)
	after.Path = path
	if store := openStore(); store != nil {
		saveReport(store, path, persistence.ComputeContentHash(text), after)
		_ = store.Close()
	}

	label := "recommendations"
	if len(ids) == 1 {
		label = "recommendation"
	}
	fmt.Printf("%s Applied %d %s to %s\n", tui.SuccessStyle.Render("✓"), len(ids), label, path)
	fmt.Printf("%s score %s %s %s\n", tui.Bullet(),
		tui.ScoreStyle(report.Scores.Overall).Render(strconv.Itoa(report.Scores.Overall)),
		tui.Arrow(),
		tui.ScoreStyle(after.Scores.Overall).Render(strconv.Itoa(after.Scores.Overall)))
	return nil
}

// runHarden adds timeout guards to every job missing one and writes the
// file back. With --dry-run the engine writes into a previewFS and the
// result is printed instead.
func runHarden(eng *engine.Engine, path string) error {
	report := eng.AnalyzeFile(path)
	if report.Failed() {
		return fmt.Errorf("%s: %s", path, report.Err)
	}

	guards := len(patch.Harden(report.Definition()))
	if guards == 0 {
		fmt.Printf("%s Every job in %s already has a timeout\n", tui.Bullet(), path)
		return nil
	}

	text, err := eng.Harden(path)
	if err != nil {
		return err
	}

	if applyDryRun {
		_, _ = os.Stdout.Write(text)
		return nil
	}

	label := "jobs"
	if guards == 1 {
		label = "job"
	}
	fmt.Printf("%s Hardened %s: %d %s guarded with timeouts\n",
		tui.SuccessStyle.Render("✓"), path, guards, label)
	return nil
}

// previewFS swallows writes so --dry-run never touches disk.
type previewFS struct {
	engine.FS
}

func (previewFS) WriteFile(string, []byte) error { return nil }

// autoFixableIDs returns the IDs of every recommendation carrying
// patches.
func autoFixableIDs(report *engine.Report) []string {
	var ids []string
	for _, rec := range report.Recommendations {
		if len(rec.Patches) > 0 {
			ids = append(ids, rec.ID)
		}
	}
	return ids
}

// acquireWriteLock takes a lock next to the target file and returns the
// release function. A stale lock left by a killed process is cleaned up
// and retried once.
func acquireWriteLock(path string) (func(), error) {
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolving lock directory: %w", err)
	}
	lock, err := lockfile.New(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil, fmt.Errorf("creating lock handle: %w", err)
	}

	tryErr := lock.TryLock()
	switch {
	case tryErr == nil:
		// Acquired.
	case errors.Is(tryErr, lockfile.ErrBusy):
		return nil, fmt.Errorf("another caliper process is writing these workflows")
	case errors.Is(tryErr, lockfile.ErrDeadOwner), errors.Is(tryErr, lockfile.ErrInvalidPid):
		// The library removed the stale lock; one retry acquires it.
		if retryErr := lock.TryLock(); retryErr != nil {
			return nil, fmt.Errorf("acquiring write lock: %w", retryErr)
		}
	default:
		return nil, fmt.Errorf("acquiring write lock: %w", tryErr)
	}

	return func() { _ = lock.Unlock() }, nil
}
