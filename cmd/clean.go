package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/handleui/caliper/internal/persistence"
	"github.com/handleui/caliper/internal/tui"
)

var cleanAllRepos bool

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove cached analysis reports",
	Long: `Remove the cached analysis reports under ~/.caliper/repos.

The cache is content-addressed, so cleaning never changes analysis
results; the next run just re-analyzes from scratch. Score history
shown by analyze is lost.

By default, only the current repository's cache is removed.
Use --all to remove the caches of every repository.`,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().BoolVarP(&cleanAllRepos, "all", "a", false, "remove the caches of every repository")
}

func runClean(_ *cobra.Command, _ []string) error {
	start := time.Now()

	if cleanAllRepos {
		return cleanAll(start)
	}

	repoRoot, err := filepath.Abs(".")
	if err != nil {
		return fmt.Errorf("resolving current directory: %w", err)
	}

	dbPath, err := persistence.GetDatabasePath(repoRoot)
	if err != nil {
		return fmt.Errorf("locating report cache: %w", err)
	}
	if _, statErr := os.Stat(dbPath); os.IsNotExist(statErr) {
		fmt.Fprintf(os.Stderr, "%s No cached reports for this repository\n", tui.Bullet())
		return nil
	}

	if err := persistence.DropDatabase(repoRoot); err != nil {
		return fmt.Errorf("removing report cache: %w", err)
	}

	duration := time.Since(start).Round(time.Millisecond)
	fmt.Fprintf(os.Stderr, "%s Removed this repository's report cache (%s)\n",
		tui.SuccessStyle.Render("✓"), duration)
	return nil
}

// cleanAll removes every per-repository cache database.
func cleanAll(start time.Time) error {
	paths, err := persistence.ListRepoDatabases()
	if err != nil {
		return fmt.Errorf("listing report caches: %w", err)
	}
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "%s No cached reports for any repository\n", tui.Bullet())
		return nil
	}

	removed := 0
	var firstErr error
	for _, path := range paths {
		if removeErr := persistence.RemoveDatabaseFiles(path); removeErr != nil {
			fmt.Fprintf(os.Stderr, "%s %s: %s\n",
				tui.WarningStyle.Render("!"), filepath.Base(path), tui.MutedStyle.Render(removeErr.Error()))
			if firstErr == nil {
				firstErr = removeErr
			}
			continue
		}
		removed++
	}

	duration := time.Since(start).Round(time.Millisecond)
	label := "caches"
	if removed == 1 {
		label = "cache"
	}
	fmt.Fprintf(os.Stderr, "%s Removed %d report %s (%s)\n",
		tui.SuccessStyle.Render("✓"), removed, label, duration)
	return firstErr
}
