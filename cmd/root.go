package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/handleui/caliper/internal/persistence"
	"github.com/handleui/caliper/internal/signal"
	"github.com/handleui/caliper/internal/tui"
	"github.com/handleui/caliper/internal/workflow"
)

// workflowsDir is the directory scanned for pipeline definitions.
// Shared across commands via the persistent --workflows flag.
var workflowsDir string

// cfg holds the loaded and merged configuration, available to all commands.
// Initialized in PersistentPreRunE.
var cfg *persistence.Config

// StartTime holds the command start time for duration calculation.
// Set in PersistentPreRunE, used by commands to calculate elapsed time.
var StartTime time.Time

var rootCmd = &cobra.Command{
	Use:   "caliper",
	Short: "Analyze and coordinate CI/CD pipeline definitions",
	Long: `Caliper analyzes pipeline definitions for performance and security
problems without running them. It schedules the job graph into parallel
waves, scores each pipeline, and produces auto-applicable fixes.

It also plans multi-pipeline setups: execution order across CI, CD,
security and release pipelines, name and path conflicts, and the
secrets and variables they share.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Track command start time
		StartTime = time.Now()

		// Skip branding and config load for the config subcommands so
		// a broken config file can still be inspected and reset.
		for c := cmd; c != nil; c = c.Parent() {
			if c == configCmd {
				return nil
			}
		}

		fmt.Println()
		fmt.Println(tui.Header(Version, cmd.Name()))

		loadedCfg, configErr := persistence.Load()
		if configErr != nil {
			fmt.Fprintf(os.Stderr, "%s Config error: %s\n",
				tui.WarningStyle.Render("!"),
				tui.MutedStyle.Render(configErr.Error()))
			fmt.Fprintf(os.Stderr, "%s Run: caliper config reset\n\n", tui.Bullet())
			// Use default config instead of retrying Load()
			loadedCfg = persistence.NewConfigWithDefaults()
		}
		cfg = loadedCfg

		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with signal handling
func Execute() error {
	ctx := signal.SetupSignalHandler(context.Background())
	return rootCmd.ExecuteContext(ctx)
}

func customHelpFunc(cmd *cobra.Command, _ []string) {
	// Only show custom help for root command
	if cmd != rootCmd {
		// Use default help for subcommands
		_ = cmd.UsageFunc()(cmd)
		return
	}

	fmt.Print(`Caliper analyzes CI/CD pipeline definitions statically: no runners,
no containers, no network. It finds performance and security problems,
scores each pipeline, and can apply the fixes it suggests.

USAGE
  $ caliper <command> [flags]

CORE COMMANDS
  caliper analyze:    Analyze pipeline definitions and report findings
  caliper apply:      Apply recommended fixes to a pipeline file
  caliper plan:       Plan a coordinated multi-pipeline setup
  caliper trust:      Manage trusted action owners and repositories
  caliper config:     View and manage caliper configuration
  caliper clean:      Remove cached analysis reports

  Pass --help to any command for specific help
  (e.g., caliper analyze --help)

TYPICAL WORKFLOW
  1. Run caliper analyze to see findings across your workflows
  2. Run caliper apply <file> --all to apply the automatic fixes
  3. Re-run caliper analyze to confirm the score improved

CONFIGURATION
  Global settings live in ~/.caliper/caliper.json.
    - Run caliper config show to see resolved values and sources
    - CALIPER_FAIL_ON, CALIPER_MATRIX_LIMIT and friends override per run

LEARN MORE
  GitHub:   https://github.com/handleui/caliper
  Issues:   https://github.com/handleui/caliper/issues

`)
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(trustCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cleanCmd)

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&workflowsDir, "workflows", "w", workflow.DefaultDir, "workflows directory path")

	rootCmd.SetHelpFunc(customHelpFunc)
}
