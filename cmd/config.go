package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/handleui/caliper/internal/persistence"
	"github.com/handleui/caliper/internal/policy"
	"github.com/handleui/caliper/internal/tui"
)

var forceReset bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage caliper configuration",
	Long: `View and manage the global caliper configuration.

Settings:
  trusted_owners      action publishers the security rules trust
  trusted_actions     individually trusted owner/repo slugs
  known_secrets       secret names pipelines may reference
  required_pipelines  pipeline types every plan must include
  matrix_limit        job count above which a matrix is flagged
  fail_on             severity at which analyze exits non-zero
  weights             relative weight of the five sub-scores

Environment overrides:
  CALIPER_TRUSTED_OWNERS comma-separated owner list
  CALIPER_FAIL_ON        high, medium or low`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	RunE:  runConfigShow,
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset configuration to defaults",
	Long: `Reset all settings to default values.

The trust registry reverts to the built-in owner set.`,
	RunE: runConfigReset,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configResetCmd)
	configCmd.AddCommand(configPathCmd)

	configResetCmd.Flags().BoolVarP(&forceReset, "force", "f", false, "skip confirmation")
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	// Config commands skip the shared PersistentPreRunE so a broken
	// config file can still be inspected; print the header here.
	fmt.Println()
	fmt.Println(tui.Header(Version, "config"))
	fmt.Println()

	showCfg, err := persistence.LoadWithSources()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s Failed to load configuration\n", tui.ErrorStyle.Render("✗"))
		fmt.Fprintf(os.Stderr, "%s %s\n", tui.Bullet(), tui.MutedStyle.Render(err.Error()))
		fmt.Fprintf(os.Stderr, "%s %s\n\n", tui.Bullet(), tui.SecondaryStyle.Render("Run: caliper config reset"))
		return nil
	}

	configPath, _ := persistence.GetConfigPath()

	// Section: Trust
	fmt.Printf("%s\n", tui.SecondaryStyle.Render("Trust"))
	fmt.Printf("  Owners       %-20s %s\n", listDisplay(showCfg.TrustedOwners.Value), sourceBadge(showCfg.TrustedOwners.Source))
	fmt.Printf("  Actions      %-20s %s\n", listDisplay(showCfg.TrustedActions.Value), sourceBadge(showCfg.TrustedActions.Source))

	// Section: Policy
	fmt.Printf("\n%s\n", tui.SecondaryStyle.Render("Policy"))
	fmt.Printf("  Fail on      %-20s %s\n", tui.PrimaryStyle.Render(showCfg.FailOn.Value), sourceBadge(showCfg.FailOn.Source))
	fmt.Printf("  Matrix limit %-20s %s\n", tui.PrimaryStyle.Render(strconv.Itoa(showCfg.MatrixLimit.Value)), sourceBadge(showCfg.MatrixLimit.Source))

	secretsDisplay := tui.MutedStyle.Render("none declared")
	if n := len(showCfg.KnownSecrets.Value); n > 0 {
		secretsDisplay = tui.PrimaryStyle.Render(fmt.Sprintf("%d declared", n))
	}
	fmt.Printf("  Secrets      %-20s %s\n", secretsDisplay, sourceBadge(showCfg.KnownSecrets.Source))

	// Section: Score weights
	w := showCfg.Weights.Value
	fmt.Printf("\n%s\n", tui.SecondaryStyle.Render("Score weights"))
	fmt.Printf("  %s %s %s\n",
		tui.PrimaryStyle.Render(fmt.Sprintf("%d/%d/%d/%d/%d", w.Syntax, w.ActionRefs, w.SecretRefs, w.Performance, w.Security)),
		tui.MutedStyle.Render("syntax/actions/secrets/performance/security"),
		sourceBadge(showCfg.Weights.Source))

	// Section: File
	fmt.Printf("\n%s\n", tui.SecondaryStyle.Render("File"))
	fmt.Printf("  %s\n", tui.MutedStyle.Render(configPath))

	fmt.Println()
	return nil
}

// listDisplay renders a string list for the aligned settings table:
// muted "none" when empty, the first few entries otherwise.
func listDisplay(values []string) string {
	if len(values) == 0 {
		return tui.MutedStyle.Render("none")
	}
	const shown = 4
	if len(values) <= shown {
		return tui.PrimaryStyle.Render(strings.Join(values, ", "))
	}
	return tui.PrimaryStyle.Render(fmt.Sprintf("%s +%d more",
		strings.Join(values[:shown], ", "), len(values)-shown))
}

// sourceBadge returns a styled badge for the given source.
func sourceBadge(source persistence.ValueSource) string {
	return tui.Badge(source.String())
}

func runConfigReset(_ *cobra.Command, _ []string) error {
	if !forceReset {
		fmt.Println()
		fmt.Printf("%s Reset to defaults?\n", tui.WarningStyle.Render("!"))
		fmt.Printf("%s Trusted owners revert to the built-in set\n", tui.Bullet())
		fmt.Printf("%s All other settings reset to defaults\n\n", tui.Bullet())
		fmt.Printf("Continue? [y/N] ")

		var response string
		if _, err := fmt.Scanln(&response); err != nil || (response != "y" && response != "Y") {
			fmt.Printf("\n%s Cancelled\n\n", tui.MutedStyle.Render("·"))
			return nil
		}
		fmt.Println()
	}

	newCfg := persistence.NewConfigWithDefaults()
	if err := newCfg.SaveGlobal(); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("%s Configuration reset\n\n", tui.SuccessStyle.Render("✓"))
	fmt.Printf("  Fail on      %s\n", tui.PrimaryStyle.Render(persistence.DefaultFailOn))
	fmt.Printf("  Matrix limit %s\n", tui.PrimaryStyle.Render(strconv.Itoa(policy.DefaultMaxMatrixProduct)))
	fmt.Printf("  Owners       %s\n", tui.MutedStyle.Render("built-in defaults"))
	fmt.Printf("  Weights      %s\n\n", tui.MutedStyle.Render("equal"))

	return nil
}

func runConfigPath(_ *cobra.Command, _ []string) error {
	path, err := persistence.GetConfigPath()
	if err != nil {
		return err
	}

	fmt.Println(path)

	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		fmt.Fprintf(os.Stderr, "%s file does not exist yet\n", tui.Bullet())
	}

	return nil
}
