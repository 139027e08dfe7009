package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/handleui/caliper/internal/tui"
)

var (
	listTrusted   bool
	removeTrusted bool
)

var trustCmd = &cobra.Command{
	Use:   "trust [owner|owner/repo]",
	Short: "Manage trusted action owners and repositories",
	Long: `Manage the registry of action publishers the security rules treat as
trusted. Steps using actions from anyone else are flagged as untrusted
and deduct from the security score.

Entries are stored in the global config (~/.caliper/caliper.json). An
entry is either an owner, trusting everything they publish, or an
owner/repo slug, trusting one action.`,
	Example: `  # Trust every action an owner publishes
  caliper trust docker

  # Trust a single action
  caliper trust aws-actions/configure-aws-credentials

  # List trusted entries
  caliper trust --list

  # Remove an entry
  caliper trust --remove docker`,
	Args:          cobra.MaximumNArgs(1),
	RunE:          runTrust,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	trustCmd.Flags().BoolVarP(&listTrusted, "list", "l", false, "list trusted owners and repositories")
	trustCmd.Flags().BoolVarP(&removeTrusted, "remove", "r", false, "remove entry from the trust registry")
}

func runTrust(cmd *cobra.Command, args []string) error {
	// Handle --list flag
	if listTrusted {
		entries := cfg.TrustedEntries()
		if len(entries) == 0 {
			fmt.Fprintf(os.Stderr, "%s No trusted owners or repositories\n", tui.MutedStyle.Render("i"))
			return nil
		}

		fmt.Fprintf(os.Stderr, "%s Trusted:\n", tui.Bullet())
		for _, entry := range entries {
			fmt.Fprintf(os.Stderr, "  %s\n", entry)
		}
		return nil
	}

	// Require an entry argument for add/remove
	if len(args) == 0 {
		return fmt.Errorf("entry argument required (use --list to view)")
	}

	entry := args[0]

	// Handle --remove flag
	if removeTrusted {
		if err := cfg.RemoveTrusted(entry); err != nil {
			return fmt.Errorf("removing entry: %w", err)
		}
		fmt.Fprintln(os.Stderr, tui.ExitSuccess(fmt.Sprintf("Removed %q from the trust registry", entry)))
		return nil
	}

	// Default: add entry
	// Check if already trusted
	for _, existing := range cfg.TrustedEntries() {
		if strings.EqualFold(existing, entry) {
			fmt.Fprintf(os.Stderr, "%s Already trusted: %s\n", tui.MutedStyle.Render("i"), entry)
			return nil
		}
	}

	if err := cfg.AddTrusted(entry); err != nil {
		return fmt.Errorf("adding entry: %w", err)
	}

	fmt.Fprintln(os.Stderr, tui.ExitSuccess(fmt.Sprintf("Added %q to the trust registry", entry)))
	return nil
}
