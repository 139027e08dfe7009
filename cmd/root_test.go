package cmd

import (
	"testing"

	"github.com/handleui/caliper/internal/workflow"
)

func TestRootCommandWiring(t *testing.T) {
	registered := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		registered[c.Name()] = true
	}

	for _, name := range []string{"analyze", "apply", "plan", "trust", "config", "clean"} {
		if !registered[name] {
			t.Errorf("command %q not registered on root", name)
		}
	}
}

func TestWorkflowsFlag(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("workflows")
	if flag == nil {
		t.Fatal("persistent flag workflows not found")
	}
	if flag.Shorthand != "w" {
		t.Errorf("shorthand = %q, want w", flag.Shorthand)
	}
	if flag.DefValue != workflow.DefaultDir {
		t.Errorf("default = %q, want %q", flag.DefValue, workflow.DefaultDir)
	}
}

func TestVersionDefault(t *testing.T) {
	// Version is injected via ldflags on release builds; the source
	// default stays "dev".
	if Version == "" {
		t.Error("Version must never be empty")
	}
}

func TestRootSilencesCobraNoise(t *testing.T) {
	if !rootCmd.SilenceUsage {
		t.Error("usage spam on errors should be silenced")
	}
	if !rootCmd.SilenceErrors {
		t.Error("errors print once in main, not twice via cobra")
	}
}
