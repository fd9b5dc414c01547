package app

import (
	"testing"
)

func TestRootCommand(t *testing.T) {
	if RootCmd.Use != "appmirror" {
		t.Errorf("expected Use to be 'appmirror', got '%s'", RootCmd.Use)
	}

	if RootCmd.Short == "" {
		t.Error("expected Short description to be set")
	}

	if RootCmd.Long == "" {
		t.Error("expected Long description to be set")
	}

	if !RootCmd.SilenceUsage || !RootCmd.SilenceErrors {
		t.Error("expected usage and error printing to be silenced (main owns error output)")
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	commands := RootCmd.Commands()

	expectedCommands := []string{"discover", "versions", "download", "status"}
	foundCommands := make(map[string]bool)

	for _, cmd := range commands {
		foundCommands[cmd.Use] = true
	}

	for _, expected := range expectedCommands {
		if !foundCommands[expected] {
			t.Errorf("expected command '%s' to be registered", expected)
		}
	}
}

func TestRootCommandHasPersistentFlags(t *testing.T) {
	flag := RootCmd.PersistentFlags().Lookup("db")
	if flag == nil {
		t.Fatal("expected --db flag to be registered")
	}
	if flag.Usage == "" {
		t.Error("expected --db flag to have usage text")
	}
}

func TestDiscoverCommandFlags(t *testing.T) {
	for _, name := range []string{"resume", "product", "batch-size"} {
		if discoverCmd.Flags().Lookup(name) == nil {
			t.Errorf("expected discover to have --%s flag", name)
		}
	}
}

func TestVersionsCommandFlags(t *testing.T) {
	for _, name := range []string{"product", "app", "workers"} {
		if versionsCmd.Flags().Lookup(name) == nil {
			t.Errorf("expected versions to have --%s flag", name)
		}
	}
}

func TestDownloadCommandFlags(t *testing.T) {
	for _, name := range []string{"product", "app", "workers"} {
		if downloadCmd.Flags().Lookup(name) == nil {
			t.Errorf("expected download to have --%s flag", name)
		}
	}
}

func TestCommandsHaveExamples(t *testing.T) {
	for _, cmd := range []struct {
		name string
		long string
	}{
		{"discover", discoverCmd.Long},
		{"versions", versionsCmd.Long},
		{"download", downloadCmd.Long},
		{"status", statusCmd.Long},
	} {
		if cmd.long == "" {
			t.Errorf("expected %s to have Long help text", cmd.name)
		}
	}
}
