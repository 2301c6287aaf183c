package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	if cmd == nil {
		t.Fatal("Root command should not be nil")
	}

	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("--help returned error: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "autocoder") {
		t.Errorf("Help text should contain 'autocoder', got: %s", output)
	}
	for _, flag := range []string{"--project-dir", "--model", "--recover", "--max-tasks", "--max-attempts", "--test-timeout", "--dry-run"} {
		if !strings.Contains(output, flag) {
			t.Errorf("Help text should list %s", flag)
		}
	}
	if strings.Contains(output, "--workspace") {
		t.Errorf("deprecated --workspace should be hidden from help")
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	if cmd.Use != "autocoder [requirement]" {
		t.Errorf("Expected Use to be 'autocoder [requirement]', got '%s'", cmd.Use)
	}

	found := false
	for _, sub := range cmd.Commands() {
		if sub.Name() == "status" {
			found = true
		}
	}
	if !found {
		t.Error("Expected status subcommand")
	}
}

func TestRootCommandShorthands(t *testing.T) {
	cmd := NewRootCommand()
	shorthands := map[string]string{"project-dir": "C", "workspace": "w"}
	for name, short := range shorthands {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			t.Errorf("flag --%s not registered", name)
			continue
		}
		if flag.Shorthand != short {
			t.Errorf("--%s shorthand = %q, want %q", name, flag.Shorthand, short)
		}
	}
}
