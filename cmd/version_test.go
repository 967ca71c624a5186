package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := rootCmd.Version
	defer func() { rootCmd.Version = originalVersion }()

	SetVersion("1.2.3")

	var out bytes.Buffer
	cmd := newVersionCmd()
	cmd.SetOut(&out)
	cmd.Run(cmd, nil)

	output := out.String()
	if !strings.Contains(output, "marvin-mcp version 1.2.3") {
		t.Errorf("Expected version output to contain 'marvin-mcp version 1.2.3', got %q", output)
	}
}

func TestSetAndGetVersion(t *testing.T) {
	originalVersion := rootCmd.Version
	defer func() { rootCmd.Version = originalVersion }()

	SetVersion("v9.9.9")
	if got := GetVersion(); got != "v9.9.9" {
		t.Errorf("Expected GetVersion to return v9.9.9, got %s", got)
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, sub := range rootCmd.Commands() {
		names[sub.Name()] = true
	}

	for _, want := range []string{"serve", "version"} {
		if !names[want] {
			t.Errorf("Expected root command to have a %q subcommand", want)
		}
	}
}
