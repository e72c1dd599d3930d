package session

import (
	"strings"
	"testing"
)

func TestBuildAgentArgvSubstitutesPrompt(t *testing.T) {
	argv, err := BuildAgentArgv("claude", "", "fix the bug", []string{"--dangerously-skip-permissions", "{prompt}"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"claude", "--dangerously-skip-permissions", "fix the bug"}
	if len(argv) != len(want) {
		t.Fatalf("argv = %v, want %v", argv, want)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Errorf("argv[%d] = %q, want %q", i, argv[i], want[i])
		}
	}
}

func TestBuildAgentArgvRejectsUnsupportedPlaceholder(t *testing.T) {
	_, err := BuildAgentArgv("claude", "", "p", []string{"{unknown}"})
	if err == nil {
		t.Error("expected an error for an unsupported placeholder")
	}
}

func TestBuildAgentArgvRequiresModelWhenPlaceholderPresent(t *testing.T) {
	_, err := BuildAgentArgv("claude", "", "p", []string{"--model", "{model}"})
	if err == nil {
		t.Error("expected an error when {model} is used but no model given")
	}
}

func TestBuildAgentShellCommandEscapesPrompt(t *testing.T) {
	cmd, err := BuildAgentShellCommand("claude", "", "don't stop", []string{"{prompt}"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(cmd, "claude") {
		t.Errorf("command %q does not contain the agent name", cmd)
	}
}
