package session

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/antigravity-dev/orchestrator/internal/broker"
)

var supportedPlaceholders = map[string]struct{}{
	"{prompt}": {},
	"{model}":  {},
}

var placeholderMatcher = regexp.MustCompile(`\{[^}]+\}`)

// BuildAgentArgv constructs an exec-compatible argv for the interactive
// coding agent, substituting {prompt} and {model} placeholders into the
// configured flag template.
func BuildAgentArgv(command, model, prompt string, flags []string) ([]string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, fmt.Errorf("session: agent command is required")
	}
	if strings.ContainsRune(command, '\x00') || strings.ContainsRune(prompt, '\x00') {
		return nil, fmt.Errorf("session: command or prompt contains NUL byte")
	}
	if len(flags) == 0 {
		return []string{command}, nil
	}

	argv := make([]string, 0, len(flags)+1)
	argv = append(argv, command)

	modelUsed := false
	for i, raw := range flags {
		if strings.TrimSpace(raw) == "" {
			return nil, fmt.Errorf("session: empty agent flag at index %d", i)
		}
		if err := validatePlaceholders(raw); err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}

		arg := strings.ReplaceAll(raw, "{prompt}", prompt)
		if strings.Contains(raw, "{model}") {
			if model == "" {
				return nil, fmt.Errorf("session: model is required by flag %q", raw)
			}
			modelUsed = true
			arg = strings.ReplaceAll(arg, "{model}", model)
		}
		argv = append(argv, arg)
	}

	if model != "" && !modelUsed {
		return nil, fmt.Errorf("session: model given but no {model} placeholder configured")
	}
	return argv, nil
}

func validatePlaceholders(raw string) error {
	for _, match := range placeholderMatcher.FindAllString(raw, -1) {
		if _, ok := supportedPlaceholders[match]; !ok {
			return fmt.Errorf("unsupported placeholder %q in agent flag %q", match, raw)
		}
	}
	return nil
}

// BuildAgentShellCommand builds the shell-escaped command line handed to a
// session backend's Launch, which runs it under `exec` inside the pane.
func BuildAgentShellCommand(command, model, prompt string, flags []string) (string, error) {
	argv, err := BuildAgentArgv(command, model, prompt, flags)
	if err != nil {
		return "", err
	}
	return broker.BuildShellCommand(argv[0], argv[1:]...), nil
}
