// Package pinprompt resolves a release PIN for CLI commands without echoing it.
package pinprompt

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// DefaultEnvVar is consulted before prompting.
const DefaultEnvVar = "SPAZA_RELEASE_PIN"

// Source reads a PIN from an explicit value, an environment variable or the
// terminal, in that order.
type Source struct {
	envVar string
	lookup func(string) (string, bool)
	fd     int
	prompt io.Writer
	isTerm func(int) bool
	read   func(int) ([]byte, error)
}

// NewSource builds a source bound to stdin/stderr.
func NewSource(envVar string) *Source {
	if strings.TrimSpace(envVar) == "" {
		envVar = DefaultEnvVar
	}
	return &Source{
		envVar: strings.TrimSpace(envVar),
		lookup: os.LookupEnv,
		fd:     int(os.Stdin.Fd()),
		prompt: os.Stderr,
		isTerm: term.IsTerminal,
		read:   term.ReadPassword,
	}
}

// Resolve returns flagValue when set, otherwise the environment variable,
// otherwise prompts on the terminal.
func (s *Source) Resolve(flagValue string) (string, error) {
	if pin := strings.TrimSpace(flagValue); pin != "" {
		return pin, nil
	}
	if value, ok := s.lookup(s.envVar); ok {
		if strings.TrimSpace(value) == "" {
			return "", fmt.Errorf("%s is set but empty", s.envVar)
		}
		return strings.TrimSpace(value), nil
	}
	if !s.isTerm(s.fd) {
		return "", fmt.Errorf("release PIN required; pass --pin, set %s or run interactively", s.envVar)
	}
	fmt.Fprint(s.prompt, "Enter release PIN: ")
	raw, err := s.read(s.fd)
	fmt.Fprintln(s.prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read PIN: %w", err)
	}
	pin := strings.TrimSpace(string(raw))
	if pin == "" {
		return "", errors.New("release PIN cannot be empty")
	}
	return pin, nil
}
