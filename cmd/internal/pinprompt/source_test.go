package pinprompt

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func fakeSource(env map[string]string, terminal bool, typed string, readErr error) (*Source, *bytes.Buffer) {
	var prompt bytes.Buffer
	return &Source{
		envVar: DefaultEnvVar,
		lookup: func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		},
		prompt: &prompt,
		isTerm: func(int) bool { return terminal },
		read:   func(int) ([]byte, error) { return []byte(typed), readErr },
	}, &prompt
}

func TestResolvePrefersFlag(t *testing.T) {
	src, _ := fakeSource(map[string]string{DefaultEnvVar: "111111"}, true, "222222", nil)
	pin, err := src.Resolve(" 482913 ")
	require.NoError(t, err)
	require.Equal(t, "482913", pin)
}

func TestResolveFromEnv(t *testing.T) {
	src, _ := fakeSource(map[string]string{DefaultEnvVar: "111111"}, false, "", nil)
	pin, err := src.Resolve("")
	require.NoError(t, err)
	require.Equal(t, "111111", pin)

	src, _ = fakeSource(map[string]string{DefaultEnvVar: "  "}, true, "", nil)
	_, err = src.Resolve("")
	require.ErrorContains(t, err, "set but empty")
}

func TestResolvePrompts(t *testing.T) {
	src, prompt := fakeSource(nil, true, "654321\n", nil)
	pin, err := src.Resolve("")
	require.NoError(t, err)
	require.Equal(t, "654321", pin)
	require.Contains(t, prompt.String(), "Enter release PIN")
}

func TestResolveFailures(t *testing.T) {
	src, _ := fakeSource(nil, false, "", nil)
	_, err := src.Resolve("")
	require.ErrorContains(t, err, DefaultEnvVar)

	src, _ = fakeSource(nil, true, "", errors.New("tty gone"))
	_, err = src.Resolve("")
	require.ErrorContains(t, err, "tty gone")

	src, _ = fakeSource(nil, true, "   ", nil)
	_, err = src.Resolve("")
	require.ErrorContains(t, err, "cannot be empty")
}
