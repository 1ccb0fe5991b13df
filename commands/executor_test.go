//go:build !windows

package commands_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/intune-bridge/commands"
	apperrors "github.com/jrsteele09/intune-bridge/internal/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testToken = "eyJ0eXAiOiJKV1QiLCJhbGciOiJSUzI1NiJ9.secret-token.sig"

type scriptFixture struct {
	dir      string
	executor *commands.Executor
	logs     *bytes.Buffer
}

// setupScripts writes each script body to the temp dir and registers it as a command
// with the same id. Commands are run with /bin/sh.
func setupScripts(t *testing.T, cfg commands.ExecutorConfig, defs []commands.Command, bodies map[string]string) *scriptFixture {
	t.Helper()
	dir := t.TempDir()
	for name, body := range bodies {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o755))
	}

	registry, err := commands.NewRegistry(defs...)
	require.NoError(t, err)

	cfg.ScriptDir = dir
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	logs := &bytes.Buffer{}
	executor, err := commands.NewExecutor(registry, cfg, zerolog.New(logs).Level(zerolog.DebugLevel))
	require.NoError(t, err)
	return &scriptFixture{dir: dir, executor: executor, logs: logs}
}

func TestExecutor_UnknownCommandNeverSpawns(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "spawned")
	shell := filepath.Join(dir, "shell.sh")
	require.NoError(t, os.WriteFile(shell, []byte("#!/bin/sh\ntouch "+marker+"\n"), 0o755))

	f := setupScripts(t, commands.ExecutorConfig{Shell: shell},
		[]commands.Command{{ID: "known", Script: "known.sh"}},
		map[string]string{"known.sh": "exit 0\n"})

	for _, params := range []map[string]any{nil, {}, {"Query": "x"}, {"../../bin/sh": true}} {
		result := f.executor.Execute(context.Background(), commands.Invocation{CommandID: "unregistered-id", Parameters: params}, testToken)
		require.False(t, result.Success)
		require.ErrorIs(t, result.Err, apperrors.ErrUnknownCommand)
	}
	for _, id := range []string{"", "/bin/sh", "../known", "known.sh"} {
		result := f.executor.Execute(context.Background(), commands.Invocation{CommandID: id}, testToken)
		require.ErrorIs(t, result.Err, apperrors.ErrUnknownCommand)
	}
	require.NoFileExists(t, marker)

	// Sanity check the marker mechanism with a known command
	result := f.executor.Execute(context.Background(), commands.Invocation{CommandID: "known"}, testToken)
	require.True(t, result.Success, result.Error)
	require.FileExists(t, marker)
}

func TestExecutor_JSONOutput(t *testing.T) {
	f := setupScripts(t, commands.ExecutorConfig{},
		[]commands.Command{{ID: "ok", Script: "ok.sh"}, {ID: "bad", Script: "bad.sh"}},
		map[string]string{
			"ok.sh":  `echo '{"ok":true}'` + "\n",
			"bad.sh": "echo 'WARNING: not json'\n",
		})

	result := f.executor.Execute(context.Background(), commands.Invocation{CommandID: "ok", ParseJSON: true}, testToken)
	require.True(t, result.Success, result.Error)
	require.Equal(t, map[string]any{"ok": true}, result.Output)
	require.Zero(t, result.ExitCode)
	require.NoError(t, result.Err)

	result = f.executor.Execute(context.Background(), commands.Invocation{CommandID: "ok"}, testToken)
	require.True(t, result.Success)
	require.Equal(t, `{"ok":true}`, result.Output)

	result = f.executor.Execute(context.Background(), commands.Invocation{CommandID: "bad", ParseJSON: true}, testToken)
	require.False(t, result.Success)
	require.Equal(t, "Malformed output", result.Error)
	require.ErrorIs(t, result.Err, apperrors.ErrMalformedOutput)
}

func TestExecutor_Arguments(t *testing.T) {
	defs := []commands.Command{{
		ID:     "args",
		Script: "args.sh",
		Params: []commands.ParamSpec{
			{Name: "Name", Type: commands.ParamString, Required: true},
			{Name: "Count", Type: commands.ParamInt},
			{Name: "Force", Type: commands.ParamBool},
			{Name: "Unused", Type: commands.ParamString},
		},
	}}
	f := setupScripts(t, commands.ExecutorConfig{}, defs, map[string]string{
		"args.sh": `for a in "$@"; do printf '%s\n' "$a"; done` + "\n",
	})

	result := f.executor.Execute(context.Background(), commands.Invocation{
		CommandID:  "args",
		Parameters: map[string]any{"Force": true, "Count": float64(3), "Name": "Google Chrome"},
	}, testToken)
	require.True(t, result.Success, result.Error)

	// The token reaches the script as its own argument but is never echoed back
	require.Equal(t, strings.Join([]string{
		"-Name", "Google Chrome",
		"-Count", "3",
		"-Force:$true",
		"-AccessToken", "[REDACTED]",
	}, "\n"), result.Output)
	require.NotContains(t, f.logs.String(), testToken)
	require.Contains(t, f.logs.String(), "[REDACTED]")
}

func TestExecutor_InvalidParametersNeverSpawn(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "spawned")
	defs := []commands.Command{{
		ID:     "typed",
		Script: "typed.sh",
		Params: []commands.ParamSpec{
			{Name: "Id", Type: commands.ParamString, Required: true, Pattern: `^[a-z]+$`},
			{Name: "Mode", Type: commands.ParamString, Enum: []string{"fast", "slow"}},
			{Name: "Count", Type: commands.ParamInt},
			{Name: "Flag", Type: commands.ParamBool},
		},
	}}
	f := setupScripts(t, commands.ExecutorConfig{}, defs, map[string]string{"typed.sh": "touch " + marker + "\n"})

	cases := map[string]map[string]any{
		"missing required": {},
		"undeclared":       {"Id": "abc", "Other": "x"},
		"access token":     {"Id": "abc", "AccessToken": "forged"},
		"pattern":          {"Id": "ABC"},
		"enum":             {"Id": "abc", "Mode": "medium"},
		"fractional int":   {"Id": "abc", "Count": 1.5},
		"string for int":   {"Id": "abc", "Count": "3"},
		"string for bool":  {"Id": "abc", "Flag": "true"},
		"number as string": {"Id": 42},
		"leading dash":     {"Id": "abc", "Mode": "-fast"},
		"newline":          {"Id": "abc\n"},
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			result := f.executor.Execute(context.Background(), commands.Invocation{CommandID: "typed", Parameters: params}, testToken)
			require.False(t, result.Success)
			require.ErrorIs(t, result.Err, apperrors.ErrInvalidParameters)
		})
	}
	require.NoFileExists(t, marker)
}

func TestExecutor_NonZeroExit(t *testing.T) {
	f := setupScripts(t, commands.ExecutorConfig{},
		[]commands.Command{{ID: "stderr", Script: "stderr.sh"}, {ID: "stdout", Script: "stdout.sh"}, {ID: "silent", Script: "silent.sh"}},
		map[string]string{
			"stderr.sh": "echo progress\necho 'Connect-MgGraph: token rejected' >&2\nexit 3\n",
			"stdout.sh": "for i in 1 2 3 4 5 6 7; do echo line$i; done\nexit 1\n",
			"silent.sh": "exit 2\n",
		})

	result := f.executor.Execute(context.Background(), commands.Invocation{CommandID: "stderr"}, testToken)
	require.False(t, result.Success)
	require.Equal(t, "Connect-MgGraph: token rejected", result.Error)
	require.Equal(t, 3, result.ExitCode)
	require.ErrorIs(t, result.Err, apperrors.ErrProcessFailure)

	result = f.executor.Execute(context.Background(), commands.Invocation{CommandID: "stdout"}, testToken)
	require.False(t, result.Success)
	require.Equal(t, "line3\nline4\nline5\nline6\nline7", result.Error)

	result = f.executor.Execute(context.Background(), commands.Invocation{CommandID: "silent"}, testToken)
	require.Equal(t, "Script exited with code 2", result.Error)
	require.Equal(t, 2, result.ExitCode)
}

func TestExecutor_Timeout(t *testing.T) {
	f := setupScripts(t, commands.ExecutorConfig{Timeout: 200 * time.Millisecond},
		[]commands.Command{{ID: "hang", Script: "hang.sh"}, {ID: "own-timeout", Script: "hang.sh", Timeout: 100 * time.Millisecond}},
		map[string]string{"hang.sh": "sleep 30\n"})

	for _, id := range []string{"hang", "own-timeout"} {
		started := time.Now()
		result := f.executor.Execute(context.Background(), commands.Invocation{CommandID: id}, testToken)
		require.False(t, result.Success)
		require.Equal(t, "Timeout", result.Error)
		require.ErrorIs(t, result.Err, apperrors.ErrTimeout)
		require.Less(t, time.Since(started), 5*time.Second)
	}
}

func TestExecutor_OutputIsBounded(t *testing.T) {
	f := setupScripts(t, commands.ExecutorConfig{MaxOutputBytes: 64},
		[]commands.Command{{ID: "loud", Script: "loud.sh"}},
		map[string]string{"loud.sh": "i=0; while [ $i -lt 100 ]; do echo 0123456789; i=$((i+1)); done\n"})

	result := f.executor.Execute(context.Background(), commands.Invocation{CommandID: "loud"}, testToken)
	require.True(t, result.Success)
	require.LessOrEqual(t, len(result.Output.(string)), 64)

	result = f.executor.Execute(context.Background(), commands.Invocation{CommandID: "loud", ParseJSON: true}, testToken)
	require.Equal(t, "Malformed output", result.Error)
}

func TestExecutor_StartFailure(t *testing.T) {
	f := setupScripts(t, commands.ExecutorConfig{Shell: "/nonexistent/pwsh"},
		[]commands.Command{{ID: "any", Script: "any.sh"}},
		map[string]string{"any.sh": "exit 0\n"})

	result := f.executor.Execute(context.Background(), commands.Invocation{CommandID: "any"}, testToken)
	require.False(t, result.Success)
	require.ErrorIs(t, result.Err, apperrors.ErrProcessStartFailed)
}

func TestExecutor_MissingToken(t *testing.T) {
	f := setupScripts(t, commands.ExecutorConfig{},
		[]commands.Command{{ID: "any", Script: "any.sh"}},
		map[string]string{"any.sh": "exit 0\n"})

	result := f.executor.Execute(context.Background(), commands.Invocation{CommandID: "any"}, "")
	require.False(t, result.Success)
	require.ErrorIs(t, result.Err, apperrors.ErrNoActiveSession)
}

func TestExecutor_ValidateMatchesExecute(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "spawned")
	defs := []commands.Command{{
		ID:     "typed",
		Script: "typed.sh",
		Params: []commands.ParamSpec{{Name: "Id", Type: commands.ParamString, Required: true}},
	}}
	f := setupScripts(t, commands.ExecutorConfig{}, defs, map[string]string{"typed.sh": "touch " + marker + "\n"})

	res, ok := f.executor.Validate(commands.Invocation{CommandID: "missing"})
	require.False(t, ok)
	require.Equal(t, "Unknown command: missing", res.Error)
	require.ErrorIs(t, res.Err, apperrors.ErrUnknownCommand)

	res, ok = f.executor.Validate(commands.Invocation{CommandID: "typed"})
	require.False(t, ok)
	require.ErrorIs(t, res.Err, apperrors.ErrInvalidParameters)
	require.Equal(t, res.Error, f.executor.Execute(context.Background(), commands.Invocation{CommandID: "typed"}, testToken).Error)

	_, ok = f.executor.Validate(commands.Invocation{CommandID: "typed", Parameters: map[string]any{"Id": "abc"}})
	require.True(t, ok)
	require.NoFileExists(t, marker)
}
