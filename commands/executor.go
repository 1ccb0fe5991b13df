package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/intune-bridge/internal/errors"
	"github.com/rs/zerolog"
)

const (
	DefaultTimeout     = 60 * time.Second
	DefaultLongTimeout = 15 * time.Minute
	defaultMaxOutput   = 1 << 20

	// waitDelay bounds how long Wait blocks on output pipes held open by orphans after a kill
	waitDelay = 2 * time.Second

	failureTailLines = 5
	redacted         = "[REDACTED]"
)

type ExecutorConfig struct {
	ScriptDir      string
	Shell          string
	ShellArgs      []string
	Timeout        time.Duration
	LongTimeout    time.Duration
	MaxOutputBytes int
}

// Executor runs whitelisted scripts with the caller's bearer token. It keeps no state
// between invocations; each call spawns one process.
type Executor struct {
	registry *Registry
	cfg      ExecutorConfig
	log      zerolog.Logger
}

func NewExecutor(registry *Registry, cfg ExecutorConfig, log zerolog.Logger) (*Executor, error) {
	if registry == nil {
		return nil, errors.New("[Executor] registry is required")
	}
	if cfg.Shell == "" {
		return nil, errors.New("[Executor] shell is required")
	}
	dir, err := filepath.Abs(cfg.ScriptDir)
	if err != nil {
		return nil, fmt.Errorf("[Executor] script dir: %w", err)
	}
	cfg.ScriptDir = dir
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.LongTimeout <= 0 {
		cfg.LongTimeout = DefaultLongTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutput
	}
	return &Executor{registry: registry, cfg: cfg, log: log.With().Str("component", "executor").Logger()}, nil
}

func (e *Executor) Registry() *Registry {
	return e.registry
}

// Validate reports the failure Execute would return without spawning anything: an unknown
// id or parameters that do not match the command's schema.
func (e *Executor) Validate(inv Invocation) (Result, bool) {
	_, _, res, ok := e.resolve(inv)
	return res, ok
}

func (e *Executor) resolve(inv Invocation) (*Command, []string, Result, bool) {
	cmd, ok := e.registry.Lookup(inv.CommandID)
	if !ok {
		return nil, nil, failure(apperrors.ErrUnknownCommand, fmt.Sprintf("Unknown command: %s", inv.CommandID)), false
	}
	args, err := cmd.BuildArgs(inv.Parameters)
	if err != nil {
		return nil, nil, failure(err, err.Error()), false
	}
	return cmd, args, Result{}, true
}

// Execute runs one invocation to completion. It never returns a Go error; every
// failure is folded into the Result.
func (e *Executor) Execute(ctx context.Context, inv Invocation, accessToken string) Result {
	cmd, args, res, ok := e.resolve(inv)
	if !ok {
		return res
	}
	if accessToken == "" {
		return failure(apperrors.ErrNoActiveSession, "Not connected to Intune")
	}

	timeout := e.timeoutFor(cmd)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := make([]string, 0, len(e.cfg.ShellArgs)+len(args)+3)
	argv = append(argv, e.cfg.ShellArgs...)
	argv = append(argv, filepath.Join(e.cfg.ScriptDir, cmd.Script))
	argv = append(argv, args...)
	argv = append(argv, "-"+AccessTokenParam, accessToken)

	log := e.log.With().Str("command", cmd.ID).Str("invocation_id", uuid.NewString()).Logger()
	stdout := newCapture(e.cfg.MaxOutputBytes, streamTo(log, "stdout", accessToken))
	stderr := newCapture(e.cfg.MaxOutputBytes, streamTo(log, "stderr", accessToken))

	// killed is set only when the context fired and a kill was actually delivered
	var killed atomic.Bool
	proc := exec.CommandContext(runCtx, e.cfg.Shell, argv...)
	proc.Dir = e.cfg.ScriptDir
	proc.Stdout = stdout
	proc.Stderr = stderr
	setProcessGroup(proc)
	proc.Cancel = func() error {
		err := killProcessTree(proc)
		if err == nil {
			killed.Store(true)
		}
		return err
	}
	proc.WaitDelay = waitDelay

	started := time.Now()
	log.Debug().Strs("params", args).Dur("timeout", timeout).Msg("starting script")
	runErr := proc.Run()
	if proc.Process != nil {
		// Background children may outlive a script that exited on its own
		reapProcessGroup(proc)
	}
	stdout.flush()
	stderr.flush()
	elapsed := time.Since(started)

	if killed.Load() && !exitedOnItsOwn(proc.ProcessState) {
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Msg("script cancelled")
			return failure(fmt.Errorf("%w: %v", apperrors.ErrProcessFailure, ctx.Err()), "Cancelled")
		}
		log.Warn().Dur("elapsed", elapsed).Msg("script timed out and was killed")
		return failure(apperrors.ErrTimeout, "Timeout")
	}

	if proc.ProcessState == nil {
		log.Error().Err(runErr).Msg("failed to start script")
		return failure(fmt.Errorf("%w: %v", apperrors.ErrProcessStartFailed, runErr), "Failed to start script")
	}
	if errors.Is(runErr, exec.ErrWaitDelay) {
		log.Warn().Msg("script exited but background processes held its output open")
	}

	exitCode := proc.ProcessState.ExitCode()
	log.Debug().Int("exit_code", exitCode).Dur("elapsed", elapsed).Bool("stdout_truncated", stdout.truncated).Msg("script finished")

	if exitCode != 0 {
		message := redact(stderr.text(), accessToken)
		if message == "" {
			message = redact(lastLines(stdout.text(), failureTailLines), accessToken)
		}
		if message == "" {
			message = fmt.Sprintf("Script exited with code %d", exitCode)
		}
		r := failure(apperrors.ErrProcessFailure, message)
		r.ExitCode = exitCode
		return r
	}

	output := redact(stdout.text(), accessToken)
	if !inv.ParseJSON {
		return Result{Success: true, Output: output}
	}
	var parsed any
	if stdout.truncated || json.Unmarshal([]byte(output), &parsed) != nil {
		r := failure(apperrors.ErrMalformedOutput, "Malformed output")
		r.ExitCode = exitCode
		return r
	}
	return Result{Success: true, Output: parsed}
}

func (e *Executor) timeoutFor(cmd *Command) time.Duration {
	switch {
	case cmd.Timeout > 0:
		return cmd.Timeout
	case cmd.LongRunning:
		return e.cfg.LongTimeout
	default:
		return e.cfg.Timeout
	}
}

func failure(err error, message string) Result {
	return Result{Success: false, Error: message, ExitCode: -1, Err: err}
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, redacted)
}

func streamTo(log zerolog.Logger, stream, secret string) func(string) {
	return func(line string) {
		log.Debug().Str("stream", stream).Msg(redact(line, secret))
	}
}
