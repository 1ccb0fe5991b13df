package config

import (
	"strings"
	"time"
)

const (
	scriptDirVar          = "SCRIPT_DIR"
	powershellPathVar     = "POWERSHELL_PATH"
	powershellArgsVar     = "POWERSHELL_ARGS"
	commandCatalogVar     = "COMMAND_CATALOG"
	commandTimeoutVar     = "COMMAND_TIMEOUT_SECONDS"
	longCommandTimeoutVar = "LONG_COMMAND_TIMEOUT_SECONDS"
	maxOutputBytesVar     = "MAX_OUTPUT_BYTES"
)

type ExecutorConfig interface {
	GetScriptDir() string
	GetShell() string
	GetShellArgs() []string
	GetCommandCatalogPath() string
	GetCommandTimeout() time.Duration
	GetLongCommandTimeout() time.Duration
	GetMaxOutputBytes() int
}

type Executor struct{}

var _ ExecutorConfig = Executor{}

func (Executor) GetScriptDir() string {
	return GetEnv(scriptDirVar, "./scripts")
}

func (Executor) GetShell() string {
	return GetEnv(powershellPathVar, "pwsh")
}

func (Executor) GetShellArgs() []string {
	args := GetEnv(powershellArgsVar, "")
	if args == "" {
		return []string{"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-File"}
	}
	return strings.Fields(args)
}

// GetCommandCatalogPath points at an optional YAML file replacing the built-in commands
func (Executor) GetCommandCatalogPath() string {
	return GetEnv(commandCatalogVar, "")
}

func (Executor) GetCommandTimeout() time.Duration {
	return GetEnvSeconds(commandTimeoutVar, 60*time.Second)
}

// GetLongCommandTimeout applies to upload-bearing commands
func (Executor) GetLongCommandTimeout() time.Duration {
	return GetEnvSeconds(longCommandTimeoutVar, 15*time.Minute)
}

func (Executor) GetMaxOutputBytes() int {
	return GetEnvInt(maxOutputBytesVar, 1<<20)
}
