package commands

import (
	"regexp"
	"time"
)

type ParamType string

const (
	ParamString ParamType = "string"
	ParamInt    ParamType = "int"
	ParamBool   ParamType = "bool"
)

// ParamSpec declares one script parameter. Parameters are passed to the script in
// declaration order as -Name value.
type ParamSpec struct {
	Name     string    `yaml:"name" json:"name"`
	Type     ParamType `yaml:"type" json:"type"`
	Required bool      `yaml:"required" json:"required"`
	Enum     []string  `yaml:"enum" json:"enum,omitempty"`
	Pattern  string    `yaml:"pattern" json:"pattern,omitempty"`

	pattern *regexp.Regexp
}

// Command maps a logical id onto a script in the script directory
type Command struct {
	ID          string        `yaml:"id" json:"id"`
	Description string        `yaml:"description" json:"description,omitempty"`
	Script      string        `yaml:"script" json:"-"`
	Params      []ParamSpec   `yaml:"params" json:"params"`
	Timeout     time.Duration `yaml:"timeout" json:"-"`
	LongRunning bool          `yaml:"long_running" json:"long_running,omitempty"`
}

// Invocation is a caller's request to run a command
type Invocation struct {
	CommandID  string
	Parameters map[string]any
	ParseJSON  bool
}

// Result is the outcome of an invocation. Command-level failures are reported here,
// never as a Go error.
type Result struct {
	Success  bool   `json:"success"`
	Output   any    `json:"output"`
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exit_code"`

	// Err carries the taxonomy error behind a failure
	Err error `json:"-"`
}
