package commands

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

const guidPattern = `^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`

// builtinCommands is the closed set of scripts shipped in the script directory
var builtinCommands = []Command{
	{
		ID:          "winget-search",
		Description: "Search the winget repository for packages",
		Script:      "Search-Winget.ps1",
		Params: []ParamSpec{
			{Name: "Query", Type: ParamString, Required: true, Pattern: `^[\w .+#@-]{1,100}$`},
		},
	},
	{
		ID:          "get-intune-apps",
		Description: "List mobile apps in the tenant",
		Script:      "Get-IntuneApps.ps1",
		Params: []ParamSpec{
			{Name: "Filter", Type: ParamString},
			{Name: "Top", Type: ParamInt},
		},
	},
	{
		ID:          "get-tenant-info",
		Description: "Show the signed-in tenant's organization details",
		Script:      "Get-TenantInfo.ps1",
	},
	{
		ID:          "upload-win32-app",
		Description: "Create a Win32 app from a prepared .intunewin package",
		Script:      "Upload-Win32App.ps1",
		LongRunning: true,
		Params: []ParamSpec{
			{Name: "DisplayName", Type: ParamString, Required: true},
			{Name: "PackagePath", Type: ParamString, Required: true, Pattern: `(?i)^[^<>|"]+\.intunewin$`},
			{Name: "InstallCommand", Type: ParamString, Required: true},
			{Name: "UninstallCommand", Type: ParamString, Required: true},
			{Name: "Publisher", Type: ParamString},
			{Name: "Description", Type: ParamString},
			{Name: "WingetId", Type: ParamString},
		},
	},
	{
		ID:          "assign-app",
		Description: "Assign an app to an Entra ID group",
		Script:      "Assign-App.ps1",
		Params: []ParamSpec{
			{Name: "AppId", Type: ParamString, Required: true, Pattern: guidPattern},
			{Name: "GroupId", Type: ParamString, Required: true, Pattern: guidPattern},
			{Name: "Intent", Type: ParamString, Required: true, Enum: []string{"required", "available", "uninstall"}},
			{Name: "Notify", Type: ParamBool},
		},
	},
	{
		ID:          "disconnect",
		Description: "Close the script's Graph connection",
		Script:      "Disconnect-Intune.ps1",
	},
}

// Registry is the whitelist of runnable commands
type Registry struct {
	commands map[string]*Command
	order    []string
}

// NewRegistry validates the definitions and fails on duplicate ids, unsafe script
// paths or bad parameter schemas.
func NewRegistry(defs ...Command) (*Registry, error) {
	r := &Registry{commands: make(map[string]*Command, len(defs))}
	for i := range defs {
		cmd := defs[i]
		if err := prepare(&cmd); err != nil {
			return nil, fmt.Errorf("command %q: %w", cmd.ID, err)
		}
		if _, dup := r.commands[cmd.ID]; dup {
			return nil, fmt.Errorf("command %q: defined twice", cmd.ID)
		}
		r.commands[cmd.ID] = &cmd
		r.order = append(r.order, cmd.ID)
	}
	return r, nil
}

// DefaultRegistry returns the built-in commands
func DefaultRegistry() *Registry {
	r, err := NewRegistry(builtinCommands...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Lookup(id string) (*Command, bool) {
	cmd, ok := r.commands[id]
	return cmd, ok
}

// List returns the commands in definition order
func (r *Registry) List() []Command {
	list := make([]Command, 0, len(r.order))
	for _, id := range r.order {
		list = append(list, *r.commands[id])
	}
	return list
}

func prepare(cmd *Command) error {
	if strings.TrimSpace(cmd.ID) == "" {
		return fmt.Errorf("missing id")
	}
	if !filepath.IsLocal(cmd.Script) {
		return fmt.Errorf("script %q must be a relative path inside the script directory", cmd.Script)
	}
	if cmd.Timeout < 0 {
		return fmt.Errorf("negative timeout")
	}

	params := make([]ParamSpec, len(cmd.Params))
	seen := make(map[string]bool, len(cmd.Params))
	for i, p := range cmd.Params {
		if p.Name == "" || strings.EqualFold(p.Name, AccessTokenParam) {
			return fmt.Errorf("invalid parameter name %q", p.Name)
		}
		if seen[strings.ToLower(p.Name)] {
			return fmt.Errorf("parameter %q declared twice", p.Name)
		}
		seen[strings.ToLower(p.Name)] = true

		switch p.Type {
		case "":
			p.Type = ParamString
		case ParamString, ParamInt, ParamBool:
		default:
			return fmt.Errorf("parameter %q: unsupported type %q", p.Name, p.Type)
		}
		if p.Pattern != "" {
			re, err := regexp.Compile(p.Pattern)
			if err != nil {
				return fmt.Errorf("parameter %q: %w", p.Name, err)
			}
			p.pattern = re
		}
		p.Enum = slices.Clone(p.Enum)
		params[i] = p
	}
	cmd.Params = params
	return nil
}
