package commands

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	apperrors "github.com/jrsteele09/intune-bridge/internal/errors"
)

// AccessTokenParam is the script parameter that receives the bearer token. Callers
// can never set it through Invocation.Parameters.
const AccessTokenParam = "AccessToken"

// BuildArgs validates params against the command's schema and renders them as script
// arguments in declaration order.
func (c *Command) BuildArgs(params map[string]any) ([]string, error) {
	for name := range params {
		if !slices.ContainsFunc(c.Params, func(p ParamSpec) bool { return p.Name == name }) {
			return nil, fmt.Errorf("%w: unknown parameter %q", apperrors.ErrInvalidParameters, name)
		}
	}

	args := make([]string, 0, len(params)*2)
	for _, spec := range c.Params {
		value, ok := params[spec.Name]
		if !ok || value == nil {
			if spec.Required {
				return nil, fmt.Errorf("%w: missing required parameter %q", apperrors.ErrInvalidParameters, spec.Name)
			}
			continue
		}

		rendered, err := spec.render(value)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %q: %v", apperrors.ErrInvalidParameters, spec.Name, err)
		}
		if spec.Type == ParamBool {
			args = append(args, "-"+spec.Name+":"+rendered)
			continue
		}
		args = append(args, "-"+spec.Name, rendered)
	}
	return args, nil
}

func (p ParamSpec) render(value any) (string, error) {
	switch p.Type {
	case ParamBool:
		b, ok := value.(bool)
		if !ok {
			return "", fmt.Errorf("expected bool, got %T", value)
		}
		if b {
			return "$true", nil
		}
		return "$false", nil

	case ParamInt:
		n, err := toInt(value)
		if err != nil {
			return "", err
		}
		return p.check(strconv.FormatInt(n, 10))

	default:
		s, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("expected string, got %T", value)
		}
		// A leading dash would be bound by PowerShell as another parameter name
		if strings.HasPrefix(s, "-") {
			return "", fmt.Errorf("value must not start with '-'")
		}
		if strings.ContainsAny(s, "\x00\r\n") {
			return "", fmt.Errorf("value contains control characters")
		}
		return p.check(s)
	}
}

func (p ParamSpec) check(s string) (string, error) {
	if len(p.Enum) > 0 && !slices.Contains(p.Enum, s) {
		return "", fmt.Errorf("must be one of %s", strings.Join(p.Enum, ", "))
	}
	if p.pattern != nil && !p.pattern.MatchString(s) {
		return "", fmt.Errorf("does not match %s", p.Pattern)
	}
	return s, nil
}

func toInt(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || v > math.MaxInt64 || v < math.MinInt64 {
			return 0, fmt.Errorf("expected integer, got %v", v)
		}
		return int64(v), nil
	case json.Number:
		return v.Int64()
	default:
		return 0, fmt.Errorf("expected integer, got %T", value)
	}
}
