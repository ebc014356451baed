package runbook

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidParameter is wrapped by every parameter validation failure.
var ErrInvalidParameter = errors.New("invalid parameter")

// ValidationError lists every parameter that failed validation.
type ValidationError struct {
	Violations map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Violations))
	for n := range e.Violations {
		names = append(names, n)
	}
	sort.Strings(names)
	msgs := make([]string, 0, len(names))
	for _, n := range names {
		msgs = append(msgs, n+": "+e.Violations[n])
	}
	return "invalid parameters: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidParameter }

// ValidateParameters applies defaults to params and matches every value
// against its allowed pattern. Unknown parameter names are rejected. The
// returned map holds the effective value of every input.
func (d *Document) ValidateParameters(params map[string]string) (map[string]string, error) {
	known := make(map[string]bool, len(d.Inputs))
	resolved := make(map[string]string, len(d.Inputs))
	violations := map[string]string{}

	for _, in := range d.Inputs {
		known[in.Name] = true
		v, ok := params[in.Name]
		if !ok {
			v = in.Default
		}
		resolved[in.Name] = v
		if v == "" {
			violations[in.Name] = "value is required"
			continue
		}
		if in.pattern != nil && !in.pattern.MatchString(v) {
			violations[in.Name] = fmt.Sprintf("%q does not match %s", v, in.AllowedPattern)
		}
	}
	for name := range params {
		if !known[name] {
			violations[name] = "unknown parameter"
		}
	}

	if len(violations) > 0 {
		return resolved, &ValidationError{Violations: violations}
	}
	return resolved, nil
}
