// Package cfn models the subset of a CloudFormation template the stack
// synthesizer emits: resources, parameters, outputs and the intrinsic
// functions used to link resources together by logical identifier.
package cfn

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// FormatVersion is the only template format version CloudFormation accepts.
const FormatVersion = "2010-09-09"

var (
	// ErrDuplicateResource is returned when a logical ID is declared twice.
	ErrDuplicateResource = errors.New("duplicate logical id")
	// ErrInvalidLogicalID is returned for IDs that are not alphanumeric.
	ErrInvalidLogicalID = errors.New("invalid logical id")
	// ErrDanglingReference is returned when Ref/GetAtt names an undeclared resource.
	ErrDanglingReference = errors.New("dangling reference")
)

var logicalIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,255}$`)

// Resource is a single entry of the Resources section.
type Resource struct {
	Type       string         `json:"Type" yaml:"Type"`
	Properties map[string]any `json:"Properties,omitempty" yaml:"Properties,omitempty"`
	DependsOn  []string       `json:"DependsOn,omitempty" yaml:"DependsOn,omitempty"`
}

// Parameter is a template parameter declaration.
type Parameter struct {
	Type        string `json:"Type" yaml:"Type"`
	Default     string `json:"Default,omitempty" yaml:"Default,omitempty"`
	Description string `json:"Description,omitempty" yaml:"Description,omitempty"`
}

// Output is a stack output.
type Output struct {
	Description string `json:"Description,omitempty" yaml:"Description,omitempty"`
	Value       any    `json:"Value" yaml:"Value"`
}

// Template is a CloudFormation template under construction.
type Template struct {
	AWSTemplateFormatVersion string               `json:"AWSTemplateFormatVersion" yaml:"AWSTemplateFormatVersion"`
	Description              string               `json:"Description,omitempty" yaml:"Description,omitempty"`
	Parameters               map[string]Parameter `json:"Parameters,omitempty" yaml:"Parameters,omitempty"`
	Resources                map[string]*Resource `json:"Resources" yaml:"Resources"`
	Outputs                  map[string]Output    `json:"Outputs,omitempty" yaml:"Outputs,omitempty"`
}

// New returns an empty template.
func New(description string) *Template {
	return &Template{
		AWSTemplateFormatVersion: FormatVersion,
		Description:              description,
		Resources:                map[string]*Resource{},
	}
}

// AddResource declares a resource under the given logical ID.
func (t *Template) AddResource(id string, r *Resource) error {
	if !logicalIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidLogicalID, id)
	}
	if _, ok := t.Resources[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateResource, id)
	}
	t.Resources[id] = r
	return nil
}

// AddParameter declares a template parameter.
func (t *Template) AddParameter(id string, p Parameter) error {
	if !logicalIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidLogicalID, id)
	}
	if t.Parameters == nil {
		t.Parameters = map[string]Parameter{}
	}
	if _, ok := t.Parameters[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateResource, id)
	}
	t.Parameters[id] = p
	return nil
}

// AddOutput declares a stack output.
func (t *Template) AddOutput(id string, o Output) error {
	if !logicalIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidLogicalID, id)
	}
	if t.Outputs == nil {
		t.Outputs = map[string]Output{}
	}
	t.Outputs[id] = o
	return nil
}

// References returns, for every resource, the sorted set of logical IDs it
// points at through Ref or Fn::GetAtt. Pseudo parameters are skipped.
func (t *Template) References() map[string][]string {
	refs := make(map[string][]string, len(t.Resources))
	for id, r := range t.Resources {
		seen := map[string]bool{}
		collectRefs(r.Properties, seen)
		for _, dep := range r.DependsOn {
			seen[dep] = true
		}
		refs[id] = sortedKeys(seen)
	}
	return refs
}

// Validate checks that every reference resolves to a declared resource or
// parameter.
func (t *Template) Validate() error {
	var errs []error
	check := func(owner string, v any) {
		seen := map[string]bool{}
		collectRefs(v, seen)
		for _, target := range sortedKeys(seen) {
			if _, ok := t.Resources[target]; ok {
				continue
			}
			if _, ok := t.Parameters[target]; ok {
				continue
			}
			errs = append(errs, fmt.Errorf("%w: %s -> %s", ErrDanglingReference, owner, target))
		}
	}
	for _, id := range sortedKeys(t.Resources) {
		r := t.Resources[id]
		check(id, r.Properties)
		for _, dep := range r.DependsOn {
			if _, ok := t.Resources[dep]; !ok {
				errs = append(errs, fmt.Errorf("%w: %s -> %s", ErrDanglingReference, id, dep))
			}
		}
	}
	for _, id := range sortedKeys(t.Outputs) {
		check("Outputs."+id, t.Outputs[id].Value)
	}
	return errors.Join(errs...)
}

// JSON renders the template as indented JSON.
func (t *Template) JSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t); err != nil {
		return nil, fmt.Errorf("encode template json: %w", err)
	}
	return buf.Bytes(), nil
}

// YAML renders the template as YAML with a two-space indent.
func (t *Template) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(t); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("encode template yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close yaml encoder: %w", err)
	}
	return buf.Bytes(), nil
}

func collectRefs(v any, seen map[string]bool) {
	switch x := v.(type) {
	case map[string]any:
		if len(x) == 1 {
			if target, ok := x["Ref"].(string); ok {
				if !isPseudoParameter(target) {
					seen[target] = true
				}
				return
			}
			if args, ok := x["Fn::GetAtt"].([]string); ok && len(args) == 2 {
				seen[args[0]] = true
				return
			}
		}
		for _, child := range x {
			collectRefs(child, seen)
		}
	case []any:
		for _, child := range x {
			collectRefs(child, seen)
		}
	case []map[string]any:
		for _, child := range x {
			collectRefs(child, seen)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
