// Package runbook builds the Automation document that drives a temporary
// access request: a manual approval gate followed by two one-time schedules
// that grant and later revoke access through the compute function.
package runbook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"temporary-access/backend/pkg/models"
)

const (
	SchemaVersion = "0.3"

	DefaultName        = "TemporaryPrivilegeWorkflow"
	DefaultDescription = "Temporary Privilege Workflow for IAM Identity Center."
	DefaultTimezone    = "Asia/Tokyo"
	DefaultMessage     = "Do you approve?"

	UpdateMethodNewVersion = "NewVersion"

	ActionApprove       = "aws:approve"
	ActionExecuteAwsApi = "aws:executeAwsApi"
	OnFailureAbort      = "Abort"

	StepApprove       = "approve"
	StepStartSchedule = "startschduler"
	StepEndSchedule   = "endschduler"

	// TimestampPattern is the allowed pattern of StartTime and EndTime.
	TimestampPattern = `^[0-9]{4}-(0[1-9]|1[0-2])-(0[1-9]|[12][0-9]|3[01])T([01][0-9]|2[0-3]):[0-5][0-9]:[0-5][0-9]$`
	// AccountIDPattern is the allowed pattern of AccountID.
	AccountIDPattern = `[0-9]{12}`
)

// Refs links the document to the resources it drives. Values are either
// literal strings or template intrinsics resolved at deploy time.
type Refs struct {
	AutomationRoleARN any
	ApproverARN       any
	TopicARN          any
	FunctionARN       any
	SchedulerRoleARN  any
}

// Options tune the generated document.
type Options struct {
	Name        string
	Description string
	Timezone    string
	Message     string
	Tags        map[string]string
}

// Input is a document parameter.
type Input struct {
	Name           string
	Type           string
	Default        string
	AllowedPattern string
	Description    string

	pattern *regexp.Regexp
}

// Output is a value selected from a step response.
type Output struct {
	Name     string `yaml:"Name" json:"Name"`
	Selector string `yaml:"Selector" json:"Selector"`
	Type     string `yaml:"Type" json:"Type"`
}

// Step is one entry of mainSteps.
type Step struct {
	Name      string
	Action    string
	OnFailure string
	IsEnd     bool
	Inputs    map[string]any
	Outputs   []Output
}

// Document is the Automation runbook.
type Document struct {
	Name         string
	Description  string
	UpdateMethod string
	Timezone     string
	Tags         map[string]string
	AssumeRole   any
	Inputs       []Input
	Steps        []Step
}

// New assembles the temporary access runbook.
func New(refs Refs, opts Options) (*Document, error) {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Description == "" {
		opts.Description = DefaultDescription
	}
	if opts.Timezone == "" {
		opts.Timezone = DefaultTimezone
	}
	if opts.Message == "" {
		opts.Message = DefaultMessage
	}

	inputs := []Input{
		{
			Name:           "StartTime",
			Type:           "String",
			Default:        "2022-11-20T13:00:00",
			AllowedPattern: TimestampPattern,
			Description:    "(Required) Specify authority use start time.",
		},
		{
			Name:           "EndTime",
			Type:           "String",
			Default:        "2022-11-20T13:00:00",
			AllowedPattern: TimestampPattern,
			Description:    "(Required) Specify authority use end time.",
		},
		{
			Name:           "AccountID",
			Type:           "String",
			Default:        "123456789012",
			AllowedPattern: AccountIDPattern,
			Description:    "(Required) AWS account ID you wish to login with.",
		},
		{
			Name:        "UserName",
			Type:        "String",
			Default:     "test",
			Description: "(Required) User name used for identitycenter login.",
		},
	}
	for i := range inputs {
		if inputs[i].AllowedPattern == "" {
			continue
		}
		re, err := regexp.Compile(inputs[i].AllowedPattern)
		if err != nil {
			return nil, fmt.Errorf("compile pattern of %s: %w", inputs[i].Name, err)
		}
		inputs[i].pattern = re
	}

	start, err := scheduleStep(StepStartSchedule, "StartAccountLinking", "StartTime", models.ActionCreate, refs, opts.Timezone)
	if err != nil {
		return nil, err
	}
	end, err := scheduleStep(StepEndSchedule, "EndAccountLinking", "EndTime", models.ActionDelete, refs, opts.Timezone)
	if err != nil {
		return nil, err
	}
	end.IsEnd = true

	return &Document{
		Name:         opts.Name,
		Description:  opts.Description,
		UpdateMethod: UpdateMethodNewVersion,
		Timezone:     opts.Timezone,
		Tags:         opts.Tags,
		AssumeRole:   refs.AutomationRoleARN,
		Inputs:       inputs,
		Steps: []Step{
			{
				Name:      StepApprove,
				Action:    ActionApprove,
				OnFailure: OnFailureAbort,
				Inputs: map[string]any{
					"Approvers":       []any{refs.ApproverARN},
					"NotificationArn": refs.TopicARN,
					"Message":         opts.Message,
				},
			},
			start,
			end,
		},
	}, nil
}

func scheduleStep(name, prefix, timeParam string, action models.Action, refs Refs, tz string) (Step, error) {
	input, err := payloadTemplate(action)
	if err != nil {
		return Step{}, err
	}
	return Step{
		Name:   name,
		Action: ActionExecuteAwsApi,
		Inputs: map[string]any{
			"Service": "scheduler",
			"Api":     "CreateSchedule",
			"Name":    prefix + "{{global:DATE_TIME}}",
			"FlexibleTimeWindow": map[string]any{
				"Mode": "OFF",
			},
			"ScheduleExpression":         "at({{" + timeParam + "}})",
			"ScheduleExpressionTimezone": tz,
			"Target": map[string]any{
				"Arn":     refs.FunctionARN,
				"RoleArn": refs.SchedulerRoleARN,
				"Input":   input,
			},
		},
		Outputs: []Output{{Name: "ScheduleArn", Selector: "$.ScheduleArn", Type: "String"}},
	}, nil
}

// payloadTemplate renders the schedule input with document variables in
// place of the account and user.
func payloadTemplate(action models.Action) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(models.SchedulePayload{
		AccountID:    "{{AccountID}}",
		UserName:     "{{UserName}}",
		Action:       action,
		SchedulerARN: models.ScheduleARNPlaceholder,
	})
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", action, err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// Step returns the named step.
func (d *Document) Step(name string) (Step, bool) {
	for _, s := range d.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

// Content returns the document body as a generic tree. Reference values are
// kept as-is, so the tree may hold template intrinsics.
func (d *Document) Content() map[string]any {
	params := make(map[string]any, len(d.Inputs))
	for _, in := range d.Inputs {
		p := map[string]any{
			"type":        in.Type,
			"description": in.Description,
		}
		if in.Default != "" {
			p["default"] = in.Default
		}
		if in.AllowedPattern != "" {
			p["allowedPattern"] = in.AllowedPattern
		}
		params[in.Name] = p
	}

	steps := make([]any, 0, len(d.Steps))
	for _, s := range d.Steps {
		step := map[string]any{
			"name":   s.Name,
			"action": s.Action,
			"inputs": s.Inputs,
		}
		if s.OnFailure != "" {
			step["onFailure"] = s.OnFailure
		}
		if s.IsEnd {
			step["isEnd"] = true
		}
		if len(s.Outputs) > 0 {
			outs := make([]any, 0, len(s.Outputs))
			for _, o := range s.Outputs {
				outs = append(outs, map[string]any{"Name": o.Name, "Selector": o.Selector, "Type": o.Type})
			}
			step["outputs"] = outs
		}
		steps = append(steps, step)
	}

	return map[string]any{
		"schemaVersion": SchemaVersion,
		"description":   d.Description,
		"assumeRole":    d.AssumeRole,
		"parameters":    params,
		"mainSteps":     steps,
	}
}

// Render returns the document body as YAML. Reference values that are not
// plain strings are written as ${Token[n]} placeholders; use Expression to
// obtain a template value that resolves them.
func (d *Document) Render() ([]byte, error) {
	body, _, err := d.tokenized()
	return body, err
}

// Expression returns the document body as a template value: a plain string
// when every reference is literal, otherwise an Fn::Join over the rendered
// YAML with the placeholders replaced by their intrinsics.
func (d *Document) Expression() (any, error) {
	body, tokens, err := d.tokenized()
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return string(body), nil
	}
	return joinTokens(string(body), tokens)
}

// TagList returns the document tags in key order.
func (d *Document) TagList() []map[string]string {
	keys := make([]string, 0, len(d.Tags))
	for k := range d.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tags := make([]map[string]string, 0, len(keys))
	for _, k := range keys {
		tags = append(tags, map[string]string{"Key": k, "Value": d.Tags[k]})
	}
	return tags
}

func (d *Document) tokenized() ([]byte, []any, error) {
	var tokens []any
	content := tokenize(d.Content(), &tokens)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(content); err != nil {
		_ = enc.Close()
		return nil, nil, fmt.Errorf("encode runbook yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, nil, fmt.Errorf("close yaml encoder: %w", err)
	}
	return buf.Bytes(), tokens, nil
}
