package runbook

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"temporary-access/backend/pkg/models"
)

// DateTimeLayout is the layout of the global:DATE_TIME variable.
const DateTimeLayout = "2006-01-02_15.04.05"

const parameterTimeLayout = "2006-01-02T15:04:05"

// ErrInvalidWindow is returned when the access window is empty or inverted.
var ErrInvalidWindow = errors.New("invalid access window")

var variablePattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_:.]+)\s*\}\}`)

// ScheduleCall is one CreateSchedule request the runbook would issue.
type ScheduleCall struct {
	Step               string                 `json:"step"`
	Name               string                 `json:"name"`
	ScheduleExpression string                 `json:"schedule_expression"`
	Timezone           string                 `json:"timezone"`
	FireAt             time.Time              `json:"fire_at"`
	FunctionARN        any                    `json:"function_arn"`
	RoleARN            any                    `json:"role_arn"`
	Payload            models.SchedulePayload `json:"payload"`
}

// Plan is the dry-run outcome of a workflow execution.
type Plan struct {
	Parameters map[string]string `json:"parameters"`
	Approvers  []any             `json:"approvers"`
	Message    string            `json:"message"`
	Calls      []ScheduleCall    `json:"calls"`
}

// Plan validates params and resolves the schedule steps as if the approval
// had been granted at now.
func (d *Document) Plan(params map[string]string, now time.Time) (*Plan, error) {
	resolved, err := d.ValidateParameters(params)
	if err != nil {
		return nil, err
	}
	if err := checkPayloadInputs(resolved); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", d.Timezone, err)
	}
	start, err := time.ParseInLocation(parameterTimeLayout, resolved["StartTime"], loc)
	if err != nil {
		return nil, fmt.Errorf("%w: StartTime: %v", ErrInvalidParameter, err)
	}
	end, err := time.ParseInLocation(parameterTimeLayout, resolved["EndTime"], loc)
	if err != nil {
		return nil, fmt.Errorf("%w: EndTime: %v", ErrInvalidParameter, err)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: EndTime %s is not after StartTime %s", ErrInvalidWindow, resolved["EndTime"], resolved["StartTime"])
	}

	vars := make(map[string]string, len(resolved)+1)
	for k, v := range resolved {
		vars[k] = v
	}
	vars["global:DATE_TIME"] = now.In(loc).Format(DateTimeLayout)

	plan := &Plan{Parameters: resolved}
	if approve, ok := d.Step(StepApprove); ok {
		plan.Approvers, _ = approve.Inputs["Approvers"].([]any)
		plan.Message, _ = approve.Inputs["Message"].(string)
	}

	fireAt := map[string]time.Time{StepStartSchedule: start, StepEndSchedule: end}
	for _, step := range d.Steps {
		if step.Action != ActionExecuteAwsApi {
			continue
		}
		call, err := resolveScheduleStep(step, vars)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", step.Name, err)
		}
		call.FireAt = fireAt[step.Name]
		plan.Calls = append(plan.Calls, call)
	}
	return plan, nil
}

func resolveScheduleStep(step Step, vars map[string]string) (ScheduleCall, error) {
	str := func(v any) (string, error) {
		s, _ := v.(string)
		return Resolve(s, vars)
	}

	name, err := str(step.Inputs["Name"])
	if err != nil {
		return ScheduleCall{}, err
	}
	expr, err := str(step.Inputs["ScheduleExpression"])
	if err != nil {
		return ScheduleCall{}, err
	}
	tz, _ := step.Inputs["ScheduleExpressionTimezone"].(string)

	target, _ := step.Inputs["Target"].(map[string]any)
	input, err := str(target["Input"])
	if err != nil {
		return ScheduleCall{}, err
	}
	var payload models.SchedulePayload
	if err := json.Unmarshal([]byte(input), &payload); err != nil {
		return ScheduleCall{}, fmt.Errorf("%w: decode target input: %v", ErrInvalidParameter, err)
	}
	if err := payload.Validate(); err != nil {
		return ScheduleCall{}, fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	}

	return ScheduleCall{
		Step:               step.Name,
		Name:               name,
		ScheduleExpression: expr,
		Timezone:           tz,
		FunctionARN:        target["Arn"],
		RoleARN:            target["RoleArn"],
		Payload:            payload,
	}, nil
}

// payloadInputs are substituted verbatim into the JSON schedule input.
var payloadInputs = []string{"AccountID", "UserName"}

// checkPayloadInputs rejects values that would break the schedule input
// once substituted, i.e. quotes, backslashes and control characters.
func checkPayloadInputs(resolved map[string]string) error {
	violations := map[string]string{}
	for _, name := range payloadInputs {
		v := resolved[name]
		if strings.ContainsFunc(v, func(r rune) bool { return r == '"' || r == '\\' || r < 0x20 }) {
			violations[name] = fmt.Sprintf("%q contains characters not allowed in the schedule input", v)
		}
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// Resolve replaces {{ name }} document variables in s. Unknown variables are
// an error.
func Resolve(s string, vars map[string]string) (string, error) {
	var missing []string
	out := variablePattern.ReplaceAllStringFunc(s, func(m string) string {
		name := variablePattern.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unresolved variables %v in %q", missing, s)
	}
	return out, nil
}
