package runbook

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"temporary-access/backend/pkg/models"
)

func literalRefs() Refs {
	return Refs{
		AutomationRoleARN: "arn:aws:iam::111122223333:role/automation",
		ApproverARN:       "arn:aws:iam::111122223333:role/approver",
		TopicARN:          "arn:aws:sns:ap-northeast-1:111122223333:AutomationSnsTopic",
		FunctionARN:       "arn:aws:lambda:ap-northeast-1:111122223333:function:grant",
		SchedulerRoleARN:  "arn:aws:iam::111122223333:role/scheduler",
	}
}

func newDoc(t *testing.T) *Document {
	t.Helper()
	doc, err := New(literalRefs(), Options{Tags: map[string]string{"myTag": "myValue"}})
	require.NoError(t, err)
	return doc
}

func TestNew_Defaults(t *testing.T) {
	doc := newDoc(t)

	assert.Equal(t, DefaultName, doc.Name)
	assert.Equal(t, DefaultDescription, doc.Description)
	assert.Equal(t, UpdateMethodNewVersion, doc.UpdateMethod)
	assert.Equal(t, DefaultTimezone, doc.Timezone)
	assert.Equal(t, []map[string]string{{"Key": "myTag", "Value": "myValue"}}, doc.TagList())

	names := make([]string, 0, len(doc.Steps))
	for _, s := range doc.Steps {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{StepApprove, StepStartSchedule, StepEndSchedule}, names)
}

func TestNew_ApproveStep(t *testing.T) {
	doc := newDoc(t)
	step, ok := doc.Step(StepApprove)
	require.True(t, ok)

	assert.Equal(t, ActionApprove, step.Action)
	assert.Equal(t, OnFailureAbort, step.OnFailure)
	assert.False(t, step.IsEnd)
	assert.Equal(t, []any{"arn:aws:iam::111122223333:role/approver"}, step.Inputs["Approvers"])
	assert.Equal(t, literalRefs().TopicARN, step.Inputs["NotificationArn"])
	assert.Equal(t, DefaultMessage, step.Inputs["Message"])
}

func TestNew_ScheduleSteps(t *testing.T) {
	doc := newDoc(t)

	start, ok := doc.Step(StepStartSchedule)
	require.True(t, ok)
	assert.Equal(t, ActionExecuteAwsApi, start.Action)
	assert.Equal(t, "StartAccountLinking{{global:DATE_TIME}}", start.Inputs["Name"])
	assert.Equal(t, "at({{StartTime}})", start.Inputs["ScheduleExpression"])
	assert.Equal(t, "Asia/Tokyo", start.Inputs["ScheduleExpressionTimezone"])
	assert.False(t, start.IsEnd)
	target := start.Inputs["Target"].(map[string]any)
	assert.Equal(t,
		`{"accountid":"{{AccountID}}","username":"{{UserName}}","action":"create","schedulerarn":"<aws.scheduler.schedule-arn>"}`,
		target["Input"])
	assert.Equal(t, []Output{{Name: "ScheduleArn", Selector: "$.ScheduleArn", Type: "String"}}, start.Outputs)

	end, ok := doc.Step(StepEndSchedule)
	require.True(t, ok)
	assert.True(t, end.IsEnd)
	assert.Equal(t, "EndAccountLinking{{global:DATE_TIME}}", end.Inputs["Name"])
	assert.Equal(t, "at({{EndTime}})", end.Inputs["ScheduleExpression"])
	assert.Contains(t, end.Inputs["Target"].(map[string]any)["Input"], `"action":"delete"`)
}

func TestRender_LiteralRefs(t *testing.T) {
	doc := newDoc(t)
	body, err := doc.Render()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(body, &decoded))
	assert.Equal(t, SchemaVersion, decoded["schemaVersion"])
	assert.Equal(t, literalRefs().AutomationRoleARN, decoded["assumeRole"])

	params := decoded["parameters"].(map[string]any)
	account := params["AccountID"].(map[string]any)
	assert.Equal(t, AccountIDPattern, account["allowedPattern"])
	assert.Equal(t, "123456789012", account["default"])
	_, hasPattern := params["UserName"].(map[string]any)["allowedPattern"]
	assert.False(t, hasPattern)

	steps := decoded["mainSteps"].([]any)
	require.Len(t, steps, 3)
	assert.Equal(t, "Abort", steps[0].(map[string]any)["onFailure"])
	assert.Equal(t, true, steps[2].(map[string]any)["isEnd"])

	expr, err := doc.Expression()
	require.NoError(t, err)
	assert.Equal(t, string(body), expr)
}

func TestExpression_Intrinsics(t *testing.T) {
	refs := literalRefs()
	refs.AutomationRoleARN = map[string]any{"Fn::GetAtt": []string{"AutomationRole", "Arn"}}
	refs.TopicARN = map[string]any{"Ref": "Topic"}
	doc, err := New(refs, Options{})
	require.NoError(t, err)

	body, err := doc.Render()
	require.NoError(t, err)
	assert.Contains(t, string(body), "${Token[")

	expr, err := doc.Expression()
	require.NoError(t, err)
	join := expr.(map[string]any)["Fn::Join"].([]any)
	assert.Equal(t, "", join[0])
	parts := join[1].([]any)

	var intrinsics []any
	var text strings.Builder
	for _, p := range parts {
		if s, ok := p.(string); ok {
			text.WriteString(s)
			continue
		}
		intrinsics = append(intrinsics, p)
	}
	assert.Len(t, intrinsics, 2)
	assert.Contains(t, intrinsics, refs.TopicARN)
	assert.Contains(t, intrinsics, refs.AutomationRoleARN)
	assert.NotContains(t, text.String(), "${Token[")
}

func TestRender_IntrinsicsAreReproducible(t *testing.T) {
	refs := Refs{
		AutomationRoleARN: map[string]any{"Fn::GetAtt": []string{"AutomationRole", "Arn"}},
		ApproverARN:       "arn:aws:iam::111122223333:role/approver",
		TopicARN:          map[string]any{"Ref": "Topic"},
		FunctionARN:       map[string]any{"Fn::GetAtt": []string{"Function", "Arn"}},
		SchedulerRoleARN:  map[string]any{"Fn::GetAtt": []string{"SchedulerRole", "Arn"}},
	}
	doc, err := New(refs, Options{})
	require.NoError(t, err)

	first, err := doc.Render()
	require.NoError(t, err)
	firstExpr, err := doc.Expression()
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		body, err := doc.Render()
		require.NoError(t, err)
		require.Equal(t, string(first), string(body))
		expr, err := doc.Expression()
		require.NoError(t, err)
		require.Equal(t, firstExpr, expr)
	}
}

func TestValidateParameters(t *testing.T) {
	doc := newDoc(t)

	resolved, err := doc.ValidateParameters(map[string]string{
		"StartTime": "2024-04-01T09:00:00",
		"EndTime":   "2024-04-01T18:00:00",
		"AccountID": "111122223333",
		"UserName":  "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", resolved["UserName"])

	resolved, err = doc.ValidateParameters(nil)
	require.NoError(t, err)
	assert.Equal(t, "2022-11-20T13:00:00", resolved["StartTime"])
	assert.Equal(t, "test", resolved["UserName"])

	_, err = doc.ValidateParameters(map[string]string{
		"StartTime": "2024-13-01T09:00:00",
		"EndTime":   "2024-04-01T24:00:00",
		"AccountID": "12345",
		"UserName":  "",
		"Role":      "admin",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Violations, 5)
	assert.Equal(t, "unknown parameter", verr.Violations["Role"])
	assert.Equal(t, "value is required", verr.Violations["UserName"])
}

func TestValidateParameters_AccountIDPatternIsUnanchored(t *testing.T) {
	doc := newDoc(t)
	_, err := doc.ValidateParameters(map[string]string{"AccountID": "acct-111122223333"})
	assert.NoError(t, err)
}

func TestPlan(t *testing.T) {
	doc := newDoc(t)
	now := time.Date(2024, 3, 31, 23, 59, 58, 0, time.UTC)

	plan, err := doc.Plan(models.AccessRequest{
		StartTime: "2024-04-01T09:00:00",
		EndTime:   "2024-04-01T18:00:00",
		AccountID: "111122223333",
		UserName:  "alice",
	}.Parameters(), now)
	require.NoError(t, err)

	assert.Equal(t, DefaultMessage, plan.Message)
	assert.Equal(t, []any{literalRefs().ApproverARN}, plan.Approvers)
	require.Len(t, plan.Calls, 2)

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	grant := plan.Calls[0]
	assert.Equal(t, StepStartSchedule, grant.Step)
	assert.Equal(t, "StartAccountLinking2024-04-01_08.59.58", grant.Name)
	assert.Equal(t, "at(2024-04-01T09:00:00)", grant.ScheduleExpression)
	assert.Equal(t, time.Date(2024, 4, 1, 9, 0, 0, 0, tokyo), grant.FireAt)
	assert.Equal(t, models.SchedulePayload{
		AccountID:    "111122223333",
		UserName:     "alice",
		Action:       models.ActionCreate,
		SchedulerARN: models.ScheduleARNPlaceholder,
	}, grant.Payload)
	assert.Equal(t, literalRefs().FunctionARN, grant.FunctionARN)
	assert.Equal(t, literalRefs().SchedulerRoleARN, grant.RoleARN)

	revoke := plan.Calls[1]
	assert.Equal(t, "EndAccountLinking2024-04-01_08.59.58", revoke.Name)
	assert.Equal(t, models.ActionDelete, revoke.Payload.Action)
	assert.Equal(t, time.Date(2024, 4, 1, 18, 0, 0, 0, tokyo), revoke.FireAt)
}

func TestPlan_RejectsInvertedWindow(t *testing.T) {
	doc := newDoc(t)
	_, err := doc.Plan(map[string]string{
		"StartTime": "2024-04-01T18:00:00",
		"EndTime":   "2024-04-01T09:00:00",
	}, time.Now())
	assert.ErrorIs(t, err, ErrInvalidWindow)

	// document defaults have StartTime == EndTime
	_, err = doc.Plan(nil, time.Now())
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestPlan_RejectsValuesThatBreakTheScheduleInput(t *testing.T) {
	doc := newDoc(t)
	for _, user := range []string{`al"ice`, `al\ice`, "al\nice"} {
		_, err := doc.Plan(map[string]string{
			"StartTime": "2024-04-01T09:00:00",
			"EndTime":   "2024-04-01T18:00:00",
			"AccountID": "111122223333",
			"UserName":  user,
		}, time.Now())
		require.ErrorIs(t, err, ErrInvalidParameter, user)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Contains(t, verr.Violations, "UserName")
	}

	// passes the unanchored runbook pattern but not the payload contract
	_, err := doc.Plan(map[string]string{
		"StartTime": "2024-04-01T09:00:00",
		"EndTime":   "2024-04-01T18:00:00",
		"AccountID": "x111122223333",
	}, time.Now())
	assert.ErrorIs(t, err, ErrInvalidParameter)
	assert.ErrorIs(t, err, models.ErrInvalidPayload)
}

func TestPlan_UnknownTimezone(t *testing.T) {
	doc, err := New(literalRefs(), Options{Timezone: "Mars/Olympus"})
	require.NoError(t, err)
	_, err = doc.Plan(map[string]string{
		"StartTime": "2024-04-01T09:00:00",
		"EndTime":   "2024-04-01T18:00:00",
	}, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Mars/Olympus")
}

func TestResolve(t *testing.T) {
	out, err := Resolve("at({{ StartTime }})", map[string]string{"StartTime": "2024-04-01T09:00:00"})
	require.NoError(t, err)
	assert.Equal(t, "at(2024-04-01T09:00:00)", out)

	_, err = Resolve("{{automation:EXECUTION_ID}}", map[string]string{})
	assert.Error(t, err)
}
