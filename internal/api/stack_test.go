package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"temporary-access/backend/internal/config"
	"temporary-access/backend/internal/repository"
	"temporary-access/backend/internal/services"
	"temporary-access/backend/pkg/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lambda_function.py"), []byte("pass\n"), 0o644))

	cfg := &config.Config{}
	cfg.Stack.Name = "TempAccess"
	cfg.Stack.Timezone = "UTC"
	cfg.Stack.TopicName = "AutomationSnsTopic"
	cfg.Stack.DocumentName = "TemporaryPrivilegeWorkflow"
	cfg.Stack.Runtime = "python3.9"
	cfg.Stack.Handler = "lambda_function.lambda_handler"
	cfg.Stack.AssetDir = dir
	cfg.IdentityCenter.InstanceARN = "arn:aws:sso:::instance/ssoins-1"
	cfg.IdentityCenter.PermissionSetARN = "arn:aws:sso:::permissionSet/ssoins-1/ps-1"
	cfg.IdentityCenter.IdentityStoreID = "d-1234567890"
	cfg.Approval.ApproverARN = "arn:aws:iam::111122223333:role/approver"
	cfg.Approval.NotificationEmail = "approver@example.com"
	return cfg
}

func newTestEcho(t *testing.T) *echo.Echo {
	t.Helper()
	svc := services.NewSynthService(testConfig(t), repository.NewMemoryTemplateStore(), nil, nil)
	e := echo.New()
	e.HTTPErrorHandler = ProblemHandler
	e.GET("/healthz", HandleHealth)
	RegisterHandlers(e.Group("/api/v1"), NewServer(svc))
	return e
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(newTestEcho(t), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var status models.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "temporary-access", status.Service)
}

func TestGetTemplate(t *testing.T) {
	e := newTestEcho(t)

	rec := do(e, http.MethodGet, "/api/v1/template", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, json.Valid(rec.Body.Bytes()))
	assert.Contains(t, rec.Body.String(), "AWS::SSM::Document")

	rec = do(e, http.MethodGet, "/api/v1/template?format=yaml", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Body.String(), "AWSTemplateFormatVersion")

	rec = do(e, http.MethodGet, "/api/v1/template?format=xml", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get(echo.HeaderContentType))

	// rendering never creates revisions
	rec = do(e, http.MethodGet, "/api/v1/revisions", "")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGetRunbook(t *testing.T) {
	rec := do(newTestEcho(t), http.MethodGet, "/api/v1/runbook", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "schemaVersion")
	assert.Contains(t, rec.Body.String(), "aws:executeAwsApi")
}

func TestSynthAndRevisions(t *testing.T) {
	e := newTestEcho(t)

	rec := do(e, http.MethodPost, "/api/v1/synth", "")
	assert.Equal(t, http.StatusCreated, rec.Code)
	var first SynthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.True(t, first.Changed)
	assert.Equal(t, 1, first.Revision.Version)

	rec = do(e, http.MethodPost, "/api/v1/synth", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(e, http.MethodGet, "/api/v1/revisions", "")
	var revs []models.TemplateRevision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &revs))
	assert.Len(t, revs, 1)

	rec = do(e, http.MethodGet, "/api/v1/revisions/1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "AWSTemplateFormatVersion")

	rec = do(e, http.MethodGet, "/api/v1/revisions/7", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(e, http.MethodGet, "/api/v1/revisions/latest", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateRequest(t *testing.T) {
	e := newTestEcho(t)

	rec := do(e, http.MethodPost, "/api/v1/requests/validate",
		`{"start_time":"2030-01-01T09:00:00","end_time":"2030-01-01T17:00:00","account_id":"111122223333","user_name":"alice"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var plan struct {
		Calls []struct {
			Step               string                 `json:"step"`
			ScheduleExpression string                 `json:"schedule_expression"`
			Payload            models.SchedulePayload `json:"payload"`
		} `json:"calls"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	require.Len(t, plan.Calls, 2)
	assert.Equal(t, "at(2030-01-01T09:00:00)", plan.Calls[0].ScheduleExpression)
	assert.Equal(t, models.ActionCreate, plan.Calls[0].Payload.Action)
	assert.Equal(t, models.ActionDelete, plan.Calls[1].Payload.Action)

	rec = do(e, http.MethodPost, "/api/v1/requests/validate",
		`{"start_time":"2030-01-01T09:00:00","end_time":"2030-01-01T17:00:00","account_id":"12","user_name":"alice"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "AccountID")

	rec = do(e, http.MethodPost, "/api/v1/requests/validate",
		`{"start_time":"2030-01-01T09:00:00","end_time":"2030-01-01T17:00:00","account_id":"111122223333","user_name":"al\"ice"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "UserName")

	rec = do(e, http.MethodPost, "/api/v1/requests/validate", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRenderPayload(t *testing.T) {
	e := newTestEcho(t)

	rec := do(e, http.MethodPost, "/api/v1/payloads",
		`{"account_id":"111122223333","user_name":"alice","action":"delete"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"accountid":"111122223333","username":"alice","action":"delete","schedulerarn":"<aws.scheduler.schedule-arn>"}`,
		rec.Body.String())

	rec = do(e, http.MethodPost, "/api/v1/payloads",
		`{"account_id":"111122223333","user_name":"alice","action":"promote"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
