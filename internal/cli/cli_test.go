package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"temporary-access/backend/internal/config"
	"temporary-access/backend/internal/repository"
	"temporary-access/backend/internal/runbook"
	"temporary-access/backend/pkg/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lambda_function.py"), []byte("def lambda_handler(event, context):\n    pass\n"), 0o644))

	cfg := &config.Config{}
	cfg.Stack.Name = "TempAccess"
	cfg.Stack.Timezone = "Asia/Tokyo"
	cfg.Stack.TopicName = "AutomationSnsTopic"
	cfg.Stack.DocumentName = "TemporaryPrivilegeWorkflow"
	cfg.Stack.Runtime = "python3.9"
	cfg.Stack.Handler = "lambda_function.lambda_handler"
	cfg.Stack.AssetDir = dir
	cfg.Stack.AssetBucket = "assets"
	cfg.Stack.Tags = config.DefaultTags
	cfg.IdentityCenter.InstanceARN = "arn:aws:sso:::instance/ssoins-1"
	cfg.IdentityCenter.PermissionSetARN = "arn:aws:sso:::permissionSet/ssoins-1/ps-1"
	cfg.IdentityCenter.IdentityStoreID = "d-1234567890"
	cfg.Approval.ApproverARN = "arn:aws:iam::111122223333:role/approver"
	cfg.Approval.NotificationEmail = "approver@example.com"
	cfg.Approval.Message = "Do you approve?"
	return cfg
}

func testApp(t *testing.T) (*app, *config.Config) {
	cfg := testConfig(t)
	store := repository.NewMemoryTemplateStore()
	return &app{
		loadConfig: func(string) (*config.Config, error) { return cfg, nil },
		openStore: func(context.Context, *config.Config) (repository.TemplateStore, func(), error) {
			return store, func() {}, nil
		},
	}, cfg
}

func run(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(a)
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSynth_WritesArtifacts(t *testing.T) {
	a, _ := testApp(t)
	out := t.TempDir()

	_, err := run(t, a, "synth", "--out", out)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(out, "TempAccess.template.json"))
	require.NoError(t, err)
	var tpl map[string]any
	require.NoError(t, json.Unmarshal(raw, &tpl))
	assert.Contains(t, tpl["Resources"], "TemporaryAccessRunbook")

	book, err := os.ReadFile(filepath.Join(out, runbookFile))
	require.NoError(t, err)
	assert.Contains(t, string(book), "startschduler")
	assert.Contains(t, string(book), "endschduler")

	bundles, err := filepath.Glob(filepath.Join(out, "asset.*.zip"))
	require.NoError(t, err)
	assert.Len(t, bundles, 1)
}

func TestSynth_YAMLToStdout(t *testing.T) {
	a, _ := testApp(t)

	out, err := run(t, a, "synth", "--out", "", "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "AWSTemplateFormatVersion")
	assert.Contains(t, out, "AWS::SSM::Document")
}

func TestSynth_RejectsUnknownFormat(t *testing.T) {
	a, _ := testApp(t)

	_, err := run(t, a, "synth", "--out", "", "--format", "toml")
	assert.ErrorContains(t, err, "unsupported format")
}

func TestRevisions_AfterStoredSynth(t *testing.T) {
	a, _ := testApp(t)

	_, err := run(t, a, "synth", "--out", "", "--store")
	require.NoError(t, err)
	_, err = run(t, a, "synth", "--out", "", "--store")
	require.NoError(t, err)

	out, err := run(t, a, "revisions")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2, "unchanged template must not add a revision")
	assert.True(t, strings.HasPrefix(lines[1], "1 "))
	assert.Contains(t, lines[1], "cli")

	out, err = run(t, a, "revisions", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `"AWSTemplateFormatVersion"`)

	_, err = run(t, a, "revisions", "7")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = run(t, a, "revisions", "x")
	assert.ErrorContains(t, err, "invalid version")
}

func TestRevisions_RequiresDatabase(t *testing.T) {
	a, _ := testApp(t)
	a.openStore = openPostgresStore

	_, err := run(t, a, "revisions")
	assert.ErrorIs(t, err, errNoDatabase)
}

func TestValidate_PrintsPlan(t *testing.T) {
	a, _ := testApp(t)

	out, err := run(t, a, "validate",
		"--start", "2024-04-01T09:00:00",
		"--end", "2024-04-01T18:00:00",
		"--account", "111122223333",
		"--user", "alice")
	require.NoError(t, err)

	var plan runbook.Plan
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	require.Len(t, plan.Calls, 2)
	assert.Equal(t, "at(2024-04-01T09:00:00)", plan.Calls[0].ScheduleExpression)
	assert.Equal(t, models.ActionCreate, plan.Calls[0].Payload.Action)
	assert.Equal(t, models.ActionDelete, plan.Calls[1].Payload.Action)
	assert.Equal(t, "alice", plan.Calls[1].Payload.UserName)
	assert.True(t, strings.HasPrefix(plan.Calls[1].Name, "EndAccountLinking"))
}

func TestValidate_InvalidParameters(t *testing.T) {
	a, _ := testApp(t)

	_, err := run(t, a, "validate", "--start", "2024-13-01T09:00:00")
	assert.ErrorIs(t, err, runbook.ErrInvalidParameter)

	_, err = run(t, a, "validate", "--start", "2024-04-01T18:00:00", "--end", "2024-04-01T09:00:00")
	assert.ErrorIs(t, err, runbook.ErrInvalidWindow)
}

func TestPayload(t *testing.T) {
	a, _ := testApp(t)

	out, err := run(t, a, "payload", "--account", "111122223333", "--user", "alice", "--action", "delete")
	require.NoError(t, err)

	var p models.SchedulePayload
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, models.SchedulePayload{
		AccountID:    "111122223333",
		UserName:     "alice",
		Action:       models.ActionDelete,
		SchedulerARN: models.ScheduleARNPlaceholder,
	}, p)

	_, err = run(t, a, "payload", "--account", "111122223333", "--user", "alice", "--action", "grant")
	assert.ErrorIs(t, err, models.ErrInvalidPayload)

	_, err = run(t, a, "payload", "--user", "alice")
	assert.Error(t, err)
}

func TestBundle(t *testing.T) {
	a, cfg := testApp(t)
	archive := filepath.Join(t.TempDir(), "code.zip")

	out, err := run(t, a, "bundle", "--out", archive)
	require.NoError(t, err)

	fields := strings.Fields(out)
	require.Len(t, fields, 2)
	assert.Len(t, fields[0], 64)
	assert.Equal(t, archive, fields[1])
	info, err := os.Stat(archive)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())

	again, err := run(t, a, "bundle", "--dir", cfg.Stack.AssetDir, "--out", archive)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}
