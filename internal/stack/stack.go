// Package stack declares the resources of the temporary access workflow and
// threads their identifiers into one another: three service roles, the
// approval notification topic, the compute function and the runbook.
package stack

import (
	"fmt"

	"temporary-access/backend/internal/asset"
	"temporary-access/backend/internal/cfn"
	"temporary-access/backend/internal/config"
	"temporary-access/backend/internal/runbook"
	"temporary-access/backend/pkg/models"
)

// Logical IDs of the declared resources.
const (
	LambdaRoleID        = "LambdaRole"
	SchedulerRoleID     = "SchedulerRole"
	AutomationRoleID    = "AutomationRole"
	TopicID             = "ApprovalTopic"
	TopicSubscriptionID = "ApprovalTopicSubscription"
	FunctionID          = "AccountAssignmentFunction"
	RunbookID           = "TemporaryAccessRunbook"

	// AssetBucketParameter is declared when no asset bucket is configured.
	AssetBucketParameter = "AssetBucket"
)

const assumeRolePolicyVersion = "2012-10-17"

// Stack is the declared set of resources.
type Stack struct {
	Name           string
	Description    string
	Account        string
	LambdaRole     models.Role
	SchedulerRole  models.Role
	AutomationRole models.Role
	Topic          models.Topic
	Function       models.Function
	Runbook        *runbook.Document
}

// Build declares the stack from configuration. The asset directory is
// fingerprinted to derive the code object key.
func Build(cfg *config.Config) (*Stack, error) {
	fingerprint, err := asset.Fingerprint(cfg.Stack.AssetDir)
	if err != nil {
		return nil, fmt.Errorf("fingerprint function asset: %w", err)
	}

	s := &Stack{
		Name:        cfg.Stack.Name,
		Description: "Temporary administrative access for IAM Identity Center with approval and scheduled revocation.",
		Account:     cfg.Stack.Account,
	}

	s.LambdaRole = models.Role{
		ID:        LambdaRoleID,
		AssumedBy: "lambda.amazonaws.com",
		InlinePolicies: map[string]models.PolicyDocument{
			"accountassignment": {Statements: []models.Statement{{
				Effect: models.EffectAllow,
				Actions: []string{
					"sso:CreateAccountAssignment",
					"sso:DeleteAccountAssignment",
					"identitystore:ListUsers",
					"scheduler:DeleteSchedule",
				},
				Resources: []string{"*"},
			}}},
		},
		ManagedPolicies: []string{"service-role/AWSLambdaBasicExecutionRole"},
	}

	s.SchedulerRole = models.Role{
		ID:        SchedulerRoleID,
		AssumedBy: "scheduler.amazonaws.com",
		InlinePolicies: map[string]models.PolicyDocument{
			"accountassignment": {Statements: []models.Statement{{
				Effect:    models.EffectAllow,
				Actions:   []string{"lambda:InvokeFunction"},
				Resources: []string{"*"},
			}}},
		},
	}

	s.AutomationRole = models.Role{
		ID:        AutomationRoleID,
		AssumedBy: "ssm.amazonaws.com",
		Conditions: models.Conditions{
			"StringEquals": {"aws:SourceAccount": s.account()},
			"ArnLike":      {"aws:SourceArn": s.automationExecutionARN()},
		},
		ManagedPolicies: []string{
			"service-role/AmazonSSMAutomationRole",
			"AmazonEventBridgeSchedulerFullAccess",
		},
	}

	s.Topic = models.Topic{
		ID:        TopicID,
		TopicName: cfg.Stack.TopicName,
		Subscriptions: []models.Subscription{
			{Protocol: models.ProtocolEmail, Endpoint: cfg.Approval.NotificationEmail},
		},
	}

	s.Function = models.Function{
		ID:      FunctionID,
		Runtime: cfg.Stack.Runtime,
		Handler: cfg.Stack.Handler,
		Code: models.Asset{
			Path:   cfg.Stack.AssetDir,
			Bucket: cfg.Stack.AssetBucket,
			Key:    asset.Key(fingerprint),
			Hash:   fingerprint,
		},
		RoleID: LambdaRoleID,
		Environment: map[string]string{
			"IAM_IDENTITYCENTER_ARN":        cfg.IdentityCenter.InstanceARN,
			"ADMIN_PERMISSIONSET_ARN":       cfg.IdentityCenter.PermissionSetARN,
			"IAM_IDENTITYCENTER_IDSTORE_ID": cfg.IdentityCenter.IdentityStoreID,
		},
	}

	s.Runbook, err = runbook.New(runbook.Refs{
		AutomationRoleARN: cfn.GetAtt(AutomationRoleID, "Arn"),
		ApproverARN:       cfg.Approval.ApproverARN,
		TopicARN:          cfn.Ref(TopicID),
		FunctionARN:       cfn.GetAtt(FunctionID, "Arn"),
		SchedulerRoleARN:  cfn.GetAtt(SchedulerRoleID, "Arn"),
	}, runbook.Options{
		Name:     cfg.Stack.DocumentName,
		Timezone: cfg.Stack.Timezone,
		Message:  cfg.Approval.Message,
		Tags:     cfg.TagMap(),
	})
	if err != nil {
		return nil, fmt.Errorf("build runbook: %w", err)
	}

	return s, nil
}

func (s *Stack) account() any {
	if s.Account != "" {
		return s.Account
	}
	return cfn.Ref(cfn.AccountID)
}

func (s *Stack) automationExecutionARN() any {
	if s.Account != "" {
		return "arn:aws:ssm:*:" + s.Account + ":automation-execution/*"
	}
	return cfn.Sub("arn:aws:ssm:*:${AWS::AccountId}:automation-execution/*")
}
