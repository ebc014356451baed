package stack

import (
	"fmt"
	"sort"

	"temporary-access/backend/internal/cfn"
	"temporary-access/backend/pkg/models"
)

// Synthesize renders the declared resources into a CloudFormation template
// and checks that every cross-resource reference resolves.
func (s *Stack) Synthesize() (*cfn.Template, error) {
	tpl := cfn.New(s.Description)

	for _, role := range []models.Role{s.LambdaRole, s.SchedulerRole, s.AutomationRole} {
		if err := tpl.AddResource(role.ID, roleResource(role)); err != nil {
			return nil, err
		}
	}

	if err := tpl.AddResource(s.Topic.ID, &cfn.Resource{
		Type:       "AWS::SNS::Topic",
		Properties: map[string]any{"TopicName": s.Topic.TopicName},
	}); err != nil {
		return nil, err
	}
	for i, sub := range s.Topic.Subscriptions {
		id := TopicSubscriptionID
		if i > 0 {
			id = fmt.Sprintf("%s%d", TopicSubscriptionID, i+1)
		}
		if err := tpl.AddResource(id, &cfn.Resource{
			Type: "AWS::SNS::Subscription",
			Properties: map[string]any{
				"Protocol": string(sub.Protocol),
				"Endpoint": sub.Endpoint,
				"TopicArn": cfn.Ref(s.Topic.ID),
			},
		}); err != nil {
			return nil, err
		}
	}

	var bucket any = s.Function.Code.Bucket
	if s.Function.Code.Bucket == "" {
		if err := tpl.AddParameter(AssetBucketParameter, cfn.Parameter{
			Type:        "String",
			Description: "S3 bucket holding the function code bundle " + s.Function.Code.Key,
		}); err != nil {
			return nil, err
		}
		bucket = cfn.Ref(AssetBucketParameter)
	}
	fn := &cfn.Resource{
		Type: "AWS::Lambda::Function",
		Properties: map[string]any{
			"Code": map[string]any{
				"S3Bucket": bucket,
				"S3Key":    s.Function.Code.Key,
			},
			"Role":    cfn.GetAtt(s.Function.RoleID, "Arn"),
			"Runtime": s.Function.Runtime,
			"Handler": s.Function.Handler,
		},
		DependsOn: []string{s.Function.RoleID},
	}
	if len(s.Function.Environment) > 0 {
		vars := make(map[string]any, len(s.Function.Environment))
		for k, v := range s.Function.Environment {
			vars[k] = v
		}
		fn.Properties["Environment"] = map[string]any{"Variables": vars}
	}
	if err := tpl.AddResource(s.Function.ID, fn); err != nil {
		return nil, err
	}

	content, err := s.Runbook.Expression()
	if err != nil {
		return nil, fmt.Errorf("render runbook: %w", err)
	}
	doc := &cfn.Resource{
		Type: "AWS::SSM::Document",
		Properties: map[string]any{
			"Content":        content,
			"DocumentType":   "Automation",
			"DocumentFormat": "YAML",
			"Name":           s.Runbook.Name,
			"UpdateMethod":   s.Runbook.UpdateMethod,
		},
	}
	if tags := s.Runbook.TagList(); len(tags) > 0 {
		doc.Properties["Tags"] = tags
	}
	if err := tpl.AddResource(RunbookID, doc); err != nil {
		return nil, err
	}

	outputs := []struct {
		id, desc string
		value    any
	}{
		{"RunbookName", "Name of the temporary access runbook", cfn.Ref(RunbookID)},
		{"ApprovalTopicArn", "Topic notified when a request awaits approval", cfn.Ref(s.Topic.ID)},
		{"FunctionArn", "Function that grants and revokes the account assignment", cfn.GetAtt(s.Function.ID, "Arn")},
	}
	for _, o := range outputs {
		if err := tpl.AddOutput(o.id, cfn.Output{Description: o.desc, Value: o.value}); err != nil {
			return nil, err
		}
	}

	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	return tpl, nil
}

func roleResource(role models.Role) *cfn.Resource {
	trust := map[string]any{
		"Action":    "sts:AssumeRole",
		"Effect":    string(models.EffectAllow),
		"Principal": map[string]any{"Service": role.AssumedBy},
	}
	if len(role.Conditions) > 0 {
		cond := make(map[string]any, len(role.Conditions))
		for op, kv := range role.Conditions {
			cond[op] = kv
		}
		trust["Condition"] = cond
	}

	props := map[string]any{
		"AssumeRolePolicyDocument": map[string]any{
			"Version":   assumeRolePolicyVersion,
			"Statement": []any{trust},
		},
	}

	if len(role.InlinePolicies) > 0 {
		names := make([]string, 0, len(role.InlinePolicies))
		for name := range role.InlinePolicies {
			names = append(names, name)
		}
		sort.Strings(names)
		policies := make([]any, 0, len(names))
		for _, name := range names {
			policies = append(policies, map[string]any{
				"PolicyName":     name,
				"PolicyDocument": policyDocument(role.InlinePolicies[name]),
			})
		}
		props["Policies"] = policies
	}

	if len(role.ManagedPolicies) > 0 {
		arns := make([]any, 0, len(role.ManagedPolicies))
		for _, name := range role.ManagedPolicies {
			arns = append(arns, cfn.ManagedPolicyARN(name))
		}
		props["ManagedPolicyArns"] = arns
	}

	return &cfn.Resource{Type: "AWS::IAM::Role", Properties: props}
}

func policyDocument(doc models.PolicyDocument) map[string]any {
	statements := make([]any, 0, len(doc.Statements))
	for _, st := range doc.Statements {
		statements = append(statements, map[string]any{
			"Effect":   string(st.Effect),
			"Action":   st.Actions,
			"Resource": st.Resources,
		})
	}
	return map[string]any{
		"Version":   assumeRolePolicyVersion,
		"Statement": statements,
	}
}
