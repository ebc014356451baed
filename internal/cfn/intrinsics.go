package cfn

import "strings"

// Pseudo parameters resolved by CloudFormation at deploy time.
const (
	AccountID = "AWS::AccountId"
	Region    = "AWS::Region"
	Partition = "AWS::Partition"
	StackName = "AWS::StackName"
)

// Ref returns a {"Ref": id} intrinsic.
func Ref(id string) map[string]any {
	return map[string]any{"Ref": id}
}

// GetAtt returns a {"Fn::GetAtt": [id, attr]} intrinsic.
func GetAtt(id, attr string) map[string]any {
	return map[string]any{"Fn::GetAtt": []string{id, attr}}
}

// Sub returns a {"Fn::Sub": s} intrinsic.
func Sub(s string) map[string]any {
	return map[string]any{"Fn::Sub": s}
}

// Join returns a {"Fn::Join": [sep, parts]} intrinsic.
func Join(sep string, parts ...any) map[string]any {
	return map[string]any{"Fn::Join": []any{sep, parts}}
}

// ManagedPolicyARN builds the partition-aware ARN of an AWS managed policy.
func ManagedPolicyARN(name string) map[string]any {
	return Join("", "arn:", Ref(Partition), ":iam::aws:policy/", name)
}

func isPseudoParameter(name string) bool {
	return strings.HasPrefix(name, "AWS::")
}
