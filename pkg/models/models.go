// Package models defines the resource descriptors of the temporary access stack
package models

import (
	"time"
)

// Effect is the effect of a policy statement
type Effect string

const (
	EffectAllow Effect = "Allow"
	EffectDeny  Effect = "Deny"
)

// Statement is a single IAM policy statement
type Statement struct {
	Effect    Effect   `json:"Effect" yaml:"Effect"`
	Actions   []string `json:"Action" yaml:"Action"`
	Resources []string `json:"Resource" yaml:"Resource"`
}

// PolicyDocument is an IAM policy document
type PolicyDocument struct {
	Statements []Statement `json:"Statement" yaml:"Statement"`
}

// Conditions maps a condition operator (StringEquals, ArnLike, ...) to its
// key/value pairs. Values may be plain strings or template intrinsics.
type Conditions map[string]map[string]any

// Role describes an IAM role assumed by a single service principal
type Role struct {
	ID              string                    `json:"id"`
	AssumedBy       string                    `json:"assumed_by"`
	Conditions      Conditions                `json:"conditions,omitempty"`
	InlinePolicies  map[string]PolicyDocument `json:"inline_policies,omitempty"`
	ManagedPolicies []string                  `json:"managed_policies,omitempty"`
}

// SubscriptionProtocol is the delivery protocol of a topic subscription
type SubscriptionProtocol string

const (
	ProtocolEmail SubscriptionProtocol = "email"
)

// Subscription is a single subscriber of a topic
type Subscription struct {
	Protocol SubscriptionProtocol `json:"protocol"`
	Endpoint string               `json:"endpoint"`
}

// Topic describes the notification topic used by the approval step
type Topic struct {
	ID            string         `json:"id"`
	TopicName     string         `json:"topic_name"`
	Subscriptions []Subscription `json:"subscriptions"`
}

// Asset locates the packaged code of the compute function
type Asset struct {
	Path   string `json:"path"`
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Hash   string `json:"hash"`
}

// Function describes the compute function invoked by the schedules
type Function struct {
	ID          string            `json:"id"`
	Runtime     string            `json:"runtime"`
	Handler     string            `json:"handler"`
	Code        Asset             `json:"code"`
	RoleID      string            `json:"role_id"`
	Environment map[string]string `json:"environment,omitempty"`
}

// HealthStatus represents service health
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProblemDetails represents RFC 7807 Problem Details
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}
