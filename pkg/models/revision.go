package models

import (
	"time"
)

// TemplateRevision is one synthesized version of the stack template.
type TemplateRevision struct {
	ID        string    `json:"id"`
	StackName string    `json:"stack_name"`
	Version   int       `json:"version"`
	Digest    string    `json:"digest"`
	Template  []byte    `json:"-"`
	Runbook   []byte    `json:"-"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}
