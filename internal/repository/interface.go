package repository

import (
	"context"
	"errors"

	"temporary-access/backend/pkg/models"
)

// ErrNotFound is returned when no revision matches the lookup.
var ErrNotFound = errors.New("template revision not found")

// TemplateStore is an interface for storing synthesized template revisions.
type TemplateStore interface {
	// Save stores rev as the next version, assigning its ID, version and
	// creation time. When the latest revision already carries rev.Digest,
	// nothing is stored, rev is overwritten with that revision and created is
	// false.
	Save(ctx context.Context, rev *models.TemplateRevision) (created bool, err error)
	// Latest returns the highest version of a stack.
	Latest(ctx context.Context, stackName string) (*models.TemplateRevision, error)
	// Get returns one version of a stack.
	Get(ctx context.Context, stackName string, version int) (*models.TemplateRevision, error)
	// List returns every revision of a stack, newest first.
	List(ctx context.Context, stackName string) ([]*models.TemplateRevision, error)
}
