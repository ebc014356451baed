package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"temporary-access/backend/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS template_revisions (
	id UUID PRIMARY KEY,
	stack_name TEXT NOT NULL,
	version INT NOT NULL,
	digest TEXT NOT NULL,
	template BYTEA NOT NULL,
	runbook BYTEA NOT NULL,
	created_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (stack_name, version)
);`

const revisionColumns = "id, stack_name, version, digest, template, runbook, created_by, created_at"

// PostgresTemplateStore is a PostgreSQL implementation of the TemplateStore interface.
type PostgresTemplateStore struct {
	db *pgxpool.Pool
}

// NewPostgresTemplateStore creates a new PostgresTemplateStore.
func NewPostgresTemplateStore(db *pgxpool.Pool) *PostgresTemplateStore {
	return &PostgresTemplateStore{db: db}
}

// Migrate creates the revisions table if it does not exist.
func (s *PostgresTemplateStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create template_revisions: %w", err)
	}
	return nil
}

// Save stores a new revision unless the latest one has the same digest.
// The digest check and version allocation run under a per-stack advisory
// lock so concurrent writers neither collide nor duplicate a template.
func (s *PostgresTemplateStore) Save(ctx context.Context, rev *models.TemplateRevision) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", rev.StackName); err != nil {
		return false, fmt.Errorf("lock stack %s: %w", rev.StackName, err)
	}

	latest, err := scanRevision(tx.QueryRow(ctx, "SELECT "+revisionColumns+" FROM template_revisions WHERE stack_name = $1 ORDER BY version DESC LIMIT 1", rev.StackName))
	switch {
	case err == nil && latest.Digest == rev.Digest:
		*rev = *latest
		return false, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return false, fmt.Errorf("latest revision of %s: %w", rev.StackName, err)
	}

	version := 1
	if latest != nil {
		version = latest.Version + 1
	}

	id := uuid.New().String()
	err = tx.QueryRow(ctx,
		"INSERT INTO template_revisions (id, stack_name, version, digest, template, runbook, created_by) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at",
		id, rev.StackName, version, rev.Digest, rev.Template, rev.Runbook, rev.CreatedBy,
	).Scan(&rev.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert revision: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	rev.ID = id
	rev.Version = version
	return true, nil
}

// Latest returns the highest version of a stack.
func (s *PostgresTemplateStore) Latest(ctx context.Context, stackName string) (*models.TemplateRevision, error) {
	row := s.db.QueryRow(ctx, "SELECT "+revisionColumns+" FROM template_revisions WHERE stack_name = $1 ORDER BY version DESC LIMIT 1", stackName)
	return scanRevision(row)
}

// Get returns one version of a stack.
func (s *PostgresTemplateStore) Get(ctx context.Context, stackName string, version int) (*models.TemplateRevision, error) {
	row := s.db.QueryRow(ctx, "SELECT "+revisionColumns+" FROM template_revisions WHERE stack_name = $1 AND version = $2", stackName, version)
	return scanRevision(row)
}

// List returns every revision of a stack, newest first.
func (s *PostgresTemplateStore) List(ctx context.Context, stackName string) ([]*models.TemplateRevision, error) {
	rows, err := s.db.Query(ctx, "SELECT "+revisionColumns+" FROM template_revisions WHERE stack_name = $1 ORDER BY version DESC", stackName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var revisions []*models.TemplateRevision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		revisions = append(revisions, rev)
	}
	return revisions, rows.Err()
}

func scanRevision(row pgx.Row) (*models.TemplateRevision, error) {
	var rev models.TemplateRevision
	err := row.Scan(&rev.ID, &rev.StackName, &rev.Version, &rev.Digest, &rev.Template, &rev.Runbook, &rev.CreatedBy, &rev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rev, nil
}
