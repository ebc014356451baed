package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"temporary-access/backend/pkg/models"
)

// MemoryTemplateStore keeps revisions in process memory. It backs the CLI
// and servers started without a database.
type MemoryTemplateStore struct {
	mu        sync.RWMutex
	revisions map[string][]*models.TemplateRevision
	now       func() time.Time
}

// NewMemoryTemplateStore creates an empty MemoryTemplateStore.
func NewMemoryTemplateStore() *MemoryTemplateStore {
	return &MemoryTemplateStore{
		revisions: map[string][]*models.TemplateRevision{},
		now:       time.Now,
	}
}

// Save stores a new revision unless the latest one has the same digest.
func (s *MemoryTemplateStore) Save(_ context.Context, rev *models.TemplateRevision) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if revs := s.revisions[rev.StackName]; len(revs) > 0 && revs[len(revs)-1].Digest == rev.Digest {
		*rev = *revs[len(revs)-1]
		return false, nil
	}

	rev.ID = uuid.New().String()
	rev.Version = len(s.revisions[rev.StackName]) + 1
	rev.CreatedAt = s.now()
	stored := *rev
	s.revisions[rev.StackName] = append(s.revisions[rev.StackName], &stored)
	return true, nil
}

// Latest returns the highest version of a stack.
func (s *MemoryTemplateStore) Latest(_ context.Context, stackName string) (*models.TemplateRevision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	revs := s.revisions[stackName]
	if len(revs) == 0 {
		return nil, ErrNotFound
	}
	rev := *revs[len(revs)-1]
	return &rev, nil
}

// Get returns one version of a stack.
func (s *MemoryTemplateStore) Get(_ context.Context, stackName string, version int) (*models.TemplateRevision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	revs := s.revisions[stackName]
	if version < 1 || version > len(revs) {
		return nil, ErrNotFound
	}
	rev := *revs[version-1]
	return &rev, nil
}

// List returns every revision of a stack, newest first.
func (s *MemoryTemplateStore) List(_ context.Context, stackName string) ([]*models.TemplateRevision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	revs := s.revisions[stackName]
	out := make([]*models.TemplateRevision, 0, len(revs))
	for i := len(revs) - 1; i >= 0; i-- {
		rev := *revs[i]
		out = append(out, &rev)
	}
	return out, nil
}
