// Package services holds the synthesis and validation use cases shared by
// the CLI, the REST API and the MCP tools.
package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"temporary-access/backend/internal/config"
	"temporary-access/backend/internal/repository"
	"temporary-access/backend/internal/runbook"
	"temporary-access/backend/internal/stack"
	"temporary-access/backend/pkg/models"
)

// Result is the outcome of one synthesis.
type Result struct {
	Stack        *stack.Stack
	Revision     *models.TemplateRevision
	Changed      bool
	TemplateJSON []byte
	TemplateYAML []byte
	Runbook      []byte
}

// SynthService synthesizes the stack and keeps a revision history of the
// rendered template.
type SynthService struct {
	cfg     *config.Config
	store   repository.TemplateStore
	metrics *Metrics
	logger  Logger
	now     func() time.Time
	build   func(*config.Config) (*stack.Stack, error)
}

// NewSynthService creates a new SynthService. metrics and logger may be nil.
func NewSynthService(cfg *config.Config, store repository.TemplateStore, metrics *Metrics, logger Logger) *SynthService {
	if logger == nil {
		logger = nopLogger{}
	}
	return &SynthService{
		cfg:     cfg,
		store:   store,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		build:   stack.Build,
	}
}

// Synthesize builds the stack, renders the template and runbook, and stores
// a new revision when the template differs from the latest one.
func (s *SynthService) Synthesize(ctx context.Context, createdBy string) (*Result, error) {
	started := s.now()
	res, err := s.synthesize(ctx, createdBy)
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeError
	}
	s.metrics.recordSynth(ctx, outcome, s.now().Sub(started).Seconds())
	return res, err
}

// Render builds the stack and renders the template and runbook without
// touching the revision history.
func (s *SynthService) Render() (*Result, error) {
	st, err := s.build(s.cfg)
	if err != nil {
		return nil, err
	}
	tpl, err := st.Synthesize()
	if err != nil {
		return nil, fmt.Errorf("synthesize %s: %w", st.Name, err)
	}
	res := &Result{Stack: st}
	if res.TemplateJSON, err = tpl.JSON(); err != nil {
		return nil, err
	}
	if res.TemplateYAML, err = tpl.YAML(); err != nil {
		return nil, err
	}
	if res.Runbook, err = st.Runbook.Render(); err != nil {
		return nil, err
	}
	return res, nil
}

// Digest returns the content digest used to detect template changes.
func Digest(template []byte) string {
	sum := blake3.Sum256(template)
	return hex.EncodeToString(sum[:])
}

func (s *SynthService) synthesize(ctx context.Context, createdBy string) (*Result, error) {
	res, err := s.Render()
	if err != nil {
		return nil, err
	}
	st := res.Stack
	digest := Digest(res.TemplateJSON)

	rev := &models.TemplateRevision{
		StackName: st.Name,
		Digest:    digest,
		Template:  res.TemplateJSON,
		Runbook:   res.Runbook,
		CreatedBy: createdBy,
	}
	created, err := s.store.Save(ctx, rev)
	if err != nil {
		return nil, fmt.Errorf("save revision of %s: %w", st.Name, err)
	}
	if created {
		s.metrics.recordRevision(ctx, st.Name)
		s.logger.Info("template revision stored", "stack", st.Name, "version", rev.Version, "digest", digest[:12])
	} else {
		s.logger.Debug("template unchanged", "stack", st.Name, "version", rev.Version)
	}

	res.Revision = rev
	res.Changed = created
	return res, nil
}

// Runbook builds the stack and returns its Automation document.
func (s *SynthService) Runbook() (*runbook.Document, error) {
	st, err := s.build(s.cfg)
	if err != nil {
		return nil, err
	}
	return st.Runbook, nil
}

// ValidateRequest checks the request parameters and returns the schedules
// the runbook would create once approved.
func (s *SynthService) ValidateRequest(ctx context.Context, req models.AccessRequest) (*runbook.Plan, error) {
	doc, err := s.Runbook()
	if err != nil {
		return nil, err
	}
	plan, err := doc.Plan(req.Parameters(), s.now())
	switch {
	case err == nil:
		s.metrics.recordValidation(ctx, outcomeSuccess)
	case errors.Is(err, runbook.ErrInvalidParameter), errors.Is(err, runbook.ErrInvalidWindow):
		s.metrics.recordValidation(ctx, outcomeInvalid)
	default:
		s.metrics.recordValidation(ctx, outcomeError)
	}
	return plan, err
}

// Revisions lists the stored revisions of the configured stack.
func (s *SynthService) Revisions(ctx context.Context) ([]*models.TemplateRevision, error) {
	return s.store.List(ctx, s.cfg.Stack.Name)
}

// Revision returns one stored revision; version 0 selects the latest.
func (s *SynthService) Revision(ctx context.Context, version int) (*models.TemplateRevision, error) {
	if version == 0 {
		return s.store.Latest(ctx, s.cfg.Stack.Name)
	}
	return s.store.Get(ctx, s.cfg.Stack.Name, version)
}

// RenderPayload builds the concrete input a schedule delivers to the
// compute function.
func RenderPayload(accountID, userName string, action models.Action, schedulerARN string) (models.SchedulePayload, error) {
	if schedulerARN == "" {
		schedulerARN = models.ScheduleARNPlaceholder
	}
	p := models.SchedulePayload{
		AccountID:    accountID,
		UserName:     userName,
		Action:       action,
		SchedulerARN: schedulerARN,
	}
	if err := p.Validate(); err != nil {
		return models.SchedulePayload{}, err
	}
	return p, nil
}
