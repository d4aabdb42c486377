package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/songzhibin97/entity-workflow/types"
)

// Manager resolves the workflow of an entity and creates transition handlers.
// Workflows may be registered concurrently with lookups.
type Manager struct {
	workflows       []*Workflow
	initial         []*Workflow
	factory         TransitionHandlerFactory
	stateRepository StateRepository
	logger          *slog.Logger
	mu              sync.RWMutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithWorkflows registers workflows at construction time, with the same
// duplicate name check as AddWorkflow.
func WithWorkflows(workflows ...*Workflow) ManagerOption {
	return func(m *Manager) {
		m.initial = append(m.initial, workflows...)
	}
}

// NewManager creates a Manager.
func NewManager(factory TransitionHandlerFactory, stateRepository StateRepository, opts ...ManagerOption) (*Manager, error) {
	if factory == nil {
		return nil, errors.New("transition handler factory is required")
	}
	if stateRepository == nil {
		return nil, errors.New("state repository is required")
	}
	m := &Manager{
		factory:         factory,
		stateRepository: stateRepository,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, wf := range m.initial {
		if err := m.AddWorkflow(wf); err != nil {
			return nil, err
		}
	}
	m.initial = nil
	return m, nil
}

// Handle returns a handler for item and the optional transition name.
// It returns nil and no error if no workflow claims the entity.
// A started item is never handed to a workflow other than its own.
func (m *Manager) Handle(ctx context.Context, item *Item, transitionName string) (TransitionHandler, error) {
	entityID := item.EntityID()
	wf, err := m.GetWorkflow(entityID, item.Entity())
	if errors.Is(err, ErrNotFound) {
		m.logger.Debug("no workflow claims entity", "entity_id", entityID.String())
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	_, span := startSpan(ctx, "workflow.handle", item, wf, transitionName)
	defer span.End()

	if item.IsWorkflowStarted() && item.WorkflowName() != wf.Name() {
		return nil, flowError("item %s is in workflow %q but workflow %q claims it",
			entityID, item.WorkflowName(), wf.Name())
	}

	return m.factory.CreateTransitionHandler(item, wf, transitionName, entityID.ProviderName(), m.stateRepository)
}

// AddWorkflow registers a workflow. Names must be unique.
func (m *Manager) AddWorkflow(wf *Workflow) error {
	if wf == nil {
		return errors.New("workflow is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.workflows {
		if existing.Name() == wf.Name() {
			return fmt.Errorf("%w: workflow %q", ErrDuplicateName, wf.Name())
		}
	}
	m.workflows = append(m.workflows, wf)
	return nil
}

// GetWorkflow returns the first registered workflow supporting the entity.
func (m *Manager) GetWorkflow(entityID types.EntityID, entity any) (*Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, wf := range m.workflows {
		errs := types.NewErrorCollection()
		if wf.Supports(entityID, entity, errs) {
			return wf, nil
		}
		if errs.HasErrors() {
			m.logger.Debug("workflow does not match",
				"workflow", wf.Name(), "entity_id", entityID.String(), "errors", errs.String())
		}
	}
	return nil, &NotFoundError{Kind: KindWorkflow, Name: entityID.String()}
}

// HasWorkflow reports whether any workflow supports the entity.
func (m *Manager) HasWorkflow(entityID types.EntityID, entity any) bool {
	_, err := m.GetWorkflow(entityID, entity)
	return err == nil
}

// GetWorkflowByName returns a registered workflow by name.
func (m *Manager) GetWorkflowByName(name string) (*Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, wf := range m.workflows {
		if wf.Name() == name {
			return wf, nil
		}
	}
	return nil, &NotFoundError{Kind: KindWorkflow, Name: name}
}

// Workflows returns the registered workflows.
func (m *Manager) Workflows() []*Workflow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Workflow(nil), m.workflows...)
}

// CreateItem loads the state history of the entity and rebuilds its item.
func (m *Manager) CreateItem(ctx context.Context, entityID types.EntityID, entity any) (*Item, error) {
	states, err := m.stateRepository.Find(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load states of %s: %w", entityID, err)
	}
	return ReconstituteItem(entityID, entity, states), nil
}
