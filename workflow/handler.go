package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/songzhibin97/entity-workflow/events"
	"github.com/songzhibin97/entity-workflow/types"
)

// TransitionHandler drives one validate and transit cycle for one item.
type TransitionHandler interface {
	Workflow() *Workflow
	Item() *Item
	Transition() *Transition
	IsWorkflowStarted() bool
	CurrentStep() (*Step, bool)
	RequiredPayloadProperties() []string
	IsAvailable() bool
	Context() *Context
	ErrorCollection() *types.ErrorCollection
	Validate(payload types.Properties) bool
	Transit(ctx context.Context) (State, error)
}

// TransitionHandlerFactory creates transition handlers for the Manager.
type TransitionHandlerFactory interface {
	CreateTransitionHandler(
		item *Item,
		wf *Workflow,
		transitionName string,
		providerName string,
		stateRepository StateRepository,
	) (TransitionHandler, error)
}

// HandlerFactory is the default TransitionHandlerFactory.
type HandlerFactory struct {
	entities     EntityRepositories
	transactions TransactionHandler
	bus          *events.Bus
	logger       *slog.Logger
}

// FactoryOption configures a HandlerFactory.
type FactoryOption func(*HandlerFactory)

// WithEventBus publishes state events after each committed transition.
func WithEventBus(bus *events.Bus) FactoryOption {
	return func(f *HandlerFactory) {
		f.bus = bus
	}
}

// WithFactoryLogger sets the logger handed to created handlers.
func WithFactoryLogger(logger *slog.Logger) FactoryOption {
	return func(f *HandlerFactory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewHandlerFactory creates the default factory.
func NewHandlerFactory(entities EntityRepositories, transactions TransactionHandler, opts ...FactoryOption) (*HandlerFactory, error) {
	if entities == nil {
		return nil, errors.New("entity repositories are required")
	}
	if transactions == nil {
		return nil, errors.New("transaction handler is required")
	}
	f := &HandlerFactory{
		entities:     entities,
		transactions: transactions,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// CreateTransitionHandler implements TransitionHandlerFactory.
func (f *HandlerFactory) CreateTransitionHandler(
	item *Item,
	wf *Workflow,
	transitionName string,
	providerName string,
	stateRepository StateRepository,
) (TransitionHandler, error) {
	entityRepository, err := f.entities.EntityRepository(providerName)
	if err != nil {
		return nil, err
	}
	h, err := NewHandler(item, wf, transitionName, HandlerDeps{
		EntityRepository: entityRepository,
		StateRepository:  stateRepository,
		Transactions:     f.transactions,
		Bus:              f.bus,
		Logger:           f.logger,
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// HandlerDeps are the collaborators of a Handler. Bus and Logger are optional.
type HandlerDeps struct {
	EntityRepository EntityRepository
	StateRepository  StateRepository
	Transactions     TransactionHandler
	Bus              *events.Bus
	Logger           *slog.Logger
}

// Handler is the default TransitionHandler.
type Handler struct {
	item       *Item
	workflow   *Workflow
	transition *Transition
	deps       HandlerDeps
	logger     *slog.Logger
	wfCtx      *Context
	validated  bool
	transited  bool
}

var _ TransitionHandler = (*Handler)(nil)

// NewHandler creates a handler and checks right away that the transition may
// leave the current step, or is the start transition for an unstarted item.
func NewHandler(item *Item, wf *Workflow, transitionName string, deps HandlerDeps) (*Handler, error) {
	if deps.EntityRepository == nil || deps.StateRepository == nil || deps.Transactions == nil {
		return nil, errors.New("entity repository, state repository and transaction handler are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transition, err := resolveTransition(item, wf, transitionName)
	if err != nil {
		return nil, err
	}

	return &Handler{
		item:       item,
		workflow:   wf,
		transition: transition,
		deps:       deps,
		logger: logger.With(
			"entity_id", item.EntityID().String(),
			"workflow", wf.Name(),
			"transition", transition.Name(),
		),
		wfCtx: NewContext(nil),
	}, nil
}

func resolveTransition(item *Item, wf *Workflow, name string) (*Transition, error) {
	if !item.IsWorkflowStarted() {
		start, err := wf.StartTransition()
		if err != nil {
			return nil, err
		}
		if name != "" && name != start.Name() {
			return nil, flowError("transition %q not allowed, workflow %q not started for item %s",
				name, wf.Name(), item.EntityID())
		}
		return start, nil
	}

	if name == "" {
		return nil, flowError("transition name required for started item %s", item.EntityID())
	}
	step, err := wf.GetStep(item.CurrentStepName())
	if err != nil {
		return nil, err
	}
	if !step.IsTransitionAllowed(name) {
		if step.IsFinal() {
			return nil, flowError("item %s reached final step %q of workflow %q", item.EntityID(), step.Name(), wf.Name())
		}
		return nil, flowError("transition %q not allowed from step %q of workflow %q", name, step.Name(), wf.Name())
	}
	return wf.GetTransition(name)
}

// Workflow returns the workflow the handler operates in.
func (h *Handler) Workflow() *Workflow {
	return h.workflow
}

// Item returns the handled item.
func (h *Handler) Item() *Item {
	return h.item
}

// Transition returns the start transition for unstarted items, the requested one otherwise.
func (h *Handler) Transition() *Transition {
	return h.transition
}

// IsWorkflowStarted reports whether the item reached a step.
func (h *Handler) IsWorkflowStarted() bool {
	return h.item.IsWorkflowStarted()
}

// CurrentStep returns the step the item is in.
func (h *Handler) CurrentStep() (*Step, bool) {
	if !h.item.IsWorkflowStarted() {
		return nil, false
	}
	step, err := h.workflow.GetStep(h.item.CurrentStepName())
	if err != nil {
		return nil, false
	}
	return step, true
}

// RequiredPayloadProperties lists the payload the transition needs.
func (h *Handler) RequiredPayloadProperties() []string {
	return h.transition.RequiredPayloadProperties(h.item)
}

// IsAvailable reports whether the transition can be offered.
func (h *Handler) IsAvailable() bool {
	return h.transition.IsAvailable(h.item, h.wfCtx)
}

// Context returns the context of the current attempt.
func (h *Handler) Context() *Context {
	return h.wfCtx
}

// ErrorCollection returns the errors of the current attempt.
func (h *Handler) ErrorCollection() *types.ErrorCollection {
	return h.wfCtx.Errors()
}

// Validate starts a new attempt with payload. Pre-conditions and action
// validation always run, conditions only if both passed.
func (h *Handler) Validate(payload types.Properties) bool {
	h.wfCtx = h.wfCtx.CleanCopy(payload)
	pre := h.transition.CheckPreCondition(h.item, h.wfCtx)
	valid := h.transition.Validate(h.item, h.wfCtx)
	h.validated = pre && valid && h.transition.CheckCondition(h.item, h.wfCtx)

	h.logger.Debug("transition validated", "valid", h.validated, "errors", h.wfCtx.Errors().String())
	return h.validated
}

// Transit executes the validated transition and persists state and entity in
// one transaction. Reported action failures yield an unsuccessful State,
// every other error aborts and rolls back.
func (h *Handler) Transit(ctx context.Context) (State, error) {
	if h.transited {
		return State{}, flowError("transition %q already executed", h.transition.Name())
	}
	if !h.validated {
		return State{}, flowError("transition %q not validated", h.transition.Name())
	}

	ctx, span := startSpan(ctx, "workflow.transit", h.item, h.workflow, h.transition.Name())
	defer span.End()

	started := time.Now()
	state, err := h.transactional(ctx)
	transitionDuration.WithLabelValues(h.workflow.Name(), h.transition.Name()).Observe(time.Since(started).Seconds())
	if err != nil {
		transitionsTotal.WithLabelValues(h.workflow.Name(), h.transition.Name(), outcomeError).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.logger.Error("transition aborted", "error", err)
		return State{}, err
	}
	h.transited = true

	outcome := outcomeSuccess
	if !state.IsSuccessful() {
		outcome = outcomeFailed
		span.SetStatus(codes.Error, "transition unsuccessful")
	}
	transitionsTotal.WithLabelValues(h.workflow.Name(), h.transition.Name(), outcome).Inc()
	h.logger.Info("state recorded", "step", state.StepName(), "successful", state.IsSuccessful())
	h.publish(ctx, state)

	return state, nil
}

func (h *Handler) transactional(ctx context.Context) (State, error) {
	snapshot := h.item.snapshot()

	if err := h.deps.Transactions.Begin(ctx); err != nil {
		return State{}, err
	}

	state, err := h.executeTransition(ctx)
	if err == nil {
		state, err = h.persist(ctx, state)
	}
	if err == nil {
		if err = h.deps.Transactions.Commit(ctx); err == nil {
			return state, nil
		}
	}

	h.item.restore(snapshot)
	if rbErr := h.deps.Transactions.Rollback(ctx); rbErr != nil {
		h.logger.Warn("rollback failed", "error", rbErr)
	}
	return State{}, err
}

func (h *Handler) executeTransition(ctx context.Context) (State, error) {
	actionsCtx, span := startSpan(ctx, "workflow.actions", h.item, h.workflow, h.transition.Name())
	success, err := h.transition.ExecuteActions(actionsCtx, h.item, h.wfCtx)
	span.End()
	if err != nil {
		return State{}, err
	}
	if !success {
		actionFailuresTotal.WithLabelValues(h.workflow.Name(), h.transition.Name(), "actions").Inc()
		h.logger.Warn("action failed", "errors", h.wfCtx.Errors().String())
	}

	var state State
	if h.item.IsWorkflowStarted() {
		state, err = h.item.Transit(h.transition, h.wfCtx, success)
	} else {
		state, err = h.item.Start(h.transition, h.wfCtx, success)
	}
	if err != nil {
		return State{}, err
	}

	if success {
		ok, err := h.transition.ExecutePostActions(ctx, h.item, h.wfCtx)
		if err != nil {
			return State{}, err
		}
		if !ok {
			actionFailuresTotal.WithLabelValues(h.workflow.Name(), h.transition.Name(), "post_actions").Inc()
			h.logger.Warn("post action failed", "errors", h.wfCtx.Errors().String())
		}
	}

	return state, nil
}

// persist stores the recorded states and the entity, and returns current
// carrying the id assigned by the state repository.
func (h *Handler) persist(ctx context.Context, current State) (State, error) {
	for _, state := range h.item.ReleaseRecordedStateChanges() {
		stored, err := h.deps.StateRepository.Add(ctx, state)
		if err != nil {
			return State{}, err
		}
		h.item.confirm(stored)
		if stored.ReachedAt().Equal(current.ReachedAt()) {
			current = stored
		}
	}
	return current, h.deps.EntityRepository.Add(ctx, h.item.EntityID(), h.item.Entity())
}

func (h *Handler) publish(ctx context.Context, state State) {
	if h.deps.Bus == nil {
		return
	}
	eventType := events.TypeStateRecorded
	if !state.IsSuccessful() {
		eventType = events.TypeTransitionFailed
	}
	err := h.deps.Bus.Publish(ctx, events.Event{
		Type:       eventType,
		EntityID:   state.EntityID().String(),
		Workflow:   state.WorkflowName(),
		Transition: state.TransitionName(),
		Data: map[string]any{
			"step":       state.StepName(),
			"successful": state.IsSuccessful(),
		},
		OccurredAt: state.ReachedAt(),
	})
	if err != nil && !errors.Is(err, events.ErrNoHandler) {
		h.logger.Warn("publishing event failed", "event", eventType, "error", err)
	}
}
