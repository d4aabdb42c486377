package workflow

import (
	"time"

	"github.com/songzhibin97/entity-workflow/types"
)

// State is the immutable record of one transition attempt.
// New states are produced by StartState and State.Transit only.
type State struct {
	stateID            uint64
	entityID           types.EntityID
	startWorkflowName  string
	targetWorkflowName string
	transitionName     string
	stepName           string
	successful         bool
	data               map[string]any
	reachedAt          time.Time
	errors             []types.ErrorRecord
}

// StateRecord is the storage form of a State. Adapters round-trip every field.
type StateRecord struct {
	StateID            uint64              `json:"state_id,omitempty"`
	EntityID           types.EntityID      `json:"entity_id"`
	StartWorkflowName  string              `json:"start_workflow"`
	TargetWorkflowName string              `json:"target_workflow,omitempty"`
	TransitionName     string              `json:"transition"`
	StepName           string              `json:"step"`
	Successful         bool                `json:"successful"`
	Data               map[string]any      `json:"data,omitempty"`
	ReachedAt          time.Time           `json:"reached_at"`
	Errors             []types.ErrorRecord `json:"errors,omitempty"`
}

// StartState creates the first state of an item.
func StartState(entityID types.EntityID, t *Transition, wfCtx *Context, success bool, reachedAt time.Time) (State, error) {
	step := t.StepTo()
	if step == nil {
		return State{}, flowError("transition %q has no target step", t.Name())
	}
	return State{
		entityID:           entityID,
		startWorkflowName:  t.WorkflowName(),
		targetWorkflowName: step.WorkflowName(),
		transitionName:     t.Name(),
		stepName:           step.Name(),
		successful:         success,
		data:               wfCtx.Properties().Map(),
		reachedAt:          reachedAt,
		errors:             wfCtx.Errors().Flatten(),
	}, nil
}

// Transit derives the next state. On failure the step and workflow stay
// those of s, the attempt is still recorded.
func (s State) Transit(t *Transition, wfCtx *Context, success bool, reachedAt time.Time) (State, error) {
	step := t.StepTo()
	if step == nil {
		return State{}, flowError("transition %q has no target step", t.Name())
	}
	next := State{
		entityID:           s.entityID,
		startWorkflowName:  s.WorkflowName(),
		targetWorkflowName: s.WorkflowName(),
		transitionName:     t.Name(),
		stepName:           s.stepName,
		successful:         success,
		data:               wfCtx.Properties().Map(),
		reachedAt:          reachedAt,
		errors:             wfCtx.Errors().Flatten(),
	}
	if success {
		next.stepName = step.Name()
		next.targetWorkflowName = step.WorkflowName()
	}
	return next, nil
}

// NewStateFromRecord rebuilds a state loaded from storage.
func NewStateFromRecord(rec StateRecord) State {
	target := rec.TargetWorkflowName
	if target == "" {
		target = rec.StartWorkflowName
	}
	return State{
		stateID:            rec.StateID,
		entityID:           rec.EntityID,
		startWorkflowName:  rec.StartWorkflowName,
		targetWorkflowName: target,
		transitionName:     rec.TransitionName,
		stepName:           rec.StepName,
		successful:         rec.Successful,
		data:               types.Properties(rec.Data).Map(),
		reachedAt:          rec.ReachedAt,
		errors:             rec.Errors,
	}
}

// Record returns the storage form.
func (s State) Record() StateRecord {
	return StateRecord{
		StateID:            s.stateID,
		EntityID:           s.entityID,
		StartWorkflowName:  s.startWorkflowName,
		TargetWorkflowName: s.targetWorkflowName,
		TransitionName:     s.transitionName,
		StepName:           s.stepName,
		Successful:         s.successful,
		Data:               s.Data(),
		ReachedAt:          s.reachedAt,
		Errors:             s.Errors(),
	}
}

// WithStateID returns a copy carrying the id assigned by storage.
func (s State) WithStateID(id uint64) State {
	s.stateID = id
	return s
}

// StateID returns the persisted id, false if the state was not persisted yet.
func (s State) StateID() (uint64, bool) {
	return s.stateID, s.stateID != 0
}

// EntityID returns the id of the tracked entity.
func (s State) EntityID() types.EntityID {
	return s.entityID
}

// StartWorkflowName returns the workflow the attempt started in.
func (s State) StartWorkflowName() string {
	return s.startWorkflowName
}

// WorkflowName returns the workflow the item is in after the attempt.
func (s State) WorkflowName() string {
	if s.targetWorkflowName == "" {
		return s.startWorkflowName
	}
	return s.targetWorkflowName
}

// TransitionName returns the attempted transition.
func (s State) TransitionName() string {
	return s.transitionName
}

// StepName returns the reached step.
func (s State) StepName() string {
	return s.stepName
}

// IsSuccessful reports whether the attempt succeeded.
func (s State) IsSuccessful() bool {
	return s.successful
}

// Data returns a copy of the captured context properties.
func (s State) Data() map[string]any {
	return types.Properties(s.data).Map()
}

// ReachedAt returns the time of the attempt.
func (s State) ReachedAt() time.Time {
	return s.reachedAt
}

// Errors returns a copy of the captured errors.
func (s State) Errors() []types.ErrorRecord {
	if len(s.errors) == 0 {
		return nil
	}
	return append([]types.ErrorRecord(nil), s.errors...)
}
