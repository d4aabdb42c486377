package workflow

import (
	"time"

	"github.com/songzhibin97/entity-workflow/types"
)

// Item tracks one entity through a workflow. The current step and workflow
// are derived from the state history, which only ever grows.
// An Item must not be used by more than one goroutine at a time.
type Item struct {
	entityID        types.EntityID
	entity          any
	currentStepName string
	workflowName    string
	stateHistory    []State
	recorded        []State
	now             func() time.Time
}

// InitializeItem creates an item without history.
func InitializeItem(entityID types.EntityID, entity any) *Item {
	return &Item{entityID: entityID, entity: entity, now: time.Now}
}

// ReconstituteItem replays the ordered state history of an entity.
func ReconstituteItem(entityID types.EntityID, entity any, states []State) *Item {
	item := InitializeItem(entityID, entity)
	for _, state := range states {
		item.apply(state)
	}
	return item
}

// EntityID returns the id of the tracked entity.
func (i *Item) EntityID() types.EntityID {
	return i.entityID
}

// Entity returns the tracked entity. The core never inspects it.
func (i *Item) Entity() any {
	return i.entity
}

// SetEntity replaces the entity, e.g. from an action working on value types.
func (i *Item) SetEntity(entity any) {
	i.entity = entity
}

// CurrentStepName is empty until the first successful state.
func (i *Item) CurrentStepName() string {
	return i.currentStepName
}

// WorkflowName returns the workflow of the item, empty if never attempted.
func (i *Item) WorkflowName() string {
	return i.workflowName
}

// IsWorkflowStarted reports whether the item reached a step.
func (i *Item) IsWorkflowStarted() bool {
	return i.currentStepName != ""
}

// StateHistory returns every recorded state, oldest first.
func (i *Item) StateHistory() []State {
	return append([]State(nil), i.stateHistory...)
}

// LatestState returns the most recent state.
func (i *Item) LatestState() (State, bool) {
	if len(i.stateHistory) == 0 {
		return State{}, false
	}
	return i.stateHistory[len(i.stateHistory)-1], true
}

// LatestSuccessfulState returns the most recent successful state.
func (i *Item) LatestSuccessfulState() (State, bool) {
	for idx := len(i.stateHistory) - 1; idx >= 0; idx-- {
		if i.stateHistory[idx].IsSuccessful() {
			return i.stateHistory[idx], true
		}
	}
	return State{}, false
}

// Start records the first state. It fails if the item already reached a step.
func (i *Item) Start(t *Transition, wfCtx *Context, success bool) (State, error) {
	if i.IsWorkflowStarted() {
		return State{}, flowError("item %s already started in workflow %q", i.entityID, i.workflowName)
	}
	state, err := StartState(i.entityID, t, wfCtx, success, i.nextTimestamp())
	if err != nil {
		return State{}, err
	}
	i.record(state)
	return state, nil
}

// Transit records the next state. It fails if the item has not reached a step yet.
func (i *Item) Transit(t *Transition, wfCtx *Context, success bool) (State, error) {
	if !i.IsWorkflowStarted() {
		return State{}, flowError("item %s not started", i.entityID)
	}
	latest, _ := i.LatestState()
	state, err := latest.Transit(t, wfCtx, success, i.nextTimestamp())
	if err != nil {
		return State{}, err
	}
	i.record(state)
	return state, nil
}

// ReleaseRecordedStateChanges hands the not yet persisted states over to the
// caller and clears the buffer.
func (i *Item) ReleaseRecordedStateChanges() []State {
	released := i.recorded
	i.recorded = nil
	return released
}

// confirm replaces the history entry reached at the same time with its
// persisted form.
func (i *Item) confirm(stored State) {
	for idx := len(i.stateHistory) - 1; idx >= 0; idx-- {
		if i.stateHistory[idx].ReachedAt().Equal(stored.ReachedAt()) {
			i.stateHistory[idx] = stored
			return
		}
	}
}

func (i *Item) record(state State) {
	i.recorded = append(i.recorded, state)
	i.apply(state)
}

func (i *Item) apply(state State) {
	if state.IsSuccessful() {
		i.currentStepName = state.StepName()
		i.workflowName = state.WorkflowName()
	} else if i.currentStepName == "" {
		// a failed start still tells which workflow was attempted
		i.workflowName = state.WorkflowName()
	}
	i.stateHistory = append(i.stateHistory, state)
}

// nextTimestamp never returns a time before or equal to the latest state.
func (i *Item) nextTimestamp() time.Time {
	now := i.now()
	if latest, ok := i.LatestState(); ok && !now.After(latest.ReachedAt()) {
		now = latest.ReachedAt().Add(time.Nanosecond)
	}
	return now
}

// itemSnapshot copies both buffers, persisting drains recorded and
// confirming rewrites history in place.
type itemSnapshot struct {
	currentStepName string
	workflowName    string
	history         []State
	recorded        []State
}

func (i *Item) snapshot() itemSnapshot {
	return itemSnapshot{
		currentStepName: i.currentStepName,
		workflowName:    i.workflowName,
		history:         append([]State(nil), i.stateHistory...),
		recorded:        append([]State(nil), i.recorded...),
	}
}

func (i *Item) restore(s itemSnapshot) {
	i.currentStepName = s.currentStepName
	i.workflowName = s.workflowName
	i.stateHistory = s.history
	i.recorded = s.recorded
}
