package workflow

import (
	"context"
	"errors"

	"github.com/songzhibin97/entity-workflow/types"
)

// CodeActionFailed is recorded when an action reports an ActionFailedError.
const CodeActionFailed = "transition.action.failed"

// Transition is a named edge leading to a target step.
// Transitions are created through Workflow.AddTransition and keep the name
// of their owning workflow for their whole life.
type Transition struct {
	types.Element
	workflowName string
	stepTo       *Step
	preCondition *AndCondition
	condition    *AndCondition
	permission   *Permission
	actions      []Action
	postActions  []Action
}

// WorkflowName returns the name of the owning workflow.
func (t *Transition) WorkflowName() string {
	return t.workflowName
}

// StepTo returns the target step, nil until assigned.
func (t *Transition) StepTo() *Step {
	return t.stepTo
}

// SetStepTo assigns the target step. It may belong to another workflow.
func (t *Transition) SetStepTo(step *Step) *Transition {
	t.stepTo = step
	return t
}

// Permission returns the permission required to use the transition.
func (t *Transition) Permission() (Permission, bool) {
	if t.permission == nil {
		return Permission{}, false
	}
	return *t.permission, true
}

// SetPermission sets the transition permission.
func (t *Transition) SetPermission(p Permission) *Transition {
	t.permission = &p
	return t
}

// AddAction appends actions executed before the state is recorded.
func (t *Transition) AddAction(actions ...Action) *Transition {
	t.actions = append(t.actions, actions...)
	return t
}

// Actions returns the main actions.
func (t *Transition) Actions() []Action {
	return append([]Action(nil), t.actions...)
}

// AddPostAction appends actions executed after a successful state was recorded.
func (t *Transition) AddPostAction(actions ...Action) *Transition {
	t.postActions = append(t.postActions, actions...)
	return t
}

// PostActions returns the post actions.
func (t *Transition) PostActions() []Action {
	return append([]Action(nil), t.postActions...)
}

// AddCondition adds a condition gating execution.
func (t *Transition) AddCondition(cond Condition) *Transition {
	if t.condition == nil {
		t.condition = NewAndCondition()
	}
	t.condition.AddCondition(cond)
	return t
}

// Condition returns the condition composite, nil if none was added.
func (t *Transition) Condition() *AndCondition {
	return t.condition
}

// AddPreCondition adds a condition gating availability.
func (t *Transition) AddPreCondition(cond Condition) *Transition {
	if t.preCondition == nil {
		t.preCondition = NewAndCondition()
	}
	t.preCondition.AddCondition(cond)
	return t
}

// PreCondition returns the pre-condition composite, nil if none was added.
func (t *Transition) PreCondition() *AndCondition {
	return t.preCondition
}

// CheckPreCondition evaluates the pre-conditions. No pre-conditions means success.
func (t *Transition) CheckPreCondition(item *Item, wfCtx *Context) bool {
	if t.preCondition == nil {
		return true
	}
	return t.preCondition.Match(t, item, wfCtx)
}

// CheckCondition evaluates the conditions. No conditions means success.
func (t *Transition) CheckCondition(item *Item, wfCtx *Context) bool {
	if t.condition == nil {
		return true
	}
	return t.condition.Match(t, item, wfCtx)
}

// IsAllowed reports whether pre-conditions and conditions both match.
func (t *Transition) IsAllowed(item *Item, wfCtx *Context) bool {
	return t.CheckPreCondition(item, wfCtx) && t.CheckCondition(item, wfCtx)
}

// IsAvailable reports whether the transition can be offered to a user.
// When the actions still need payload input only the pre-conditions count.
func (t *Transition) IsAvailable(item *Item, wfCtx *Context) bool {
	if len(t.RequiredPayloadProperties(item)) > 0 {
		return t.CheckPreCondition(item, wfCtx)
	}
	return t.IsAllowed(item, wfCtx)
}

// RequiredPayloadProperties merges the payload requirements of all actions.
func (t *Transition) RequiredPayloadProperties(item *Item) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, action := range t.actions {
		for _, name := range action.RequiredPayloadProperties(item) {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

// Validate runs the validation of every main action.
func (t *Transition) Validate(item *Item, wfCtx *Context) bool {
	valid := true
	for _, action := range t.actions {
		if !action.Validate(item, wfCtx) {
			valid = false
		}
	}
	return valid
}

// ExecuteActions runs the main actions in order. An ActionFailedError stops the
// phase and is recorded into wfCtx; the result is then false with a nil error.
func (t *Transition) ExecuteActions(ctx context.Context, item *Item, wfCtx *Context) (bool, error) {
	return t.execute(ctx, t.actions, item, wfCtx)
}

// ExecutePostActions runs the post actions with the same failure handling.
func (t *Transition) ExecutePostActions(ctx context.Context, item *Item, wfCtx *Context) (bool, error) {
	return t.execute(ctx, t.postActions, item, wfCtx)
}

func (t *Transition) execute(ctx context.Context, actions []Action, item *Item, wfCtx *Context) (bool, error) {
	for _, action := range actions {
		err := action.Transit(ctx, t, item, wfCtx)
		if err == nil {
			continue
		}
		var failed *ActionFailedError
		if !errors.As(err, &failed) {
			return false, err
		}
		params := map[string]any{"transition": t.Name()}
		if failed.Action != "" {
			params["action"] = failed.Action
		}
		if failed.Err != nil {
			params["reason"] = failed.Err.Error()
		}
		wfCtx.AddError(CodeActionFailed, params, failed.Errors)
		return false, nil
	}
	return true, nil
}
