package workflow

import "github.com/songzhibin97/entity-workflow/types"

// Error codes of the composite conditions.
const (
	CodeAndFailed         = "transition.condition.and.failed"
	CodeOrFailed          = "transition.condition.or.failed"
	CodeWorkflowAndFailed = "workflow.condition.and.failed"
	CodeWorkflowOrFailed  = "workflow.condition.or.failed"
)

// Condition decides whether a transition may run for an item.
// A failing condition explains itself by adding entries to wfCtx.Errors().
type Condition interface {
	Match(t *Transition, item *Item, wfCtx *Context) bool
}

// ConditionFunc adapts a function to Condition.
type ConditionFunc func(t *Transition, item *Item, wfCtx *Context) bool

// Match implements Condition.
func (f ConditionFunc) Match(t *Transition, item *Item, wfCtx *Context) bool {
	return f(t, item, wfCtx)
}

// AndCondition matches when every child matches. Every child is evaluated
// so that all reasons are reported. No children means a match.
type AndCondition struct {
	conditions []Condition
}

// NewAndCondition creates an AND composite.
func NewAndCondition(conditions ...Condition) *AndCondition {
	return &AndCondition{conditions: conditions}
}

// AddCondition appends a child.
func (c *AndCondition) AddCondition(cond Condition) *AndCondition {
	c.conditions = append(c.conditions, cond)
	return c
}

// Conditions returns the children.
func (c *AndCondition) Conditions() []Condition {
	return append([]Condition(nil), c.conditions...)
}

// Match implements Condition.
func (c *AndCondition) Match(t *Transition, item *Item, wfCtx *Context) bool {
	success := true
	for _, cond := range c.conditions {
		local := wfCtx.WithEmptyErrors()
		if !cond.Match(t, item, local) {
			success = false
			wfCtx.AddError(CodeAndFailed, nil, local.Errors())
		}
	}
	return success
}

// OrCondition matches when the first child matches. No children means a match.
type OrCondition struct {
	conditions []Condition
}

// NewOrCondition creates an OR composite.
func NewOrCondition(conditions ...Condition) *OrCondition {
	return &OrCondition{conditions: conditions}
}

// AddCondition appends a child.
func (c *OrCondition) AddCondition(cond Condition) *OrCondition {
	c.conditions = append(c.conditions, cond)
	return c
}

// Conditions returns the children.
func (c *OrCondition) Conditions() []Condition {
	return append([]Condition(nil), c.conditions...)
}

// Match implements Condition.
func (c *OrCondition) Match(t *Transition, item *Item, wfCtx *Context) bool {
	if len(c.conditions) == 0 {
		return true
	}
	failed := make([]*types.ErrorCollection, 0, len(c.conditions))
	for _, cond := range c.conditions {
		local := wfCtx.WithEmptyErrors()
		if cond.Match(t, item, local) {
			return true
		}
		failed = append(failed, local.Errors())
	}
	for _, errs := range failed {
		wfCtx.AddError(CodeOrFailed, nil, errs)
	}
	return false
}

// WorkflowCondition decides whether a workflow claims an entity.
type WorkflowCondition interface {
	Match(wf *Workflow, entityID types.EntityID, entity any, errs *types.ErrorCollection) bool
}

// WorkflowConditionFunc adapts a function to WorkflowCondition.
type WorkflowConditionFunc func(wf *Workflow, entityID types.EntityID, entity any, errs *types.ErrorCollection) bool

// Match implements WorkflowCondition.
func (f WorkflowConditionFunc) Match(wf *Workflow, entityID types.EntityID, entity any, errs *types.ErrorCollection) bool {
	return f(wf, entityID, entity, errs)
}

// WorkflowAndCondition is the AND composite of the workflow scope.
type WorkflowAndCondition struct {
	conditions []WorkflowCondition
}

// NewWorkflowAndCondition creates an AND composite.
func NewWorkflowAndCondition(conditions ...WorkflowCondition) *WorkflowAndCondition {
	return &WorkflowAndCondition{conditions: conditions}
}

// AddCondition appends a child.
func (c *WorkflowAndCondition) AddCondition(cond WorkflowCondition) *WorkflowAndCondition {
	c.conditions = append(c.conditions, cond)
	return c
}

// Conditions returns the children.
func (c *WorkflowAndCondition) Conditions() []WorkflowCondition {
	return append([]WorkflowCondition(nil), c.conditions...)
}

// Match implements WorkflowCondition.
func (c *WorkflowAndCondition) Match(wf *Workflow, entityID types.EntityID, entity any, errs *types.ErrorCollection) bool {
	success := true
	for _, cond := range c.conditions {
		local := types.NewErrorCollection()
		if !cond.Match(wf, entityID, entity, local) {
			success = false
			errs.Add(CodeWorkflowAndFailed, nil, local)
		}
	}
	return success
}

// WorkflowOrCondition is the OR composite of the workflow scope.
type WorkflowOrCondition struct {
	conditions []WorkflowCondition
}

// NewWorkflowOrCondition creates an OR composite.
func NewWorkflowOrCondition(conditions ...WorkflowCondition) *WorkflowOrCondition {
	return &WorkflowOrCondition{conditions: conditions}
}

// AddCondition appends a child.
func (c *WorkflowOrCondition) AddCondition(cond WorkflowCondition) *WorkflowOrCondition {
	c.conditions = append(c.conditions, cond)
	return c
}

// Conditions returns the children.
func (c *WorkflowOrCondition) Conditions() []WorkflowCondition {
	return append([]WorkflowCondition(nil), c.conditions...)
}

// Match implements WorkflowCondition.
func (c *WorkflowOrCondition) Match(wf *Workflow, entityID types.EntityID, entity any, errs *types.ErrorCollection) bool {
	if len(c.conditions) == 0 {
		return true
	}
	failed := make([]*types.ErrorCollection, 0, len(c.conditions))
	for _, cond := range c.conditions {
		local := types.NewErrorCollection()
		if cond.Match(wf, entityID, entity, local) {
			return true
		}
		failed = append(failed, local)
	}
	for _, local := range failed {
		errs.Add(CodeWorkflowOrFailed, nil, local)
	}
	return false
}
