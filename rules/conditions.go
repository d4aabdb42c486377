package rules

import (
	"github.com/songzhibin97/entity-workflow/types"
	"github.com/songzhibin97/entity-workflow/workflow"
)

// Error codes of the leaf conditions.
const (
	CodePayloadPropertyFailed       = "transition.condition.payload_property.failed"
	CodeExpressionFailed            = "transition.condition.expression.failed"
	CodeTransitionPermissionFailed  = "transition.condition.transition_permission.failed"
	CodeTransitionPermissionMissing = "transition.condition.transition_permission.missing"
	CodeStepPermissionFailed        = "transition.condition.step_permission.failed"
	CodeStepPermissionStart         = "transition.condition.step_permission.not_started"
	CodeProviderNameFailed          = "workflow.condition.provider_name.failed"
	CodeConfigValueFailed           = "workflow.condition.config_value.failed"
	CodeEntityExpressionFailed      = "workflow.condition.expression.failed"
)

// WorkflowProvider looks up workflows by name. *workflow.Manager implements it.
type WorkflowProvider interface {
	GetWorkflowByName(name string) (*workflow.Workflow, error)
}

// PayloadPropertyCondition compares a payload property with an expected value.
// Dotted property names address namespaced payload values.
type PayloadPropertyCondition struct {
	Property string
	Value    any
	Operator Operator
}

// NewPayloadPropertyCondition creates a PayloadPropertyCondition.
func NewPayloadPropertyCondition(property string, value any, op Operator) *PayloadPropertyCondition {
	return &PayloadPropertyCondition{Property: property, Value: value, Operator: op}
}

// Match implements workflow.Condition.
func (c *PayloadPropertyCondition) Match(_ *workflow.Transition, _ *workflow.Item, wfCtx *workflow.Context) bool {
	actual, _ := wfCtx.Payload().Lookup(c.Property)
	if Compare(actual, c.Value, c.op()) {
		return true
	}
	wfCtx.AddError(CodePayloadPropertyFailed, map[string]any{
		"property": c.Property,
		"expected": c.Value,
		"actual":   actual,
		"operator": string(c.op()),
	}, nil)
	return false
}

func (c *PayloadPropertyCondition) op() Operator {
	if c.Operator == "" {
		return OpEquals
	}
	return c.Operator
}

// ExpressionCondition evaluates an expression with the variables payload,
// properties, entity, entity_id, step, workflow and transition.
type ExpressionCondition struct {
	Expression string
	Evaluator  Evaluator
}

// NewExpressionCondition creates an ExpressionCondition.
func NewExpressionCondition(expression string, evaluator Evaluator) *ExpressionCondition {
	return &ExpressionCondition{Expression: expression, Evaluator: evaluator}
}

// Match implements workflow.Condition.
func (c *ExpressionCondition) Match(t *workflow.Transition, item *workflow.Item, wfCtx *workflow.Context) bool {
	env := map[string]any{
		"payload":    wfCtx.Payload().Map(),
		"properties": wfCtx.Properties().Map(),
		"entity":     item.Entity(),
		"entity_id":  item.EntityID().String(),
		"step":       item.CurrentStepName(),
		"workflow":   item.WorkflowName(),
		"transition": t.Name(),
	}
	ok, err := c.Evaluator.Evaluate(c.Expression, env)
	if err != nil {
		wfCtx.AddError(CodeExpressionFailed, map[string]any{"expression": c.Expression, "error": err.Error()}, nil)
		return false
	}
	if !ok {
		wfCtx.AddError(CodeExpressionFailed, map[string]any{"expression": c.Expression}, nil)
	}
	return ok
}

// TransitionPermissionCondition requires the transition permission to be granted.
// Transitions without permission match if GrantByDefault is set.
type TransitionPermissionCondition struct {
	Checker        workflow.PermissionChecker
	GrantByDefault bool
}

// NewTransitionPermissionCondition creates a TransitionPermissionCondition.
func NewTransitionPermissionCondition(checker workflow.PermissionChecker, grantByDefault bool) *TransitionPermissionCondition {
	return &TransitionPermissionCondition{Checker: checker, GrantByDefault: grantByDefault}
}

// Match implements workflow.Condition.
func (c *TransitionPermissionCondition) Match(t *workflow.Transition, item *workflow.Item, wfCtx *workflow.Context) bool {
	permission, ok := t.Permission()
	if !ok {
		if !c.GrantByDefault {
			wfCtx.AddError(CodeTransitionPermissionMissing, map[string]any{"transition": t.Name()}, nil)
		}
		return c.GrantByDefault
	}
	if c.Checker.IsGranted(permission, item) {
		return true
	}
	wfCtx.AddError(CodeTransitionPermissionFailed, map[string]any{
		"transition": t.Name(),
		"permission": permission.String(),
	}, nil)
	return false
}

// StepPermissionCondition requires the permission of the item's current step.
// Unstarted items match only if AllowStart is set, steps without permission always match.
type StepPermissionCondition struct {
	Checker    workflow.PermissionChecker
	Workflows  WorkflowProvider
	AllowStart bool
}

// NewStepPermissionCondition creates a StepPermissionCondition.
func NewStepPermissionCondition(checker workflow.PermissionChecker, workflows WorkflowProvider, allowStart bool) *StepPermissionCondition {
	return &StepPermissionCondition{Checker: checker, Workflows: workflows, AllowStart: allowStart}
}

// Match implements workflow.Condition.
func (c *StepPermissionCondition) Match(t *workflow.Transition, item *workflow.Item, wfCtx *workflow.Context) bool {
	if !item.IsWorkflowStarted() {
		if !c.AllowStart {
			wfCtx.AddError(CodeStepPermissionStart, map[string]any{"transition": t.Name()}, nil)
		}
		return c.AllowStart
	}

	wf, err := c.Workflows.GetWorkflowByName(item.WorkflowName())
	if err != nil {
		wfCtx.AddError(CodeStepPermissionFailed, map[string]any{"step": item.CurrentStepName(), "error": err.Error()}, nil)
		return false
	}
	step, err := wf.GetStep(item.CurrentStepName())
	if err != nil {
		wfCtx.AddError(CodeStepPermissionFailed, map[string]any{"step": item.CurrentStepName(), "error": err.Error()}, nil)
		return false
	}
	permission, ok := step.Permission()
	if !ok || c.Checker.IsGranted(permission, item) {
		return true
	}
	wfCtx.AddError(CodeStepPermissionFailed, map[string]any{
		"step":       step.Name(),
		"permission": permission.String(),
	}, nil)
	return false
}

// ProviderNameCondition matches entities of one provider.
type ProviderNameCondition struct {
	ProviderName string
}

// NewProviderNameCondition creates a ProviderNameCondition.
func NewProviderNameCondition(providerName string) *ProviderNameCondition {
	return &ProviderNameCondition{ProviderName: providerName}
}

// Match implements workflow.WorkflowCondition.
func (c *ProviderNameCondition) Match(_ *workflow.Workflow, entityID types.EntityID, _ any, errs *types.ErrorCollection) bool {
	if entityID.ProviderName() == c.ProviderName {
		return true
	}
	errs.Add(CodeProviderNameFailed, map[string]any{
		"expected": c.ProviderName,
		"actual":   entityID.ProviderName(),
	}, nil)
	return false
}

// ConfigValueCondition compares a workflow config value.
type ConfigValueCondition struct {
	Key      string
	Value    any
	Operator Operator
}

// NewConfigValueCondition creates a ConfigValueCondition.
func NewConfigValueCondition(key string, value any, op Operator) *ConfigValueCondition {
	return &ConfigValueCondition{Key: key, Value: value, Operator: op}
}

// Match implements workflow.WorkflowCondition.
func (c *ConfigValueCondition) Match(wf *workflow.Workflow, _ types.EntityID, _ any, errs *types.ErrorCollection) bool {
	op := c.Operator
	if op == "" {
		op = OpEquals
	}
	actual, _ := wf.Config(c.Key)
	if Compare(actual, c.Value, op) {
		return true
	}
	errs.Add(CodeConfigValueFailed, map[string]any{
		"key":      c.Key,
		"expected": c.Value,
		"actual":   actual,
		"operator": string(op),
	}, nil)
	return false
}

// EntityExpressionCondition evaluates an expression with the variables
// entity, entity_id, provider, workflow and config.
type EntityExpressionCondition struct {
	Expression string
	Evaluator  Evaluator
}

// NewEntityExpressionCondition creates an EntityExpressionCondition.
func NewEntityExpressionCondition(expression string, evaluator Evaluator) *EntityExpressionCondition {
	return &EntityExpressionCondition{Expression: expression, Evaluator: evaluator}
}

// Match implements workflow.WorkflowCondition.
func (c *EntityExpressionCondition) Match(wf *workflow.Workflow, entityID types.EntityID, entity any, errs *types.ErrorCollection) bool {
	env := map[string]any{
		"entity":    entity,
		"entity_id": entityID.String(),
		"provider":  entityID.ProviderName(),
		"workflow":  wf.Name(),
		"config":    wf.ConfigMap(),
	}
	ok, err := c.Evaluator.Evaluate(c.Expression, env)
	if err != nil {
		errs.Add(CodeEntityExpressionFailed, map[string]any{"expression": c.Expression, "error": err.Error()}, nil)
		return false
	}
	if !ok {
		errs.Add(CodeEntityExpressionFailed, map[string]any{"expression": c.Expression}, nil)
	}
	return ok
}

var (
	_ workflow.Condition         = (*PayloadPropertyCondition)(nil)
	_ workflow.Condition         = (*ExpressionCondition)(nil)
	_ workflow.Condition         = (*TransitionPermissionCondition)(nil)
	_ workflow.Condition         = (*StepPermissionCondition)(nil)
	_ workflow.WorkflowCondition = (*ProviderNameCondition)(nil)
	_ workflow.WorkflowCondition = (*ConfigValueCondition)(nil)
	_ workflow.WorkflowCondition = (*EntityExpressionCondition)(nil)
)
