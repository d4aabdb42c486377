package definition

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/songzhibin97/entity-workflow/actions"
	"github.com/songzhibin97/entity-workflow/rules"
	"github.com/songzhibin97/entity-workflow/types"
	"github.com/songzhibin97/entity-workflow/workflow"
)

// Condition node types.
const (
	ConditionAnd                  = "and"
	ConditionOr                   = "or"
	ConditionPayload              = "payload"
	ConditionExpression           = "expression"
	ConditionTransitionPermission = "transition_permission"
	ConditionStepPermission       = "step_permission"
	ConditionProvider             = "provider"
	ConditionConfig               = "config"
)

// Built-in action types.
const (
	ActionPayloadProperty = "payload_property"
	ActionEntityProperty  = "entity_property"
	ActionLog             = "log"
)

// ActionFactory creates an action from its definition.
type ActionFactory func(def Action) (workflow.Action, error)

// Builder turns documents into workflow graphs.
type Builder struct {
	mu        sync.RWMutex
	actions   map[string]ActionFactory
	checker   workflow.PermissionChecker
	evaluator rules.Evaluator
	workflows rules.WorkflowProvider
	logger    *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithAction registers an action factory under typ, replacing built-ins of the same name.
func WithAction(typ string, factory ActionFactory) Option {
	return func(b *Builder) {
		b.actions[typ] = factory
	}
}

// WithPermissionChecker sets the checker of permission conditions.
func WithPermissionChecker(checker workflow.PermissionChecker) Option {
	return func(b *Builder) {
		b.checker = checker
	}
}

// WithEvaluator replaces the default expression evaluator.
func WithEvaluator(evaluator rules.Evaluator) Option {
	return func(b *Builder) {
		if evaluator != nil {
			b.evaluator = evaluator
		}
	}
}

// WithWorkflowProvider sets where step permission conditions look up
// workflows. Defaults to the workflows of the built document.
func WithWorkflowProvider(provider rules.WorkflowProvider) Option {
	return func(b *Builder) {
		b.workflows = provider
	}
}

// WithLogger sets the logger of log actions.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBuilder creates a Builder with the built-in actions and an expr evaluator.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		actions:   make(map[string]ActionFactory),
		evaluator: rules.NewExprEvaluator(),
		logger:    slog.Default(),
	}
	b.actions[ActionPayloadProperty] = func(def Action) (workflow.Action, error) {
		if len(def.Properties) == 0 {
			return nil, fmt.Errorf("action %q requires properties", def.Type)
		}
		return actions.NewPayloadPropertyAction(actionName(def), def.Properties...), nil
	}
	b.actions[ActionEntityProperty] = func(def Action) (workflow.Action, error) {
		if def.Property == "" {
			return nil, fmt.Errorf("action %q requires property", def.Type)
		}
		return &actions.EntityPropertyAction{
			Name:        actionName(def),
			Property:    def.Property,
			Value:       def.Value,
			FromPayload: def.FromPayload,
		}, nil
	}
	b.actions[ActionLog] = func(def Action) (workflow.Action, error) {
		return &actions.LogAction{Name: actionName(def), Logger: b.logger}, nil
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RegisterAction registers an action factory after construction.
func (b *Builder) RegisterAction(typ string, factory ActionFactory) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actions[typ] = factory
}

// Load parses data and builds its workflows.
func (b *Builder) Load(data []byte) ([]*workflow.Workflow, error) {
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return b.Build(doc)
}

// LoadFiles parses every file and builds the merged document, so
// transitions may switch to workflows defined in another file.
func (b *Builder) LoadFiles(paths ...string) ([]*workflow.Workflow, error) {
	docs := make([]*Document, 0, len(paths))
	for _, path := range paths {
		doc, err := ParseFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		docs = append(docs, doc)
	}
	return b.Build(Merge(docs...))
}

// Build creates the workflows of doc. Steps of all workflows are created
// before any transition, so a transition may target a step of a workflow
// defined later in the document.
func (b *Builder) Build(doc *Document) ([]*workflow.Workflow, error) {
	index := workflowIndex{}
	out := make([]*workflow.Workflow, 0, len(doc.Workflows))

	for _, def := range doc.Workflows {
		wf, err := b.buildSkeleton(def)
		if err != nil {
			return nil, err
		}
		if _, ok := index[wf.Name()]; ok {
			return nil, invalid("workflow %q defined twice", wf.Name())
		}
		index[wf.Name()] = wf
		out = append(out, wf)
	}

	provider := b.workflows
	if provider == nil {
		provider = index
	}
	for i, def := range doc.Workflows {
		if err := b.buildTransitions(out[i], def, index, provider); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (b *Builder) buildSkeleton(def Workflow) (*workflow.Workflow, error) {
	if def.Name == "" {
		return nil, invalid("workflow without name")
	}
	if def.Provider == "" {
		return nil, invalid("workflow %q: provider is required", def.Name)
	}
	wf := workflow.NewWorkflow(def.Name, def.Provider, elementOptions(def.Label, def.Config)...)

	for _, sd := range def.Steps {
		if sd.Name == "" {
			return nil, invalid("workflow %q: step without name", def.Name)
		}
		step := workflow.NewStep(sd.Name, elementOptions(sd.Label, sd.Config)...).
			SetFinal(sd.Final).
			AllowTransition(sd.Transitions...)
		if sd.Permission != "" {
			p, err := permission(def.Name, sd.Permission)
			if err != nil {
				return nil, invalid("workflow %q step %q: %v", def.Name, sd.Name, err)
			}
			step.SetPermission(p)
		}
		if err := wf.AddStep(step); err != nil {
			return nil, invalid("%v", err)
		}
	}

	for _, rd := range def.Roles {
		role := workflow.NewRole(rd.Name, def.Name, elementOptions(rd.Label, nil)...)
		for _, ps := range rd.Permissions {
			p, err := permission(def.Name, ps)
			if err != nil {
				return nil, invalid("workflow %q role %q: %v", def.Name, rd.Name, err)
			}
			role.AddPermission(p)
		}
		if err := wf.AddRole(role); err != nil {
			return nil, invalid("%v", err)
		}
	}

	for _, cd := range def.Conditions {
		cond, err := b.workflowCondition(cd)
		if err != nil {
			return nil, invalid("workflow %q: %v", def.Name, err)
		}
		wf.AddCondition(cond)
	}
	return wf, nil
}

func (b *Builder) buildTransitions(wf *workflow.Workflow, def Workflow, index workflowIndex, provider rules.WorkflowProvider) error {
	for _, td := range def.Transitions {
		if td.Name == "" {
			return invalid("workflow %q: transition without name", def.Name)
		}
		target, err := index.step(def.Name, td.To)
		if err != nil {
			return invalid("workflow %q transition %q: %v", def.Name, td.Name, err)
		}
		t, err := wf.AddTransition(td.Name, target, elementOptions(td.Label, td.Config)...)
		if err != nil {
			return invalid("%v", err)
		}
		if td.Permission != "" {
			p, err := permission(def.Name, td.Permission)
			if err != nil {
				return invalid("workflow %q transition %q: %v", def.Name, td.Name, err)
			}
			t.SetPermission(p)
		}
		for _, cd := range td.PreConditions {
			cond, err := b.transitionCondition(cd, provider)
			if err != nil {
				return invalid("workflow %q transition %q: %v", def.Name, td.Name, err)
			}
			t.AddPreCondition(cond)
		}
		for _, cd := range td.Conditions {
			cond, err := b.transitionCondition(cd, provider)
			if err != nil {
				return invalid("workflow %q transition %q: %v", def.Name, td.Name, err)
			}
			t.AddCondition(cond)
		}
		for _, ad := range td.Actions {
			action, err := b.action(ad)
			if err != nil {
				return invalid("workflow %q transition %q: %v", def.Name, td.Name, err)
			}
			t.AddAction(action)
		}
		for _, ad := range td.PostActions {
			action, err := b.action(ad)
			if err != nil {
				return invalid("workflow %q transition %q: %v", def.Name, td.Name, err)
			}
			t.AddPostAction(action)
		}
	}

	for _, step := range wf.Steps() {
		for _, name := range step.AllowedTransitions() {
			if !wf.HasTransition(name) {
				return invalid("workflow %q step %q allows unknown transition %q", def.Name, step.Name(), name)
			}
		}
	}

	if def.Start == "" {
		return invalid("workflow %q: start transition is required", def.Name)
	}
	if err := wf.SetStartTransition(def.Start); err != nil {
		return invalid("%v", err)
	}
	return nil
}

func (b *Builder) transitionCondition(def Condition, provider rules.WorkflowProvider) (workflow.Condition, error) {
	switch def.Type {
	case ConditionAnd, ConditionOr:
		children := make([]workflow.Condition, 0, len(def.Conditions))
		for _, cd := range def.Conditions {
			child, err := b.transitionCondition(cd, provider)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		if def.Type == ConditionAnd {
			return workflow.NewAndCondition(children...), nil
		}
		return workflow.NewOrCondition(children...), nil
	case ConditionPayload:
		if def.Property == "" {
			return nil, fmt.Errorf("%s condition requires property", def.Type)
		}
		op, err := rules.ParseOperator(def.Operator)
		if err != nil {
			return nil, err
		}
		return rules.NewPayloadPropertyCondition(def.Property, def.Value, op), nil
	case ConditionExpression:
		if def.Expression == "" {
			return nil, fmt.Errorf("%s condition requires expression", def.Type)
		}
		return rules.NewExpressionCondition(def.Expression, b.evaluator), nil
	case ConditionTransitionPermission:
		if b.checker == nil {
			return nil, fmt.Errorf("%s condition requires a permission checker", def.Type)
		}
		return rules.NewTransitionPermissionCondition(b.checker, def.GrantByDefault), nil
	case ConditionStepPermission:
		if b.checker == nil {
			return nil, fmt.Errorf("%s condition requires a permission checker", def.Type)
		}
		return rules.NewStepPermissionCondition(b.checker, provider, def.AllowStart), nil
	default:
		return nil, fmt.Errorf("unknown transition condition type %q", def.Type)
	}
}

func (b *Builder) workflowCondition(def Condition) (workflow.WorkflowCondition, error) {
	switch def.Type {
	case ConditionAnd, ConditionOr:
		children := make([]workflow.WorkflowCondition, 0, len(def.Conditions))
		for _, cd := range def.Conditions {
			child, err := b.workflowCondition(cd)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		if def.Type == ConditionAnd {
			return workflow.NewWorkflowAndCondition(children...), nil
		}
		return workflow.NewWorkflowOrCondition(children...), nil
	case ConditionProvider:
		if def.Provider == "" {
			return nil, fmt.Errorf("%s condition requires provider", def.Type)
		}
		return rules.NewProviderNameCondition(def.Provider), nil
	case ConditionConfig:
		if def.Key == "" {
			return nil, fmt.Errorf("%s condition requires key", def.Type)
		}
		op, err := rules.ParseOperator(def.Operator)
		if err != nil {
			return nil, err
		}
		return rules.NewConfigValueCondition(def.Key, def.Value, op), nil
	case ConditionExpression:
		if def.Expression == "" {
			return nil, fmt.Errorf("%s condition requires expression", def.Type)
		}
		return rules.NewEntityExpressionCondition(def.Expression, b.evaluator), nil
	default:
		return nil, fmt.Errorf("unknown workflow condition type %q", def.Type)
	}
}

func (b *Builder) action(def Action) (workflow.Action, error) {
	b.mu.RLock()
	factory, ok := b.actions[def.Type]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown action type %q", def.Type)
	}
	action, err := factory(def)
	if err != nil {
		return nil, err
	}
	if def.Retries > 0 {
		action = actions.NewRetryAction(action, def.Retries, def.RetryDelay)
	}
	return action, nil
}

func actionName(def Action) string {
	if def.Name != "" {
		return def.Name
	}
	return def.Type
}

// permission accepts "workflow:role" or a bare role of the current workflow.
func permission(workflowName, value string) (workflow.Permission, error) {
	if !strings.Contains(value, ":") {
		return workflow.NewPermission(workflowName, value), nil
	}
	return workflow.ParsePermission(value)
}

func elementOptions(label string, config map[string]any) []types.ElementOption {
	var opts []types.ElementOption
	if label != "" {
		opts = append(opts, types.WithLabel(label))
	}
	if len(config) > 0 {
		opts = append(opts, types.WithConfig(config))
	}
	return opts
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDefinition, fmt.Sprintf(format, args...))
}

// workflowIndex resolves workflows of one document by name.
type workflowIndex map[string]*workflow.Workflow

// GetWorkflowByName implements rules.WorkflowProvider.
func (idx workflowIndex) GetWorkflowByName(name string) (*workflow.Workflow, error) {
	wf, ok := idx[name]
	if !ok {
		return nil, &workflow.NotFoundError{Kind: workflow.KindWorkflow, Name: name}
	}
	return wf, nil
}

// step resolves "step" in the current workflow or "workflow:step" anywhere.
func (idx workflowIndex) step(current, target string) (*workflow.Step, error) {
	if target == "" {
		return nil, fmt.Errorf("target step is required")
	}
	wfName, stepName := current, target
	if before, after, ok := strings.Cut(target, ":"); ok {
		wfName, stepName = before, after
	}
	wf, err := idx.GetWorkflowByName(wfName)
	if err != nil {
		return nil, err
	}
	return wf.GetStep(stepName)
}
