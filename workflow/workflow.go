package workflow

import (
	"fmt"

	"github.com/songzhibin97/entity-workflow/types"
)

// Workflow aggregates the steps and transitions of one life cycle.
// It owns its steps and transitions; transitions refer back to it by name only.
type Workflow struct {
	types.Element
	providerName    string
	steps           []*Step
	transitions     []*Transition
	startTransition string
	condition       *WorkflowAndCondition
	roles           []*Role
}

// NewWorkflow creates a workflow for entities of the given provider.
func NewWorkflow(name, providerName string, opts ...types.ElementOption) *Workflow {
	return &Workflow{
		Element:      types.NewElement(name, opts...),
		providerName: providerName,
	}
}

// ProviderName returns the provider name of the entities handled by the workflow.
func (w *Workflow) ProviderName() string {
	return w.providerName
}

// AddStep adds a step and binds it to the workflow.
func (w *Workflow) AddStep(step *Step) error {
	if w.HasStep(step.Name()) {
		return fmt.Errorf("%w: step %q in workflow %q", ErrDuplicateName, step.Name(), w.Name())
	}
	step.workflowName = w.Name()
	w.steps = append(w.steps, step)
	return nil
}

// GetStep returns the named step.
func (w *Workflow) GetStep(name string) (*Step, error) {
	for _, step := range w.steps {
		if step.Name() == name {
			return step, nil
		}
	}
	return nil, notFound(KindStep, name, w.Name())
}

// HasStep reports whether the named step exists.
func (w *Workflow) HasStep(name string) bool {
	_, err := w.GetStep(name)
	return err == nil
}

// Steps returns the steps in insertion order.
func (w *Workflow) Steps() []*Step {
	return append([]*Step(nil), w.steps...)
}

// AddTransition creates a transition owned by the workflow.
// stepTo may be nil and assigned later, but must be set before use.
func (w *Workflow) AddTransition(name string, stepTo *Step, opts ...types.ElementOption) (*Transition, error) {
	if w.HasTransition(name) {
		return nil, fmt.Errorf("%w: transition %q in workflow %q", ErrDuplicateName, name, w.Name())
	}
	t := &Transition{
		Element:      types.NewElement(name, opts...),
		workflowName: w.Name(),
		stepTo:       stepTo,
	}
	w.transitions = append(w.transitions, t)
	return t, nil
}

// GetTransition returns the named transition.
func (w *Workflow) GetTransition(name string) (*Transition, error) {
	for _, t := range w.transitions {
		if t.Name() == name {
			return t, nil
		}
	}
	return nil, notFound(KindTransition, name, w.Name())
}

// HasTransition reports whether the named transition exists.
func (w *Workflow) HasTransition(name string) bool {
	_, err := w.GetTransition(name)
	return err == nil
}

// Transitions returns the transitions in insertion order.
func (w *Workflow) Transitions() []*Transition {
	return append([]*Transition(nil), w.transitions...)
}

// SetStartTransition designates the start transition. It must be a member transition.
func (w *Workflow) SetStartTransition(name string) error {
	if _, err := w.GetTransition(name); err != nil {
		return err
	}
	w.startTransition = name
	return nil
}

// StartTransition returns the start transition.
func (w *Workflow) StartTransition() (*Transition, error) {
	if w.startTransition == "" {
		return nil, fmt.Errorf("%w: workflow %q", ErrStartTransitionNotSet, w.Name())
	}
	return w.GetTransition(w.startTransition)
}

// AddRole adds a role to the workflow.
func (w *Workflow) AddRole(role *Role) error {
	if _, err := w.GetRole(role.Name()); err == nil {
		return fmt.Errorf("%w: role %q in workflow %q", ErrDuplicateName, role.Name(), w.Name())
	}
	role.workflowName = w.Name()
	w.roles = append(w.roles, role)
	return nil
}

// GetRole returns the named role.
func (w *Workflow) GetRole(name string) (*Role, error) {
	for _, r := range w.roles {
		if r.Name() == name {
			return r, nil
		}
	}
	return nil, notFound(KindRole, name, w.Name())
}

// Roles returns the roles in insertion order.
func (w *Workflow) Roles() []*Role {
	return append([]*Role(nil), w.roles...)
}

// AddCondition adds a condition restricting which entities the workflow claims.
func (w *Workflow) AddCondition(cond WorkflowCondition) *Workflow {
	if w.condition == nil {
		w.condition = NewWorkflowAndCondition()
	}
	w.condition.AddCondition(cond)
	return w
}

// Condition returns the workflow condition, nil if none was added.
func (w *Workflow) Condition() *WorkflowAndCondition {
	return w.condition
}

// Supports reports whether the workflow claims the entity. The provider name
// has to match and the workflow condition, if any, must match as well.
// errs may be nil.
func (w *Workflow) Supports(entityID types.EntityID, entity any, errs *types.ErrorCollection) bool {
	if entityID.ProviderName() != w.providerName {
		return false
	}
	if w.condition == nil {
		return true
	}
	if errs == nil {
		errs = types.NewErrorCollection()
	}
	return w.condition.Match(w, entityID, entity, errs)
}

// AvailableTransitions returns the transitions which could be offered for item.
func (w *Workflow) AvailableTransitions(item *Item, wfCtx *Context) ([]*Transition, error) {
	var candidates []*Transition
	if !item.IsWorkflowStarted() {
		start, err := w.StartTransition()
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, start)
	} else {
		step, err := w.GetStep(item.CurrentStepName())
		if err != nil {
			return nil, err
		}
		for _, name := range step.AllowedTransitions() {
			t, err := w.GetTransition(name)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, t)
		}
	}

	available := make([]*Transition, 0, len(candidates))
	for _, t := range candidates {
		if t.IsAvailable(item, wfCtx) {
			available = append(available, t)
		}
	}
	return available, nil
}
