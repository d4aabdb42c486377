package workflow

import "github.com/songzhibin97/entity-workflow/types"

// Step is a node in the workflow graph.
type Step struct {
	types.Element
	workflowName       string
	final              bool
	allowedTransitions []string
	permission         *Permission
}

// NewStep creates a step. It belongs to a workflow once added with Workflow.AddStep.
func NewStep(name string, opts ...types.ElementOption) *Step {
	return &Step{Element: types.NewElement(name, opts...)}
}

// WorkflowName returns the name of the owning workflow.
func (s *Step) WorkflowName() string {
	return s.workflowName
}

// IsFinal reports whether no transition may leave the step.
func (s *Step) IsFinal() bool {
	return s.final
}

// SetFinal marks the step as final or not.
func (s *Step) SetFinal(final bool) *Step {
	s.final = final
	return s
}

// AllowTransition allows the named transitions to leave the step.
// Duplicates are ignored, order of first insertion is kept.
func (s *Step) AllowTransition(names ...string) *Step {
	for _, name := range names {
		if !s.contains(name) {
			s.allowedTransitions = append(s.allowedTransitions, name)
		}
	}
	return s
}

// DisallowTransition removes a transition from the allowed set.
func (s *Step) DisallowTransition(name string) *Step {
	for i, n := range s.allowedTransitions {
		if n == name {
			s.allowedTransitions = append(s.allowedTransitions[:i], s.allowedTransitions[i+1:]...)
			break
		}
	}
	return s
}

// AllowedTransitions returns the allowed transition names. Always empty for final steps.
func (s *Step) AllowedTransitions() []string {
	if s.final {
		return nil
	}
	out := make([]string, len(s.allowedTransitions))
	copy(out, s.allowedTransitions)
	return out
}

// IsTransitionAllowed is always false for final steps.
func (s *Step) IsTransitionAllowed(name string) bool {
	if s.final {
		return false
	}
	return s.contains(name)
}

// Permission returns the permission required to act on items in this step.
func (s *Step) Permission() (Permission, bool) {
	if s.permission == nil {
		return Permission{}, false
	}
	return *s.permission, true
}

// SetPermission sets the step permission.
func (s *Step) SetPermission(p Permission) *Step {
	s.permission = &p
	return s
}

func (s *Step) contains(name string) bool {
	for _, n := range s.allowedTransitions {
		if n == name {
			return true
		}
	}
	return false
}
