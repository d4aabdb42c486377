package workflow

import (
	"errors"
	"fmt"

	"github.com/songzhibin97/entity-workflow/types"
)

// Standard error definitions
var (
	// ErrNotFound is matched by every *NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrFlow signals an illegal use of the state machine. It is never retried.
	ErrFlow = errors.New("workflow flow error")
	// ErrActionFailed is matched by every *ActionFailedError.
	ErrActionFailed = errors.New("action failed")
	// ErrDuplicateName is returned when a graph element name is used twice in one container.
	ErrDuplicateName = errors.New("duplicate name")
	// ErrStartTransitionNotSet is returned when a workflow has no start transition.
	ErrStartTransitionNotSet = errors.New("start transition not set")
)

// Lookup kinds used in NotFoundError.
const (
	KindStep       = "step"
	KindTransition = "transition"
	KindRole       = "role"
	KindWorkflow   = "workflow"
)

// NotFoundError is returned when a lookup by name misses.
type NotFoundError struct {
	// Kind is the type of element searched for, e.g. "step".
	Kind string
	// Name is the searched name.
	Name string
	// Container is the name of the owning workflow or manager.
	Container string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.Container == "" {
		return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
	}
	return fmt.Sprintf("%s %q not found in workflow %q", e.Kind, e.Name, e.Container)
}

// Is makes errors.Is(err, ErrNotFound) work.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func notFound(kind, name, container string) error {
	return &NotFoundError{Kind: kind, Name: name, Container: container}
}

// ActionFailedError is the expected failure channel of an Action.
// The transition handler converts it into an unsuccessful State
// instead of propagating it.
type ActionFailedError struct {
	// Action names the failing action, may be empty.
	Action string
	// Errors carries the detailed reasons, may be nil.
	Errors *types.ErrorCollection
	// Err is an optional cause.
	Err error
}

// NewActionFailedError creates an ActionFailedError.
func NewActionFailedError(action string, errs *types.ErrorCollection) *ActionFailedError {
	return &ActionFailedError{Action: action, Errors: errs}
}

// Error implements the error interface.
func (e *ActionFailedError) Error() string {
	msg := ErrActionFailed.Error()
	if e.Action != "" {
		msg = fmt.Sprintf("action %q failed", e.Action)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Errors.HasErrors() {
		msg += " (" + e.Errors.String() + ")"
	}
	return msg
}

// Unwrap returns the cause.
func (e *ActionFailedError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrActionFailed) work.
func (e *ActionFailedError) Is(target error) bool {
	return target == ErrActionFailed
}

func flowError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFlow, fmt.Sprintf(format, args...))
}
