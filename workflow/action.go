package workflow

import "context"

// Action is a host supplied side effect executed during a transition.
type Action interface {
	// RequiredPayloadProperties lists the payload properties the action needs for item.
	RequiredPayloadProperties(item *Item) []string

	// Validate checks the payload before anything is executed. Reasons go to wfCtx.Errors().
	Validate(item *Item, wfCtx *Context) bool

	// Transit performs the side effect. Expected failures are reported as
	// *ActionFailedError, any other error aborts the transition.
	Transit(ctx context.Context, t *Transition, item *Item, wfCtx *Context) error
}

// ActionFunc adapts a function to an Action without payload requirements.
type ActionFunc func(ctx context.Context, t *Transition, item *Item, wfCtx *Context) error

// RequiredPayloadProperties implements Action.
func (f ActionFunc) RequiredPayloadProperties(*Item) []string {
	return nil
}

// Validate implements Action.
func (f ActionFunc) Validate(*Item, *Context) bool {
	return true
}

// Transit implements Action.
func (f ActionFunc) Transit(ctx context.Context, t *Transition, item *Item, wfCtx *Context) error {
	return f(ctx, t, item, wfCtx)
}
