package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/songzhibin97/entity-workflow/workflow"
)

// RetryAction re-runs the wrapped action when it returns an unexpected error.
// Reported failures (*workflow.ActionFailedError) are final and returned at once.
type RetryAction struct {
	Action     workflow.Action
	MaxRetries int
	Delay      time.Duration
}

// NewRetryAction wraps action. Total attempts are 1 + maxRetries.
func NewRetryAction(action workflow.Action, maxRetries int, delay time.Duration) *RetryAction {
	return &RetryAction{Action: action, MaxRetries: maxRetries, Delay: delay}
}

// RequiredPayloadProperties implements workflow.Action.
func (a *RetryAction) RequiredPayloadProperties(item *workflow.Item) []string {
	return a.Action.RequiredPayloadProperties(item)
}

// Validate implements workflow.Action.
func (a *RetryAction) Validate(item *workflow.Item, wfCtx *workflow.Context) bool {
	return a.Action.Validate(item, wfCtx)
}

// Transit implements workflow.Action.
func (a *RetryAction) Transit(ctx context.Context, t *workflow.Transition, item *workflow.Item, wfCtx *workflow.Context) error {
	var lastErr error
	for i := 0; i <= a.MaxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := a.Action.Transit(ctx, t, item, wfCtx)
		if err == nil || errors.Is(err, workflow.ErrActionFailed) {
			return err
		}
		lastErr = err
		if i < a.MaxRetries && a.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.Delay):
			}
		}
	}
	return fmt.Errorf("action failed after %d retries: %w", a.MaxRetries, lastErr)
}

var _ workflow.Action = (*RetryAction)(nil)
