package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/songzhibin97/entity-workflow/types"
	"github.com/songzhibin97/entity-workflow/workflow"
)

// Errors
var (
	ErrEntityNotFound    = errors.New("entity not found")
	ErrTransactionActive = errors.New("transaction already active")
	ErrNoTransaction     = errors.New("no active transaction")
	ErrProviderMismatch  = errors.New("entity id belongs to another provider")
	ErrEntityType        = errors.New("unexpected entity type")
)

// Store is implemented by every backend of this package. A Store runs one
// transaction at a time; concurrent transitions need one Store each or
// external serialization.
type Store interface {
	workflow.StateRepository
	workflow.TransactionHandler
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}

func checkProvider(provider string, id types.EntityID) error {
	if id.ProviderName() != provider {
		return fmt.Errorf("%w: %s is not a %q entity", ErrProviderMismatch, id, provider)
	}
	return nil
}

func checkEntity[T any](entity any) error {
	if entity == nil {
		return nil
	}
	if _, ok := entity.(T); !ok {
		var zero T
		return fmt.Errorf("%w: got %T, want %T", ErrEntityType, entity, zero)
	}
	return nil
}

func notFound(id types.EntityID) error {
	return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
}
