package workflow

import (
	"context"

	"github.com/songzhibin97/entity-workflow/types"
)

// Specification selects entities in EntityRepository.FindBySpecification.
type Specification interface {
	IsSatisfiedBy(id types.EntityID, entity any) bool
}

// SpecificationFunc adapts a function to Specification.
type SpecificationFunc func(id types.EntityID, entity any) bool

// IsSatisfiedBy implements Specification.
func (f SpecificationFunc) IsSatisfiedBy(id types.EntityID, entity any) bool {
	return f(id, entity)
}

// EntityRepository stores the entities of one provider.
// The entity stays opaque, so the id is passed explicitly.
type EntityRepository interface {
	Find(ctx context.Context, id types.EntityID) (any, error)
	FindBySpecification(ctx context.Context, spec Specification) ([]any, error)
	Add(ctx context.Context, id types.EntityID, entity any) error
	Remove(ctx context.Context, id types.EntityID) error
}

// StateRepository stores the state history of items.
type StateRepository interface {
	// Find returns the states of an entity in the order they were reached.
	Find(ctx context.Context, id types.EntityID) ([]State, error)
	// Add appends a state and returns it with the id assigned by the store.
	Add(ctx context.Context, state State) (State, error)
}

// TransactionHandler groups the persistence of a state and its entity.
type TransactionHandler interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// EntityRepositories resolves the entity repository of a provider.
type EntityRepositories interface {
	EntityRepository(providerName string) (EntityRepository, error)
}

// EntityRepositoryMap is a static EntityRepositories implementation.
type EntityRepositoryMap map[string]EntityRepository

// EntityRepository implements EntityRepositories.
func (m EntityRepositoryMap) EntityRepository(providerName string) (EntityRepository, error) {
	repo, ok := m[providerName]
	if !ok {
		return nil, &NotFoundError{Kind: "entity repository", Name: providerName}
	}
	return repo, nil
}
