package storage

import (
	"context"
	"sync"
	"time"

	"github.com/songzhibin97/gkit/generator"

	"github.com/songzhibin97/entity-workflow/types"
	"github.com/songzhibin97/entity-workflow/workflow"
)

// MemoryStorage is an in-memory implementation of Store.
// Writes made inside a transaction become visible on Commit.
type MemoryStorage struct {
	states   map[types.EntityID][]workflow.StateRecord
	entities map[string]map[types.EntityID]any
	pending  []func()
	inTx     bool
	ids      generator.Generator
	mu       sync.RWMutex
}

// MemoryOption configures a MemoryStorage.
type MemoryOption func(*MemoryStorage)

// WithIDGenerator sets the generator for state ids.
func WithIDGenerator(g generator.Generator) MemoryOption {
	return func(s *MemoryStorage) {
		if g != nil {
			s.ids = g
		}
	}
}

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage(opts ...MemoryOption) *MemoryStorage {
	s := &MemoryStorage{
		states:   make(map[types.EntityID][]workflow.StateRecord),
		entities: make(map[string]map[types.EntityID]any),
		ids:      generator.NewSnowflake(time.Now().Add(-time.Second), 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Find implements workflow.StateRepository.
func (s *MemoryStorage) Find(ctx context.Context, id types.EntityID) ([]workflow.State, error) {
	return withContext(ctx, func() ([]workflow.State, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		records := s.states[id]
		states := make([]workflow.State, 0, len(records))
		for _, rec := range records {
			states = append(states, workflow.NewStateFromRecord(rec))
		}
		return states, nil
	})
}

// Add implements workflow.StateRepository.
func (s *MemoryStorage) Add(ctx context.Context, state workflow.State) (workflow.State, error) {
	return withContext(ctx, func() (workflow.State, error) {
		id, err := s.ids.NextID()
		if err != nil {
			return workflow.State{}, err
		}
		stored := state.WithStateID(id)
		rec := stored.Record()
		s.write(func() {
			s.states[rec.EntityID] = append(s.states[rec.EntityID], rec)
		})
		return stored, nil
	})
}

// Begin implements workflow.TransactionHandler.
func (s *MemoryStorage) Begin(ctx context.Context) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.inTx {
			return ErrTransactionActive
		}
		s.inTx = true
		s.pending = nil
		return nil
	})
}

// Commit implements workflow.TransactionHandler.
func (s *MemoryStorage) Commit(ctx context.Context) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.inTx {
			return ErrNoTransaction
		}
		for _, op := range s.pending {
			op()
		}
		s.pending = nil
		s.inTx = false
		return nil
	})
}

// Rollback implements workflow.TransactionHandler. It does not honor
// cancellation so a failed transaction can always be discarded.
func (s *MemoryStorage) Rollback(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inTx {
		return ErrNoTransaction
	}
	s.pending = nil
	s.inTx = false
	return nil
}

// ClearStates removes the state history of an entity.
func (s *MemoryStorage) ClearStates(ctx context.Context, id types.EntityID) error {
	return withContextError(ctx, func() error {
		s.write(func() {
			delete(s.states, id)
		})
		return nil
	})
}

func (s *MemoryStorage) write(op func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inTx {
		s.pending = append(s.pending, op)
		return
	}
	op()
}

// MemoryEntityRepository stores entities of type T for one provider in a MemoryStorage.
type MemoryEntityRepository[T any] struct {
	store    *MemoryStorage
	provider string
}

// NewMemoryEntityRepository creates an entity repository sharing the storage transaction.
func NewMemoryEntityRepository[T any](store *MemoryStorage, provider string) *MemoryEntityRepository[T] {
	return &MemoryEntityRepository[T]{store: store, provider: provider}
}

// Find implements workflow.EntityRepository.
func (r *MemoryEntityRepository[T]) Find(ctx context.Context, id types.EntityID) (any, error) {
	return withContext(ctx, func() (any, error) {
		r.store.mu.RLock()
		defer r.store.mu.RUnlock()
		entity, ok := r.store.entities[r.provider][id]
		if !ok {
			return nil, notFound(id)
		}
		return entity, nil
	})
}

// FindBySpecification implements workflow.EntityRepository.
func (r *MemoryEntityRepository[T]) FindBySpecification(ctx context.Context, spec workflow.Specification) ([]any, error) {
	return withContext(ctx, func() ([]any, error) {
		r.store.mu.RLock()
		defer r.store.mu.RUnlock()
		var out []any
		for id, entity := range r.store.entities[r.provider] {
			if spec.IsSatisfiedBy(id, entity) {
				out = append(out, entity)
			}
		}
		return out, nil
	})
}

// Add implements workflow.EntityRepository.
func (r *MemoryEntityRepository[T]) Add(ctx context.Context, id types.EntityID, entity any) error {
	return withContextError(ctx, func() error {
		if err := checkProvider(r.provider, id); err != nil {
			return err
		}
		if err := checkEntity[T](entity); err != nil {
			return err
		}
		r.store.write(func() {
			if r.store.entities[r.provider] == nil {
				r.store.entities[r.provider] = make(map[types.EntityID]any)
			}
			r.store.entities[r.provider][id] = entity
		})
		return nil
	})
}

// Remove implements workflow.EntityRepository.
func (r *MemoryEntityRepository[T]) Remove(ctx context.Context, id types.EntityID) error {
	return withContextError(ctx, func() error {
		r.store.write(func() {
			delete(r.store.entities[r.provider], id)
		})
		return nil
	})
}

var (
	_ Store                     = (*MemoryStorage)(nil)
	_ workflow.EntityRepository = (*MemoryEntityRepository[any])(nil)
)
