package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/entity-workflow/types"
)

// fakeStore is a StateRepository, EntityRepository and TransactionHandler
// that restores its content on Rollback.
type fakeStore struct {
	mu        sync.Mutex
	states    map[types.EntityID][]State
	entities  map[types.EntityID]any
	backup    *fakeStore
	nextID    uint64
	failState error
	failSave  error
	begins    int
	commits   int
	rollbacks int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		states:   make(map[types.EntityID][]State),
		entities: make(map[types.EntityID]any),
	}
}

func (s *fakeStore) Find(_ context.Context, id types.EntityID) ([]State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.states[id]...), nil
}

func (s *fakeStore) Add(_ context.Context, state State) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failState != nil {
		return State{}, s.failState
	}
	s.nextID++
	stored := state.WithStateID(s.nextID)
	s.states[state.EntityID()] = append(s.states[state.EntityID()], stored)
	return stored, nil
}

func (s *fakeStore) Begin(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backup != nil {
		return errors.New("transaction already active")
	}
	s.begins++
	s.backup = &fakeStore{states: make(map[types.EntityID][]State), entities: make(map[types.EntityID]any)}
	for k, v := range s.states {
		s.backup.states[k] = append([]State(nil), v...)
	}
	for k, v := range s.entities {
		s.backup.entities[k] = v
	}
	return nil
}

func (s *fakeStore) Commit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
	s.backup = nil
	return nil
}

func (s *fakeStore) Rollback(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollbacks++
	if s.backup != nil {
		s.states, s.entities = s.backup.states, s.backup.entities
		s.backup = nil
	}
	return nil
}

// entityRepo adapts the entity half of fakeStore to EntityRepository.
type entityRepo struct{ s *fakeStore }

func (r entityRepo) Find(_ context.Context, id types.EntityID) (any, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entity, ok := r.s.entities[id]
	if !ok {
		return nil, &NotFoundError{Kind: "entity", Name: id.String()}
	}
	return entity, nil
}

func (r entityRepo) FindBySpecification(_ context.Context, spec Specification) ([]any, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []any
	for id, entity := range r.s.entities {
		if spec.IsSatisfiedBy(id, entity) {
			out = append(out, entity)
		}
	}
	return out, nil
}

func (r entityRepo) Add(_ context.Context, id types.EntityID, entity any) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failSave != nil {
		return r.s.failSave
	}
	r.s.entities[id] = entity
	return nil
}

func (r entityRepo) Remove(_ context.Context, id types.EntityID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.entities, id)
	return nil
}

// payloadEquals is a minimal payload condition for tests of this package.
func payloadEquals(property string, expected any) Condition {
	return ConditionFunc(func(_ *Transition, _ *Item, wfCtx *Context) bool {
		actual, _ := wfCtx.Payload().Get(property)
		if actual == expected {
			return true
		}
		wfCtx.AddError("test.payload.failed", map[string]any{"property": property, "actual": actual}, nil)
		return false
	})
}

func failing(code string) Condition {
	return ConditionFunc(func(_ *Transition, _ *Item, wfCtx *Context) bool {
		wfCtx.AddError(code, nil, nil)
		return false
	})
}

func passing() Condition {
	return ConditionFunc(func(*Transition, *Item, *Context) bool { return true })
}

// reviewWorkflow builds draft -> pending -> published with a reject loop.
//
//	create:  -> draft
//	submit:  draft -> pending
//	approve: pending -> published (final)
//	reject:  pending -> draft
func reviewWorkflow(t *testing.T, name string) *Workflow {
	t.Helper()
	wf := NewWorkflow(name, "document")
	draft := NewStep("draft").AllowTransition("submit")
	pending := NewStep("pending").AllowTransition("approve", "reject")
	published := NewStep("published").SetFinal(true)
	for _, step := range []*Step{draft, pending, published} {
		require.NoError(t, wf.AddStep(step))
	}
	edges := []struct {
		name string
		to   *Step
	}{{"create", draft}, {"submit", pending}, {"approve", published}, {"reject", draft}}
	for _, e := range edges {
		_, err := wf.AddTransition(e.name, e.to)
		require.NoError(t, err)
	}
	require.NoError(t, wf.SetStartTransition("create"))
	return wf
}

func mustTransition(t *testing.T, wf *Workflow, name string) *Transition {
	t.Helper()
	tr, err := wf.GetTransition(name)
	require.NoError(t, err)
	return tr
}

func newTestHandler(t *testing.T, store *fakeStore, item *Item, wf *Workflow, transition string) *Handler {
	t.Helper()
	h, err := NewHandler(item, wf, transition, HandlerDeps{
		EntityRepository: entityRepo{store},
		StateRepository:  store,
		Transactions:     store,
	})
	require.NoError(t, err)
	return h
}
