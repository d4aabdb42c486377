package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/entity-workflow/types"
	"github.com/songzhibin97/entity-workflow/workflow"
)

type document struct {
	Title  string `json:"title"`
	Status string `json:"status"`
}

// backend bundles a store with a document repository sharing its transaction.
type backend struct {
	store    Store
	entities workflow.EntityRepository
}

// reviewTransitions builds a two step workflow and returns its transitions.
func reviewTransitions(t *testing.T) (create, submit *workflow.Transition) {
	t.Helper()
	wf := workflow.NewWorkflow("review", "document")
	draft := workflow.NewStep("draft").AllowTransition("submit")
	pending := workflow.NewStep("pending")
	require.NoError(t, wf.AddStep(draft))
	require.NoError(t, wf.AddStep(pending))
	create, err := wf.AddTransition("create", draft)
	require.NoError(t, err)
	submit, err = wf.AddTransition("submit", pending)
	require.NoError(t, err)
	return create, submit
}

// recordedStates produces a successful start and a failed submit for id.
func addState(t *testing.T, ctx context.Context, repo workflow.StateRepository, state workflow.State) workflow.State {
	t.Helper()
	stored, err := repo.Add(ctx, state)
	require.NoError(t, err)
	return stored
}

func recordedStates(t *testing.T, id types.EntityID) []workflow.State {
	t.Helper()
	create, submit := reviewTransitions(t)
	item := workflow.InitializeItem(id, document{Title: "a"})

	startCtx := workflow.NewContext(nil)
	startCtx.SetProperty("author", "alice")
	_, err := item.Start(create, startCtx, true)
	require.NoError(t, err)

	failCtx := workflow.NewContext(types.Properties{"confirm": false})
	failCtx.AddError("transition.condition.payload_property.failed", map[string]any{"property": "confirm"}, nil)
	_, err = item.Transit(submit, failCtx, false)
	require.NoError(t, err)

	return item.ReleaseRecordedStateChanges()
}

func runStoreSuite(t *testing.T, newBackend func(t *testing.T) backend) {
	ctx := context.Background()
	id := types.NewEntityID("document", 1)

	t.Run("FindEmpty", func(t *testing.T) {
		b := newBackend(t)
		states, err := b.store.Find(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, states)
	})

	t.Run("StatesRoundTrip", func(t *testing.T) {
		b := newBackend(t)
		want := recordedStates(t, id)
		stored := make([]workflow.State, 0, len(want))
		for _, s := range want {
			stored = append(stored, addState(t, ctx, b.store, s))
		}

		got, err := b.store.Find(ctx, id)
		require.NoError(t, err)
		require.Len(t, got, len(want))

		var lastID uint64
		for i := range want {
			stateID, ok := got[i].StateID()
			assert.True(t, ok)
			assert.Greater(t, stateID, lastID)
			lastID = stateID
			storedID, _ := stored[i].StateID()
			assert.Equal(t, stateID, storedID)

			assert.Equal(t, want[i].EntityID(), got[i].EntityID())
			assert.Equal(t, want[i].StartWorkflowName(), got[i].StartWorkflowName())
			assert.Equal(t, want[i].WorkflowName(), got[i].WorkflowName())
			assert.Equal(t, want[i].TransitionName(), got[i].TransitionName())
			assert.Equal(t, want[i].StepName(), got[i].StepName())
			assert.Equal(t, want[i].IsSuccessful(), got[i].IsSuccessful())
			assert.True(t, want[i].ReachedAt().Equal(got[i].ReachedAt()))
		}

		assert.Equal(t, map[string]any{"author": "alice"}, got[0].Data())
		assert.Empty(t, got[0].Errors())

		assert.Equal(t, "draft", got[1].StepName())
		assert.False(t, got[1].IsSuccessful())
		require.Len(t, got[1].Errors(), 1)
		assert.Equal(t, "transition.condition.payload_property.failed", got[1].Errors()[0].Code)
		assert.Equal(t, "confirm", got[1].Errors()[0].Params["property"])
	})

	t.Run("StatesAreScopedByEntity", func(t *testing.T) {
		b := newBackend(t)
		for _, s := range recordedStates(t, id) {
			addState(t, ctx, b.store, s)
		}
		states, err := b.store.Find(ctx, types.NewEntityID("document", 2))
		require.NoError(t, err)
		assert.Empty(t, states)
	})

	t.Run("ReconstituteItem", func(t *testing.T) {
		b := newBackend(t)
		for _, s := range recordedStates(t, id) {
			addState(t, ctx, b.store, s)
		}
		states, err := b.store.Find(ctx, id)
		require.NoError(t, err)

		item := workflow.ReconstituteItem(id, document{}, states)
		assert.Equal(t, "draft", item.CurrentStepName())
		assert.Equal(t, "review", item.WorkflowName())
		assert.Len(t, item.StateHistory(), 2)
		assert.Empty(t, item.ReleaseRecordedStateChanges())
	})

	t.Run("CommitPersistsWrites", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.store.Begin(ctx))
		for _, s := range recordedStates(t, id) {
			addState(t, ctx, b.store, s)
		}
		require.NoError(t, b.entities.Add(ctx, id, document{Title: "a", Status: "draft"}))
		require.NoError(t, b.store.Commit(ctx))

		states, err := b.store.Find(ctx, id)
		require.NoError(t, err)
		assert.Len(t, states, 2)

		entity, err := b.entities.Find(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, document{Title: "a", Status: "draft"}, entity)
	})

	t.Run("RollbackDiscardsWrites", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.store.Begin(ctx))
		for _, s := range recordedStates(t, id) {
			addState(t, ctx, b.store, s)
		}
		require.NoError(t, b.entities.Add(ctx, id, document{Title: "a"}))
		require.NoError(t, b.store.Rollback(ctx))

		states, err := b.store.Find(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, states)

		_, err = b.entities.Find(ctx, id)
		assert.ErrorIs(t, err, ErrEntityNotFound)
	})

	t.Run("TransactionMisuse", func(t *testing.T) {
		b := newBackend(t)
		assert.ErrorIs(t, b.store.Commit(ctx), ErrNoTransaction)
		assert.ErrorIs(t, b.store.Rollback(ctx), ErrNoTransaction)

		require.NoError(t, b.store.Begin(ctx))
		assert.ErrorIs(t, b.store.Begin(ctx), ErrTransactionActive)
		require.NoError(t, b.store.Rollback(ctx))
		require.NoError(t, b.store.Begin(ctx))
		require.NoError(t, b.store.Commit(ctx))
	})

	t.Run("Entities", func(t *testing.T) {
		b := newBackend(t)
		other := types.NewEntityID("document", 2)
		require.NoError(t, b.entities.Add(ctx, id, document{Title: "a", Status: "draft"}))
		require.NoError(t, b.entities.Add(ctx, other, document{Title: "b", Status: "published"}))
		require.NoError(t, b.entities.Add(ctx, id, document{Title: "a", Status: "pending"}))

		entity, err := b.entities.Find(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, document{Title: "a", Status: "pending"}, entity)

		published, err := b.entities.FindBySpecification(ctx, workflow.SpecificationFunc(func(_ types.EntityID, e any) bool {
			return e.(document).Status == "published"
		}))
		require.NoError(t, err)
		assert.Equal(t, []any{document{Title: "b", Status: "published"}}, published)

		var seen []types.EntityID
		_, err = b.entities.FindBySpecification(ctx, workflow.SpecificationFunc(func(eid types.EntityID, _ any) bool {
			seen = append(seen, eid)
			return false
		}))
		require.NoError(t, err)
		assert.ElementsMatch(t, []types.EntityID{id, other}, seen)

		require.NoError(t, b.entities.Remove(ctx, id))
		_, err = b.entities.Find(ctx, id)
		assert.ErrorIs(t, err, ErrEntityNotFound)
	})

	t.Run("EntityValidation", func(t *testing.T) {
		b := newBackend(t)
		err := b.entities.Add(ctx, types.NewEntityID("invoice", 1), document{})
		assert.ErrorIs(t, err, ErrProviderMismatch)

		err = b.entities.Add(ctx, id, "not a document")
		assert.ErrorIs(t, err, ErrEntityType)
	})
}
