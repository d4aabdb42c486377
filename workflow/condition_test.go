package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/entity-workflow/types"
)

func TestAndConditionEvaluatesEveryChild(t *testing.T) {
	wf := reviewWorkflow(t, "and-review")
	item := InitializeItem(types.NewEntityID("document", 1), nil)
	calls := 0
	counting := ConditionFunc(func(_ *Transition, _ *Item, wfCtx *Context) bool {
		calls++
		wfCtx.AddError("counted", nil, nil)
		return false
	})

	cond := NewAndCondition(failing("first"), passing(), counting)
	wfCtx := NewContext(nil)
	assert.False(t, cond.Match(mustTransition(t, wf, "create"), item, wfCtx))
	assert.Equal(t, 1, calls)

	errs := wfCtx.Errors()
	require.Equal(t, 2, errs.Count(), "one entry per failing child")
	for i, code := range []string{"first", "counted"} {
		entry, _ := errs.Entry(i)
		assert.Equal(t, CodeAndFailed, entry.Code)
		nested, ok := entry.Nested.Entry(0)
		require.True(t, ok)
		assert.Equal(t, code, nested.Code)
	}
}

func TestAndConditionEmptyMatches(t *testing.T) {
	wfCtx := NewContext(nil)
	assert.True(t, NewAndCondition().Match(nil, nil, wfCtx))
	assert.False(t, wfCtx.Errors().HasErrors())
}

func TestOrCondition(t *testing.T) {
	wf := reviewWorkflow(t, "or-review")
	tr := mustTransition(t, wf, "create")
	item := InitializeItem(types.NewEntityID("document", 1), nil)

	t.Run("empty matches", func(t *testing.T) {
		assert.True(t, NewOrCondition().Match(tr, item, NewContext(nil)))
	})

	t.Run("short-circuits on first match", func(t *testing.T) {
		called := false
		never := ConditionFunc(func(*Transition, *Item, *Context) bool {
			called = true
			return true
		})
		wfCtx := NewContext(nil)
		assert.True(t, NewOrCondition(failing("a"), passing(), never).Match(tr, item, wfCtx))
		assert.False(t, called)
		assert.False(t, wfCtx.Errors().HasErrors(), "errors of failed children are dropped on success")
	})

	t.Run("reports every child when all fail", func(t *testing.T) {
		wfCtx := NewContext(nil)
		cond := NewOrCondition().AddCondition(failing("a")).AddCondition(failing("b"))
		assert.False(t, cond.Match(tr, item, wfCtx))
		require.Equal(t, 2, wfCtx.Errors().Count())
		for i, code := range []string{"a", "b"} {
			entry, _ := wfCtx.Errors().Entry(i)
			assert.Equal(t, CodeOrFailed, entry.Code)
			nested, _ := entry.Nested.Entry(0)
			assert.Equal(t, code, nested.Code)
		}
	})

	t.Run("nested in and", func(t *testing.T) {
		wfCtx := NewContext(types.Properties{"kind": "memo"})
		or := NewOrCondition(payloadEquals("kind", "letter"), payloadEquals("kind", "report"))
		and := NewAndCondition(or)
		assert.False(t, and.Match(tr, item, wfCtx))

		leaves := wfCtx.Errors().Leaves()
		require.Len(t, leaves, 2)
		assert.Equal(t, "test.payload.failed", leaves[0].Code)
		assert.Len(t, NewOrCondition(passing()).Conditions(), 1)
		assert.Len(t, and.Conditions(), 1)
	})
}

func TestWorkflowConditions(t *testing.T) {
	wf := NewWorkflow("conditional", "document")
	id := types.NewEntityID("document", 1)
	isDraft := WorkflowConditionFunc(func(_ *Workflow, _ types.EntityID, entity any, errs *types.ErrorCollection) bool {
		if entity == "draft" {
			return true
		}
		errs.Add("not.draft", nil, nil)
		return false
	})
	never := WorkflowConditionFunc(func(_ *Workflow, _ types.EntityID, _ any, errs *types.ErrorCollection) bool {
		errs.Add("never", nil, nil)
		return false
	})

	errs := types.NewErrorCollection()
	and := NewWorkflowAndCondition(isDraft, never)
	assert.False(t, and.Match(wf, id, "draft", errs))
	require.Equal(t, 1, errs.Count())
	entry, _ := errs.Entry(0)
	assert.Equal(t, CodeWorkflowAndFailed, entry.Code)

	or := NewWorkflowOrCondition(never, isDraft)
	assert.True(t, or.Match(wf, id, "draft", types.NewErrorCollection()))

	errs = types.NewErrorCollection()
	assert.False(t, or.Match(wf, id, "final", errs))
	assert.Equal(t, 2, errs.Count())
	entry, _ = errs.Entry(1)
	assert.Equal(t, CodeWorkflowOrFailed, entry.Code)

	assert.True(t, NewWorkflowOrCondition().Match(wf, id, nil, types.NewErrorCollection()))
	assert.True(t, NewWorkflowAndCondition().Match(wf, id, nil, types.NewErrorCollection()))
}
