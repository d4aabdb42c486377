package rules

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/entity-workflow/types"
	"github.com/songzhibin97/entity-workflow/workflow"
)

type article struct {
	Title  string
	Status string
	Words  int
}

type workflowMap map[string]*workflow.Workflow

func (m workflowMap) GetWorkflowByName(name string) (*workflow.Workflow, error) {
	wf, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("workflow %q not found", name)
	}
	return wf, nil
}

type fixture struct {
	wf      *workflow.Workflow
	create  *workflow.Transition
	publish *workflow.Transition
	draft   *workflow.Step
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	wf := workflow.NewWorkflow("article", "article", types.WithConfig(map[string]any{"channel": "web"}))
	draft := workflow.NewStep("draft").AllowTransition("publish")
	published := workflow.NewStep("published").SetFinal(true)
	require.NoError(t, wf.AddStep(draft))
	require.NoError(t, wf.AddStep(published))
	create, err := wf.AddTransition("create", draft)
	require.NoError(t, err)
	publish, err := wf.AddTransition("publish", published)
	require.NoError(t, err)
	require.NoError(t, wf.SetStartTransition("create"))
	return fixture{wf: wf, create: create, publish: publish, draft: draft}
}

func (f fixture) startedItem(t *testing.T) *workflow.Item {
	t.Helper()
	item := workflow.InitializeItem(types.NewEntityID("article", 1), article{Title: "t", Words: 120})
	_, err := item.Start(f.create, workflow.NewContext(nil), true)
	require.NoError(t, err)
	return item
}

func TestPayloadPropertyCondition(t *testing.T) {
	f := newFixture(t)
	f.publish.AddCondition(NewPayloadPropertyCondition("confirm", true, OpEquals))
	item := f.startedItem(t)

	wfCtx := workflow.NewContext(types.Properties{"confirm": false})
	assert.False(t, f.publish.CheckCondition(item, wfCtx))

	errs := wfCtx.Errors()
	require.Equal(t, 1, errs.Count())
	entry, _ := errs.Entry(0)
	assert.Equal(t, workflow.CodeAndFailed, entry.Code)
	require.Equal(t, 1, entry.Nested.Count())
	leaf, _ := entry.Nested.Entry(0)
	assert.Equal(t, CodePayloadPropertyFailed, leaf.Code)
	assert.Equal(t, map[string]any{
		"property": "confirm",
		"expected": true,
		"actual":   false,
		"operator": "==",
	}, leaf.Params)

	wfCtx = workflow.NewContext(types.Properties{"confirm": true})
	assert.True(t, f.publish.CheckCondition(item, wfCtx))
	assert.False(t, wfCtx.Errors().HasErrors())
}

func TestPayloadPropertyConditionNestedAndDefaultOperator(t *testing.T) {
	f := newFixture(t)
	item := f.startedItem(t)
	cond := &PayloadPropertyCondition{Property: "review.score", Value: 3}

	wfCtx := workflow.NewContext(types.Properties{"review": map[string]any{"score": "3"}})
	assert.True(t, cond.Match(f.publish, item, wfCtx))

	gte := NewPayloadPropertyCondition("review.score", 4, OpGreaterThanOrEqual)
	assert.False(t, gte.Match(f.publish, item, wfCtx))
	entry, _ := wfCtx.Errors().Entry(0)
	assert.Equal(t, ">=", entry.Params["operator"])

	missing := workflow.NewContext(nil)
	assert.False(t, cond.Match(f.publish, item, missing))
	entry, _ = missing.Errors().Entry(0)
	assert.Nil(t, entry.Params["actual"])
}

func TestExpressionCondition(t *testing.T) {
	f := newFixture(t)
	item := f.startedItem(t)
	evaluator := NewExprEvaluator()

	cond := NewExpressionCondition(`step == "draft" && entity.Words > 100 && payload.reviewer != ""`, evaluator)
	wfCtx := workflow.NewContext(types.Properties{"reviewer": "bob"})
	assert.True(t, cond.Match(f.publish, item, wfCtx))

	wfCtx = workflow.NewContext(types.Properties{"reviewer": ""})
	assert.False(t, cond.Match(f.publish, item, wfCtx))
	entry, _ := wfCtx.Errors().Entry(0)
	assert.Equal(t, CodeExpressionFailed, entry.Code)
	assert.NotContains(t, entry.Params, "error")

	broken := NewExpressionCondition("transition ===", evaluator)
	wfCtx = workflow.NewContext(nil)
	assert.False(t, broken.Match(f.publish, item, wfCtx))
	entry, _ = wfCtx.Errors().Entry(0)
	assert.Contains(t, entry.Params, "error")
}

func TestTransitionPermissionCondition(t *testing.T) {
	f := newFixture(t)
	item := f.startedItem(t)
	granted := map[string]bool{}
	checker := workflow.PermissionCheckerFunc(func(p workflow.Permission, _ *workflow.Item) bool {
		return granted[p.String()]
	})

	strict := NewTransitionPermissionCondition(checker, false)
	wfCtx := workflow.NewContext(nil)
	assert.False(t, strict.Match(f.publish, item, wfCtx))
	entry, _ := wfCtx.Errors().Entry(0)
	assert.Equal(t, CodeTransitionPermissionMissing, entry.Code)

	lenient := NewTransitionPermissionCondition(checker, true)
	assert.True(t, lenient.Match(f.publish, item, workflow.NewContext(nil)))

	f.publish.SetPermission(workflow.NewPermission("article", "editor"))
	wfCtx = workflow.NewContext(nil)
	assert.False(t, lenient.Match(f.publish, item, wfCtx))
	entry, _ = wfCtx.Errors().Entry(0)
	assert.Equal(t, CodeTransitionPermissionFailed, entry.Code)
	assert.Equal(t, "article:editor", entry.Params["permission"])

	granted["article:editor"] = true
	assert.True(t, strict.Match(f.publish, item, workflow.NewContext(nil)))
}

func TestStepPermissionCondition(t *testing.T) {
	f := newFixture(t)
	workflows := workflowMap{"article": f.wf}
	checker := workflow.PermissionCheckerFunc(func(p workflow.Permission, _ *workflow.Item) bool {
		return p.RoleName == "author"
	})

	unstarted := workflow.InitializeItem(types.NewEntityID("article", 2), article{})
	wfCtx := workflow.NewContext(nil)
	assert.False(t, NewStepPermissionCondition(checker, workflows, false).Match(f.create, unstarted, wfCtx))
	entry, _ := wfCtx.Errors().Entry(0)
	assert.Equal(t, CodeStepPermissionStart, entry.Code)
	assert.True(t, NewStepPermissionCondition(checker, workflows, true).Match(f.create, unstarted, workflow.NewContext(nil)))

	item := f.startedItem(t)
	cond := NewStepPermissionCondition(checker, workflows, false)
	assert.True(t, cond.Match(f.publish, item, workflow.NewContext(nil)), "steps without permission match")

	f.draft.SetPermission(workflow.NewPermission("article", "author"))
	assert.True(t, cond.Match(f.publish, item, workflow.NewContext(nil)))

	f.draft.SetPermission(workflow.NewPermission("article", "admin"))
	wfCtx = workflow.NewContext(nil)
	assert.False(t, cond.Match(f.publish, item, wfCtx))
	entry, _ = wfCtx.Errors().Entry(0)
	assert.Equal(t, CodeStepPermissionFailed, entry.Code)
	assert.Equal(t, "article:admin", entry.Params["permission"])

	wfCtx = workflow.NewContext(nil)
	assert.False(t, NewStepPermissionCondition(checker, workflowMap{}, false).Match(f.publish, item, wfCtx))
	entry, _ = wfCtx.Errors().Entry(0)
	assert.Contains(t, entry.Params, "error")
}

func TestProviderNameCondition(t *testing.T) {
	f := newFixture(t)
	cond := NewProviderNameCondition("article")
	errs := types.NewErrorCollection()

	assert.True(t, cond.Match(f.wf, types.NewEntityID("article", 1), nil, errs))
	assert.False(t, cond.Match(f.wf, types.NewEntityID("invoice", 1), nil, errs))
	entry, _ := errs.Entry(0)
	assert.Equal(t, CodeProviderNameFailed, entry.Code)
	assert.Equal(t, "invoice", entry.Params["actual"])
}

func TestConfigValueCondition(t *testing.T) {
	f := newFixture(t)
	id := types.NewEntityID("article", 1)
	errs := types.NewErrorCollection()

	assert.True(t, NewConfigValueCondition("channel", "web", "").Match(f.wf, id, nil, errs))
	assert.False(t, NewConfigValueCondition("channel", "print", OpEquals).Match(f.wf, id, nil, errs))
	assert.False(t, NewConfigValueCondition("missing", "x", OpEquals).Match(f.wf, id, nil, errs))
	assert.Equal(t, 2, errs.Count())
	entry, _ := errs.Entry(0)
	assert.Equal(t, CodeConfigValueFailed, entry.Code)
	assert.Equal(t, "web", entry.Params["actual"])
}

func TestEntityExpressionConditionSelectsWorkflow(t *testing.T) {
	f := newFixture(t)
	f.wf.AddCondition(NewEntityExpressionCondition(`entity.Status == "new" && config.channel == "web"`, NewExprEvaluator()))

	id := types.NewEntityID("article", 1)
	assert.True(t, f.wf.Supports(id, article{Status: "new"}, nil))

	errs := types.NewErrorCollection()
	assert.False(t, f.wf.Supports(id, article{Status: "archived"}, errs))
	entry, _ := errs.Entry(0)
	assert.Equal(t, workflow.CodeWorkflowAndFailed, entry.Code)
	leaf, _ := entry.Nested.Entry(0)
	assert.Equal(t, CodeEntityExpressionFailed, leaf.Code)

	assert.False(t, f.wf.Supports(types.NewEntityID("invoice", 1), article{Status: "new"}, nil))
}
