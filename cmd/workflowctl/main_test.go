package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/entity-workflow/types"
)

const testDefinition = `
workflows:
  - name: review
    provider: document
    start: create
    steps:
      - name: draft
        transitions: [submit]
      - name: pending
        final: true
    transitions:
      - name: create
        to: draft
      - name: submit
        to: pending
        conditions:
          - type: payload
            property: confirm
            value: true
        actions:
          - type: payload_property
            properties: [confirm]
          - type: entity_property
            property: status
            value: pending
`

func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "review.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testDefinition), 0o600))
	t.Setenv("WORKFLOW_STORAGE_DRIVER", "sqlite")
	t.Setenv("WORKFLOW_SQLITE_PATH", filepath.Join(dir, "states.db"))
	t.Setenv("WORKFLOW_LOG_LEVEL", "error")
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"workflows", "validate", "transitions", "transit", "history"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("definition"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestRequiresDefinitions(t *testing.T) {
	setup(t)
	_, err := run(t, "validate")
	assert.ErrorContains(t, err, "no workflow definitions")
}

func TestValidateAndWorkflows(t *testing.T) {
	def := setup(t)

	out, err := run(t, "-d", def, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "[OK] 1 workflow(s) in 1 file(s)")

	out, err = run(t, "-d", def, "--json", "workflows")
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "review", rows[0]["name"])
	assert.Equal(t, "create", rows[0]["start"])
	assert.Equal(t, []any{"draft", "pending"}, rows[0]["steps"])
}

func TestTransitLifecycle(t *testing.T) {
	def := setup(t)
	entity := "document::42"

	out, err := run(t, "-d", def, "transitions", "-e", entity)
	require.NoError(t, err)
	assert.Contains(t, out, "create")

	out, err = run(t, "-d", def, "transit", "-e", entity, "--data", "title=Draft")
	require.NoError(t, err)
	assert.Contains(t, out, "draft")

	out, err = run(t, "-d", def, "--json", "transitions", "-e", entity)
	require.NoError(t, err)
	var available []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &available))
	require.Len(t, available, 1)
	assert.Equal(t, "submit", available[0]["name"])
	assert.Equal(t, "review:pending", available[0]["to"])
	assert.Equal(t, []any{"confirm"}, available[0]["requires"])

	_, err = run(t, "-d", def, "transit", "-e", entity, "-t", "submit", "-p", "confirm=false")
	assert.ErrorContains(t, err, "not allowed")

	out, err = run(t, "-d", def, "transit", "-e", entity, "-t", "submit", "-p", "confirm=true")
	require.NoError(t, err)
	assert.Contains(t, out, "pending")

	out, err = run(t, "-d", def, "--json", "history", "-e", entity)
	require.NoError(t, err)
	var states []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &states))
	require.Len(t, states, 2)
	assert.Equal(t, "create", states[0]["transition"])
	assert.Equal(t, "pending", states[1]["step"])
	assert.Equal(t, true, states[1]["successful"])
}

func TestTransitRejectsBadInput(t *testing.T) {
	def := setup(t)

	_, err := run(t, "-d", def, "transit", "-e", "not-an-id")
	assert.ErrorIs(t, err, types.ErrInvalidEntityID)

	_, err = run(t, "-d", def, "transit", "-e", "document::1", "-p", "novalue")
	assert.ErrorContains(t, err, "invalid --payload")

	_, err = run(t, "-d", def, "transit", "-e", "invoice::1")
	assert.ErrorContains(t, err, "no workflow handles provider")
}

func TestParseAssignments(t *testing.T) {
	props, err := parseAssignments([]string{"confirm=true", "count=7", "name=bob", "empty="})
	require.NoError(t, err)
	assert.Equal(t, true, props["confirm"])
	assert.Equal(t, 7, props["count"])
	assert.Equal(t, "bob", props["name"])
	assert.Equal(t, "", props["empty"])

	_, err = parseAssignments([]string{"=x"})
	assert.Error(t, err)
}
