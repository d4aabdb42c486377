package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestElement(t *testing.T) {
	e := NewElement("draft", WithConfig(map[string]any{"color": "grey"}))
	assert.Equal(t, "draft", e.Name())
	assert.Equal(t, "draft", e.Label())

	e.SetLabel("Draft")
	assert.Equal(t, "Draft", e.Label())

	v, ok := e.Config("color")
	assert.True(t, ok)
	assert.Equal(t, "grey", v)

	e.SetConfig("color", "blue")
	assert.Equal(t, "blue", e.ConfigValue("color", "x"))
	e.RemoveConfig("color")
	assert.Equal(t, "x", e.ConfigValue("color", "x"))

	labelled := NewElement("pending", WithLabel("Pending review"))
	assert.Equal(t, "Pending review", labelled.Label())
	assert.Empty(t, labelled.ConfigMap())
}
