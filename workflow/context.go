package workflow

import "github.com/songzhibin97/entity-workflow/types"

// Context is the scratch space of one transition attempt.
// Only its properties and errors end up in the recorded State.
type Context struct {
	properties types.Properties
	payload    types.Properties
	errors     *types.ErrorCollection
}

// NewContext creates a context seeded with the caller supplied payload.
func NewContext(payload types.Properties) *Context {
	return &Context{
		properties: types.Properties{},
		payload:    payload.Clone(),
		errors:     types.NewErrorCollection(),
	}
}

// Properties are persisted into the next State.
func (c *Context) Properties() types.Properties {
	return c.properties
}

// SetProperty stores a property to persist.
func (c *Context) SetProperty(name string, value any) {
	c.properties.Set(name, value)
}

// Payload is the caller supplied input.
func (c *Context) Payload() types.Properties {
	return c.payload
}

// Errors returns the error collection of this attempt.
func (c *Context) Errors() *types.ErrorCollection {
	return c.errors
}

// AddError appends an error entry.
func (c *Context) AddError(code string, params map[string]any, nested *types.ErrorCollection) {
	c.errors.Add(code, params, nested)
}

// WithEmptyErrors returns a context sharing properties and payload but
// collecting errors separately. Composite conditions use it per child.
func (c *Context) WithEmptyErrors() *Context {
	return &Context{
		properties: c.properties,
		payload:    c.payload,
		errors:     types.NewErrorCollection(),
	}
}

// CleanCopy returns a fresh context for a new attempt.
func (c *Context) CleanCopy(payload types.Properties) *Context {
	return NewContext(payload)
}
