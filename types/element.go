package types

// Element is the common part of every named workflow artifact.
// It is embedded by value in steps, transitions, workflows and roles.
type Element struct {
	name   string
	label  string
	config map[string]any
}

// ElementOption configures an Element at construction time.
type ElementOption func(*Element)

// WithLabel sets the display label.
func WithLabel(label string) ElementOption {
	return func(e *Element) {
		e.label = label
	}
}

// WithConfig merges the given values into the configuration bag.
func WithConfig(config map[string]any) ElementOption {
	return func(e *Element) {
		for k, v := range config {
			e.config[k] = v
		}
	}
}

// NewElement creates a named element.
func NewElement(name string, opts ...ElementOption) Element {
	e := Element{
		name:   name,
		config: make(map[string]any),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Name returns the immutable name.
func (e *Element) Name() string {
	return e.name
}

// Label returns the label, falling back to the name.
func (e *Element) Label() string {
	if e.label == "" {
		return e.name
	}
	return e.label
}

// SetLabel changes the display label.
func (e *Element) SetLabel(label string) {
	e.label = label
}

// Config returns a configuration value.
func (e *Element) Config(key string) (any, bool) {
	v, ok := e.config[key]
	return v, ok
}

// ConfigValue returns a configuration value or the given default.
func (e *Element) ConfigValue(key string, def any) any {
	if v, ok := e.config[key]; ok {
		return v
	}
	return def
}

// SetConfig stores a configuration value.
func (e *Element) SetConfig(key string, value any) {
	if e.config == nil {
		e.config = make(map[string]any)
	}
	e.config[key] = value
}

// RemoveConfig deletes a configuration value.
func (e *Element) RemoveConfig(key string) {
	delete(e.config, key)
}

// ConfigMap returns a copy of the whole configuration bag.
func (e *Element) ConfigMap() map[string]any {
	out := make(map[string]any, len(e.config))
	for k, v := range e.config {
		out[k] = v
	}
	return out
}
