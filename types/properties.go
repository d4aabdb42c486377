package types

import "strings"

// Properties is a string keyed bag used for payloads and recorded state data.
// Nested maps form namespaces which can be addressed with dotted paths.
type Properties map[string]any

// Get returns a top level value.
func (p Properties) Get(name string) (any, bool) {
	v, ok := p[name]
	return v, ok
}

// Has reports whether a top level value exists.
func (p Properties) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// Set stores a top level value.
func (p Properties) Set(name string, value any) {
	p[name] = value
}

// Lookup resolves a dotted path like "review.confirm".
// A direct key match wins over the namespace interpretation.
func (p Properties) Lookup(path string) (any, bool) {
	if v, ok := p[path]; ok {
		return v, true
	}
	head, rest, ok := strings.Cut(path, ".")
	if !ok {
		return nil, false
	}
	switch ns := p[head].(type) {
	case Properties:
		return ns.Lookup(rest)
	case map[string]any:
		return Properties(ns).Lookup(rest)
	default:
		return nil, false
	}
}

// Namespace returns the nested properties stored under name, or an empty bag.
func (p Properties) Namespace(name string) Properties {
	switch ns := p[name].(type) {
	case Properties:
		return ns
	case map[string]any:
		return Properties(ns)
	default:
		return Properties{}
	}
}

// Clone returns a shallow copy. A nil receiver yields an empty bag.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Map returns the values as a plain map.
func (p Properties) Map() map[string]any {
	return map[string]any(p.Clone())
}
