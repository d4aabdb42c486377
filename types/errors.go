package types

import (
	"fmt"
	"strings"
)

// ErrorEntry is a single reason why something did not match or failed.
// Nested holds the errors of a child evaluation, if any.
type ErrorEntry struct {
	Code   string
	Params map[string]any
	Nested *ErrorCollection
}

// ErrorRecord is the flattened, storage friendly form of an ErrorEntry.
type ErrorRecord struct {
	Code   string         `json:"code"`
	Params map[string]any `json:"params,omitempty"`
	Errors []ErrorRecord  `json:"errors,omitempty"`
}

// ErrorCollection is an ordered list of error entries.
// It is not safe for concurrent use.
type ErrorCollection struct {
	entries []ErrorEntry
}

// NewErrorCollection creates an empty collection.
func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{}
}

// Add appends an entry. nested may be nil.
func (c *ErrorCollection) Add(code string, params map[string]any, nested *ErrorCollection) {
	if params == nil {
		params = map[string]any{}
	}
	c.entries = append(c.entries, ErrorEntry{Code: code, Params: params, Nested: nested})
}

// AddCollection appends all entries of other.
func (c *ErrorCollection) AddCollection(other *ErrorCollection) {
	if other == nil {
		return
	}
	c.entries = append(c.entries, other.entries...)
}

// Count returns the number of top level entries.
func (c *ErrorCollection) Count() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// HasErrors reports whether at least one entry exists.
func (c *ErrorCollection) HasErrors() bool {
	return c.Count() > 0
}

// Entries returns a copy of the top level entries.
func (c *ErrorCollection) Entries() []ErrorEntry {
	if c == nil {
		return nil
	}
	out := make([]ErrorEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Entry returns the entry at index i.
func (c *ErrorCollection) Entry(i int) (ErrorEntry, bool) {
	if c == nil || i < 0 || i >= len(c.entries) {
		return ErrorEntry{}, false
	}
	return c.entries[i], true
}

// Leaves walks the tree depth first and returns every entry without nested errors.
func (c *ErrorCollection) Leaves() []ErrorEntry {
	var out []ErrorEntry
	for _, e := range c.Entries() {
		if e.Nested.HasErrors() {
			out = append(out, e.Nested.Leaves()...)
			continue
		}
		out = append(out, e)
	}
	return out
}

// Reset removes all entries.
func (c *ErrorCollection) Reset() {
	c.entries = nil
}

// Flatten converts the tree into records that can be stored.
func (c *ErrorCollection) Flatten() []ErrorRecord {
	if c.Count() == 0 {
		return nil
	}
	records := make([]ErrorRecord, 0, len(c.entries))
	for _, e := range c.entries {
		rec := ErrorRecord{Code: e.Code, Params: copyParams(e.Params)}
		if e.Nested.HasErrors() {
			rec.Errors = e.Nested.Flatten()
		}
		records = append(records, rec)
	}
	return records
}

// ErrorCollectionFromRecords rebuilds a collection from its flattened form.
func ErrorCollectionFromRecords(records []ErrorRecord) *ErrorCollection {
	c := NewErrorCollection()
	for _, rec := range records {
		var nested *ErrorCollection
		if len(rec.Errors) > 0 {
			nested = ErrorCollectionFromRecords(rec.Errors)
		}
		c.Add(rec.Code, copyParams(rec.Params), nested)
	}
	return c
}

// String renders the tree on one line, mainly for logs.
func (c *ErrorCollection) String() string {
	parts := make([]string, 0, c.Count())
	for _, e := range c.Entries() {
		s := e.Code
		if len(e.Params) > 0 {
			s += fmt.Sprintf(" %v", e.Params)
		}
		if e.Nested.HasErrors() {
			s += " (" + e.Nested.String() + ")"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "; ")
}

func copyParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
