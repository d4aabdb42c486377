// Package definition loads workflow graphs from YAML documents.
package definition

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidDefinition is wrapped by every error caused by the document content.
var ErrInvalidDefinition = errors.New("invalid workflow definition")

// Document is the root of a definition file.
type Document struct {
	Workflows []Workflow `yaml:"workflows"`
}

// Workflow defines one workflow.
type Workflow struct {
	Name        string         `yaml:"name"`
	Label       string         `yaml:"label,omitempty"`
	Provider    string         `yaml:"provider"`
	Start       string         `yaml:"start"`
	Config      map[string]any `yaml:"config,omitempty"`
	Steps       []Step         `yaml:"steps"`
	Transitions []Transition   `yaml:"transitions"`
	Roles       []Role         `yaml:"roles,omitempty"`
	Conditions  []Condition    `yaml:"conditions,omitempty"`
}

// Step defines a step and the transitions allowed to leave it.
type Step struct {
	Name        string         `yaml:"name"`
	Label       string         `yaml:"label,omitempty"`
	Final       bool           `yaml:"final,omitempty"`
	Permission  string         `yaml:"permission,omitempty"`
	Transitions []string       `yaml:"transitions,omitempty"`
	Config      map[string]any `yaml:"config,omitempty"`
}

// Transition defines a transition. To names a step of the same workflow
// or "workflow:step" of another one.
type Transition struct {
	Name          string         `yaml:"name"`
	Label         string         `yaml:"label,omitempty"`
	To            string         `yaml:"to"`
	Permission    string         `yaml:"permission,omitempty"`
	PreConditions []Condition    `yaml:"pre_conditions,omitempty"`
	Conditions    []Condition    `yaml:"conditions,omitempty"`
	Actions       []Action       `yaml:"actions,omitempty"`
	PostActions   []Action       `yaml:"post_actions,omitempty"`
	Config        map[string]any `yaml:"config,omitempty"`
}

// Role defines a role and its additional permissions.
type Role struct {
	Name        string   `yaml:"name"`
	Label       string   `yaml:"label,omitempty"`
	Permissions []string `yaml:"permissions,omitempty"`
}

// Condition is one node of a condition tree. Type selects which of the
// remaining fields are used.
type Condition struct {
	Type           string      `yaml:"type"`
	Conditions     []Condition `yaml:"conditions,omitempty"`
	Property       string      `yaml:"property,omitempty"`
	Value          any         `yaml:"value,omitempty"`
	Operator       string      `yaml:"operator,omitempty"`
	Expression     string      `yaml:"expression,omitempty"`
	Key            string      `yaml:"key,omitempty"`
	Provider       string      `yaml:"provider,omitempty"`
	GrantByDefault bool        `yaml:"grant_by_default,omitempty"`
	AllowStart     bool        `yaml:"allow_start,omitempty"`
}

// Action references an action factory by Type.
type Action struct {
	Type        string         `yaml:"type"`
	Name        string         `yaml:"name,omitempty"`
	Properties  []string       `yaml:"properties,omitempty"`
	Property    string         `yaml:"property,omitempty"`
	Value       any            `yaml:"value,omitempty"`
	FromPayload string         `yaml:"from_payload,omitempty"`
	Retries     int            `yaml:"retries,omitempty"`
	RetryDelay  time.Duration  `yaml:"retry_delay,omitempty"`
	Options     map[string]any `yaml:"options,omitempty"`
}

// Parse decodes a definition document. Unknown fields are rejected.
func Parse(data []byte) (*Document, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads a definition document from r.
func Decode(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &doc, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return &doc, nil
}

// ParseFile reads and decodes a definition file.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open definition: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Merge concatenates the workflows of several documents.
func Merge(docs ...*Document) *Document {
	out := &Document{}
	for _, doc := range docs {
		if doc != nil {
			out.Workflows = append(out.Workflows, doc.Workflows...)
		}
	}
	return out
}
