// Package actions provides generic actions usable from workflow definitions.
package actions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/songzhibin97/entity-workflow/types"
	"github.com/songzhibin97/entity-workflow/workflow"
)

// Error codes reported by the actions of this package.
const (
	CodePayloadMissing    = "action.payload.missing"
	CodeEntityNotMap      = "action.entity.not_map"
	CodeEntityPropertySet = "action.entity.property_failed"
)

// PayloadPropertyAction requires payload properties and stores them as
// context properties, so they end up in the recorded state.
type PayloadPropertyAction struct {
	Name       string
	Properties []string
}

// NewPayloadPropertyAction creates a PayloadPropertyAction.
func NewPayloadPropertyAction(name string, properties ...string) *PayloadPropertyAction {
	return &PayloadPropertyAction{Name: name, Properties: properties}
}

// RequiredPayloadProperties implements workflow.Action.
func (a *PayloadPropertyAction) RequiredPayloadProperties(*workflow.Item) []string {
	return append([]string(nil), a.Properties...)
}

// Validate implements workflow.Action.
func (a *PayloadPropertyAction) Validate(_ *workflow.Item, wfCtx *workflow.Context) bool {
	valid := true
	for _, name := range a.Properties {
		if _, ok := wfCtx.Payload().Lookup(name); !ok {
			valid = false
			wfCtx.AddError(CodePayloadMissing, map[string]any{"action": a.Name, "property": name}, nil)
		}
	}
	return valid
}

// Transit implements workflow.Action.
func (a *PayloadPropertyAction) Transit(_ context.Context, _ *workflow.Transition, _ *workflow.Item, wfCtx *workflow.Context) error {
	errs := types.NewErrorCollection()
	for _, name := range a.Properties {
		value, ok := wfCtx.Payload().Lookup(name)
		if !ok {
			errs.Add(CodePayloadMissing, map[string]any{"action": a.Name, "property": name}, nil)
			continue
		}
		wfCtx.SetProperty(name, value)
	}
	if errs.HasErrors() {
		return workflow.NewActionFailedError(a.Name, errs)
	}
	return nil
}

// EntityPropertyAction sets a property of a map[string]any entity.
// If FromPayload is set the value is taken from that payload property.
type EntityPropertyAction struct {
	Name        string
	Property    string
	Value       any
	FromPayload string
}

// RequiredPayloadProperties implements workflow.Action.
func (a *EntityPropertyAction) RequiredPayloadProperties(*workflow.Item) []string {
	if a.FromPayload == "" {
		return nil
	}
	return []string{a.FromPayload}
}

// Validate implements workflow.Action.
func (a *EntityPropertyAction) Validate(item *workflow.Item, wfCtx *workflow.Context) bool {
	if _, ok := item.Entity().(map[string]any); !ok && item.Entity() != nil {
		wfCtx.AddError(CodeEntityNotMap, map[string]any{"action": a.Name, "type": fmt.Sprintf("%T", item.Entity())}, nil)
		return false
	}
	if a.FromPayload != "" && !wfCtx.Payload().Has(a.FromPayload) {
		wfCtx.AddError(CodePayloadMissing, map[string]any{"action": a.Name, "property": a.FromPayload}, nil)
		return false
	}
	return true
}

// Transit implements workflow.Action.
func (a *EntityPropertyAction) Transit(_ context.Context, _ *workflow.Transition, item *workflow.Item, wfCtx *workflow.Context) error {
	entity, ok := item.Entity().(map[string]any)
	if item.Entity() == nil {
		entity, ok = map[string]any{}, true
	}
	if !ok {
		return &workflow.ActionFailedError{
			Action: a.Name,
			Err:    fmt.Errorf("entity of type %T is not a map", item.Entity()),
		}
	}

	value := a.Value
	if a.FromPayload != "" {
		v, ok := wfCtx.Payload().Lookup(a.FromPayload)
		if !ok {
			errs := types.NewErrorCollection()
			errs.Add(CodeEntityPropertySet, map[string]any{"property": a.Property, "payload": a.FromPayload}, nil)
			return workflow.NewActionFailedError(a.Name, errs)
		}
		value = v
	}
	entity[a.Property] = value
	item.SetEntity(entity)
	return nil
}

// LogAction logs every execution. It is mostly useful as a post action.
type LogAction struct {
	Name   string
	Logger *slog.Logger
}

// RequiredPayloadProperties implements workflow.Action.
func (a *LogAction) RequiredPayloadProperties(*workflow.Item) []string {
	return nil
}

// Validate implements workflow.Action.
func (a *LogAction) Validate(*workflow.Item, *workflow.Context) bool {
	return true
}

// Transit implements workflow.Action.
func (a *LogAction) Transit(ctx context.Context, t *workflow.Transition, item *workflow.Item, wfCtx *workflow.Context) error {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "workflow transition",
		"action", a.Name,
		"entity_id", item.EntityID().String(),
		"workflow", t.WorkflowName(),
		"transition", t.Name(),
		"properties", wfCtx.Properties().Map(),
	)
	return nil
}

var (
	_ workflow.Action = (*PayloadPropertyAction)(nil)
	_ workflow.Action = (*EntityPropertyAction)(nil)
	_ workflow.Action = (*LogAction)(nil)
)
