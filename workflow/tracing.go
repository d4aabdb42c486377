package workflow

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/songzhibin97/entity-workflow/workflow"

// startSpan starts a span annotated with the item and workflow.
// The caller is responsible for calling span.End().
func startSpan(ctx context.Context, name string, item *Item, wf *Workflow, transition string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	span.SetAttributes(
		attribute.String("entity_id", item.EntityID().String()),
		attribute.String("workflow", wf.Name()),
		attribute.String("transition", transition),
		attribute.String("step", item.CurrentStepName()),
	)
	return ctx, span
}
