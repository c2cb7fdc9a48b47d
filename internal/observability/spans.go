package observability

import (
	"context"

	"github.com/hallba/qncheck/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hallba/qncheck/internal/observability"

// StartAnalysisSpan starts a span for an analysis phase, carrying the network
// name and the run_id from the context as attributes to aid trace navigation.
func StartAnalysisSpan(ctx context.Context, name, network string, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	attrs := make([]attribute.KeyValue, 0, len(extra)+2)
	if network != "" {
		attrs = append(attrs, attribute.String("network", network))
	}
	if runID := logging.RunIDFromContext(ctx); runID != "" {
		attrs = append(attrs, attribute.String("run_id", runID))
	}
	attrs = append(attrs, extra...)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
