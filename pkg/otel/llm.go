package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// GeneratorSpan 为一次 LLM 调用创建 span
func GeneratorSpan(ctx context.Context, operation, model string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "llm."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gen_ai.operation.name", operation),
			attribute.String("gen_ai.request.model", model),
		),
	)
}
