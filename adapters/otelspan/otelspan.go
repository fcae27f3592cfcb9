// Package otelspan adapts an OpenTelemetry tracer to shared.Tracer.
package otelspan

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kolosys/pipelinekit/shared"
)

// Tracer wraps a trace.Tracer as a shared.Tracer.
type Tracer struct {
	t trace.Tracer
}

// New wraps t.
func New(t trace.Tracer) *Tracer {
	return &Tracer{t: t}
}

func (tr *Tracer) Start(ctx context.Context, name string, kv ...any) (context.Context, func(err error)) {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, attribute.String(key, toString(kv[i+1])))
	}

	ctx, span := tr.t.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

var _ shared.Tracer = (*Tracer)(nil)
