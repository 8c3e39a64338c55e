package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/pongworker/pkg/core"
	"github.com/fluxorio/pongworker/pkg/worker"
)

// SpanName is the name of the span recorded per exchange.
const SpanName = "pongworker.exchange"

// TracingMiddleware wraps the handler in a span carrying the session and
// message IDs and the frame sizes.
func TracingMiddleware(tracer trace.Tracer) worker.Middleware {
	return func(next worker.Handler) worker.Handler {
		return func(ctx context.Context, req []byte) ([]byte, error) {
			ctx, span := tracer.Start(ctx, SpanName,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("pongworker.session_id", core.GetSessionID(ctx)),
					attribute.String("pongworker.message_id", core.GetMessageID(ctx)),
					attribute.String("pongworker.transport", worker.PeerFromContext(ctx).Transport),
					attribute.Int("pongworker.request.size", len(req)),
				),
			)
			defer span.End()

			resp, err := next(ctx, req)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			span.SetAttributes(attribute.Int("pongworker.response.size", len(resp)))
			return resp, nil
		}
	}
}
