package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/payflow/payflow/internal/domain"
	"github.com/payflow/payflow/internal/provider"
)

// TracingAdapter wraps a provider.Adapter with OpenTelemetry tracing. The
// span covers the full call including the adapter's internal retries, and
// records the normalized outcome of each operation.
type TracingAdapter struct {
	next   provider.Adapter
	tracer trace.Tracer
}

// Compile-time check: TracingAdapter implements provider.Adapter.
var _ provider.Adapter = (*TracingAdapter)(nil)

// NewTracingAdapter creates a tracing decorator around the given adapter.
func NewTracingAdapter(next provider.Adapter) *TracingAdapter {
	return &TracingAdapter{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (a *TracingAdapter) Code() string { return a.next.Code() }

func (a *TracingAdapter) CreateHostedPayment(ctx context.Context, session domain.Session) (string, error) {
	ctx, span := a.tracer.Start(ctx, "Provider.CreateHostedPayment",
		trace.WithAttributes(
			attribute.String("provider.code", a.next.Code()),
			attribute.String("session.id", session.ID),
		),
	)
	defer span.End()

	url, err := a.next.CreateHostedPayment(ctx, session)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return url, err
}

func (a *TracingAdapter) ProcessDirectCharge(ctx context.Context, session domain.Session, payer provider.PayerCredentials) (provider.OperationResult, error) {
	ctx, span := a.tracer.Start(ctx, "Provider.ProcessDirectCharge",
		trace.WithAttributes(
			attribute.String("provider.code", a.next.Code()),
			attribute.String("session.id", session.ID),
			attribute.String("session.amount", session.Amount.String()),
		),
	)
	defer span.End()

	res, err := a.next.ProcessDirectCharge(ctx, session, payer)
	recordResult(span, res, err)
	return res, err
}

func (a *TracingAdapter) QueryPaymentStatus(ctx context.Context, session domain.Session) (provider.OperationResult, error) {
	ctx, span := a.tracer.Start(ctx, "Provider.QueryPaymentStatus",
		trace.WithAttributes(
			attribute.String("provider.code", a.next.Code()),
			attribute.String("session.id", session.ID),
		),
	)
	defer span.End()

	res, err := a.next.QueryPaymentStatus(ctx, session)
	recordResult(span, res, err)
	return res, err
}

func recordResult(span trace.Span, res provider.OperationResult, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(
		attribute.String("operation.outcome", string(res.Outcome)),
		attribute.Bool("operation.retryable", res.Retryable),
	)
	if res.Code != "" {
		span.SetAttributes(attribute.String("operation.code", res.Code))
	}
}
