package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/payflow/payflow/internal/domain"
)

const tracerName = "github.com/payflow/payflow/internal/adapter/otel"

// TracingRepository wraps a domain.SessionRepository with OpenTelemetry
// tracing. Each method creates a span with semantic attributes and records
// errors; the conditioned transitions additionally record whether the
// write applied.
type TracingRepository struct {
	next   domain.SessionRepository
	tracer trace.Tracer
}

// Compile-time check: TracingRepository implements domain.SessionRepository.
var _ domain.SessionRepository = (*TracingRepository)(nil)

// NewTracingRepository creates a tracing decorator around the given repository.
func NewTracingRepository(next domain.SessionRepository) *TracingRepository {
	return &TracingRepository{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (r *TracingRepository) Create(ctx context.Context, session domain.Session) error {
	ctx, span := r.tracer.Start(ctx, "SessionRepository.Create",
		trace.WithAttributes(
			attribute.String("session.id", session.ID),
			attribute.String("session.merchant_id", session.MerchantID),
			attribute.String("session.amount", session.Amount.String()),
		),
	)
	defer span.End()

	err := r.next.Create(ctx, session)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *TracingRepository) GetByID(ctx context.Context, id string) (domain.Session, error) {
	ctx, span := r.tracer.Start(ctx, "SessionRepository.GetByID",
		trace.WithAttributes(attribute.String("session.id", id)),
	)
	defer span.End()

	session, err := r.next.GetByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return session, err
}

func (r *TracingRepository) GetByIdempotencyKey(ctx context.Context, merchantID, key string) (domain.Session, error) {
	ctx, span := r.tracer.Start(ctx, "SessionRepository.GetByIdempotencyKey",
		trace.WithAttributes(attribute.String("session.merchant_id", merchantID)),
	)
	defer span.End()

	session, err := r.next.GetByIdempotencyKey(ctx, merchantID, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return session, err
}

func (r *TracingRepository) List(ctx context.Context, filter domain.SessionFilter) ([]domain.Session, error) {
	ctx, span := r.tracer.Start(ctx, "SessionRepository.List",
		trace.WithAttributes(
			attribute.String("session.merchant_id", filter.MerchantID),
			attribute.Int("filter.limit", filter.Limit),
			attribute.Int("filter.offset", filter.Offset),
		),
	)
	defer span.End()

	if filter.Status != nil {
		span.SetAttributes(attribute.String("filter.status", string(*filter.Status)))
	}

	sessions, err := r.next.List(ctx, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("result.count", len(sessions)))
	}
	return sessions, err
}

func (r *TracingRepository) ClaimForProcessing(ctx context.Context, id string) (domain.Session, bool, error) {
	ctx, span := r.tracer.Start(ctx, "SessionRepository.ClaimForProcessing",
		trace.WithAttributes(attribute.String("session.id", id)),
	)
	defer span.End()

	session, claimed, err := r.next.ClaimForProcessing(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Bool("claim.won", claimed))
	}
	return session, claimed, err
}

func (r *TracingRepository) MarkPaid(ctx context.Context, id string, settlement domain.Settlement) (domain.Session, bool, error) {
	ctx, span := r.tracer.Start(ctx, "SessionRepository.MarkPaid",
		trace.WithAttributes(attribute.String("session.id", id)),
	)
	defer span.End()

	session, applied, err := r.next.MarkPaid(ctx, id, settlement)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Bool("transition.applied", applied))
	}
	return session, applied, err
}

func (r *TracingRepository) MarkFailed(ctx context.Context, id string, failure domain.Failure) (domain.Session, bool, error) {
	ctx, span := r.tracer.Start(ctx, "SessionRepository.MarkFailed",
		trace.WithAttributes(attribute.String("session.id", id)),
	)
	defer span.End()

	session, applied, err := r.next.MarkFailed(ctx, id, failure)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Bool("transition.applied", applied))
	}
	return session, applied, err
}

func (r *TracingRepository) Update(ctx context.Context, id string, patch domain.SessionPatch) (domain.Session, error) {
	ctx, span := r.tracer.Start(ctx, "SessionRepository.Update",
		trace.WithAttributes(attribute.String("session.id", id)),
	)
	defer span.End()

	session, err := r.next.Update(ctx, id, patch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return session, err
}
