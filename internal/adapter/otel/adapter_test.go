package otel_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"

	adapter "github.com/payflow/payflow/internal/adapter/otel"
	"github.com/payflow/payflow/internal/domain"
	"github.com/payflow/payflow/internal/provider"
)

type stubBank struct {
	result provider.OperationResult
	err    error
}

func (s *stubBank) Code() string { return "stub-bank" }

func (s *stubBank) CreateHostedPayment(_ context.Context, session domain.Session) (string, error) {
	return "https://pay.test/" + session.ID, s.err
}

func (s *stubBank) ProcessDirectCharge(_ context.Context, _ domain.Session, _ provider.PayerCredentials) (provider.OperationResult, error) {
	return s.result, s.err
}

func (s *stubBank) QueryPaymentStatus(_ context.Context, _ domain.Session) (provider.OperationResult, error) {
	return s.result, s.err
}

func TestTracingAdapter_ProcessDirectCharge_RecordsOutcome(t *testing.T) {
	exporter := setupTestTracer(t)
	traced := adapter.NewTracingAdapter(&stubBank{result: provider.OperationResult{
		Outcome: provider.OutcomeApproved,
		Code:    "00",
	}})

	res, err := traced.ProcessDirectCharge(context.Background(), testSession("s-1"), provider.PayerCredentials{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != provider.OutcomeApproved {
		t.Errorf("Outcome = %q, want %q", res.Outcome, provider.OutcomeApproved)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "Provider.ProcessDirectCharge" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "Provider.ProcessDirectCharge")
	}

	assertAttribute(t, spans[0], "provider.code", "stub-bank")
	assertAttribute(t, spans[0], "operation.outcome", "approved")
	assertAttribute(t, spans[0], "operation.code", "00")
}

func TestTracingAdapter_QueryPaymentStatus_RecordsError(t *testing.T) {
	exporter := setupTestTracer(t)
	bankDown := errors.New("connection refused")
	traced := adapter.NewTracingAdapter(&stubBank{err: bankDown})

	_, err := traced.QueryPaymentStatus(context.Background(), testSession("s-1"))
	if !errors.Is(err, bankDown) {
		t.Fatalf("expected wrapped bank error, got %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status = %v, want %v", spans[0].Status.Code, codes.Error)
	}
}

func TestTracingAdapter_Code_PassesThrough(t *testing.T) {
	traced := adapter.NewTracingAdapter(&stubBank{})
	if traced.Code() != "stub-bank" {
		t.Errorf("Code() = %q, want %q", traced.Code(), "stub-bank")
	}
}
