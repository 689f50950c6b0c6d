// Package provider defines the uniform contract every bank integration
// implements, and the normalization of provider-specific vocabularies into
// a closed four-way outcome.
package provider

import (
	"context"
	"strings"

	"github.com/payflow/payflow/internal/domain"
)

// Outcome is the closed classification of a provider operation.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeDeclined Outcome = "declined"
	OutcomePending  Outcome = "pending"
	OutcomeError    Outcome = "error"
)

// OperationResult is the normalized result of a provider call.
type OperationResult struct {
	Outcome     Outcome
	ProviderRef string
	RawStatus   string
	Code        string
	Message     string
	RawPayload  string
	Retryable   bool
}

// PayerCredentials identifies the payer in a direct-debit (C2P) charge.
type PayerCredentials struct {
	DocumentID string
	Phone      string
	BankCode   string
	OTP        string
}

// Adapter is implemented once per bank integration. Implementations never
// mutate session state; they only talk to the provider and classify.
type Adapter interface {
	// Code identifies the integration for router resolution.
	Code() string

	// CreateHostedPayment returns the URL the payer is redirected to for a
	// provider-hosted checkout flow.
	CreateHostedPayment(ctx context.Context, session domain.Session) (string, error)

	// ProcessDirectCharge synchronously attempts to debit the payer.
	// Transport failures and 5xx responses are retried with bounded
	// backoff inside the adapter; 4xx rejections are determinate declines
	// and never retried.
	ProcessDirectCharge(ctx context.Context, session domain.Session, payer PayerCredentials) (OperationResult, error)

	// QueryPaymentStatus is the out-of-band reconciliation call used when
	// a charge outcome was ambiguous.
	QueryPaymentStatus(ctx context.Context, session domain.Session) (OperationResult, error)
}

// approvedCodes are canonical success codes shared across bank protocols.
var approvedCodes = map[string]bool{
	"00": true,
	"0":  true,
}

// statusOutcomes maps normalized provider status vocabulary to outcomes.
// Providers are inconsistent ("approved", "success" and "aprobado" all mean
// the same thing), so classification is table-driven rather than scattered
// conditionals.
var statusOutcomes = map[string]Outcome{
	"approved":   OutcomeApproved,
	"aprobado":   OutcomeApproved,
	"aprobada":   OutcomeApproved,
	"success":    OutcomeApproved,
	"successful": OutcomeApproved,
	"completed":  OutcomeApproved,
	"ok":         OutcomeApproved,

	"pending":    OutcomePending,
	"pendiente":  OutcomePending,
	"in_process": OutcomePending,
	"processing": OutcomePending,
	"created":    OutcomePending,

	"declined":  OutcomeDeclined,
	"rechazado": OutcomeDeclined,
	"rechazada": OutcomeDeclined,
	"rejected":  OutcomeDeclined,
	"denied":    OutcomeDeclined,
	"failed":    OutcomeDeclined,
	"error":     OutcomeDeclined,
	"cancelled": OutcomeDeclined,
	"canceled":  OutcomeDeclined,
	"expired":   OutcomeDeclined,
}

// Classify maps a raw provider status string and machine code to an
// Outcome.
//
// Unrecognized but non-empty input maps to pending: unknown is not
// failure, and prematurely failing an ambiguous transaction is worse than
// re-checking it later. Only a completely empty status and code is an
// error (the provider told us nothing).
func Classify(rawStatus, code string) Outcome {
	status := strings.ToLower(strings.TrimSpace(rawStatus))
	code = strings.TrimSpace(code)

	if approvedCodes[code] {
		return OutcomeApproved
	}
	if outcome, ok := statusOutcomes[status]; ok {
		return outcome
	}
	if status == "" && code == "" {
		return OutcomeError
	}
	return OutcomePending
}
