package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/payflow/payflow/internal/domain"
	"github.com/payflow/payflow/internal/fees"
	"github.com/payflow/payflow/internal/provider"
)

// reconcileDelay is how long after an ambiguous charge outcome the async
// status query runs.
const reconcileDelay = 30 * time.Second

// SessionService orchestrates the payment session lifecycle: creation with
// the fee snapshot, the claim-then-charge flow, and reconciliation.
type SessionService struct {
	sessions  domain.SessionRepository
	merchants domain.MerchantRepository
	router    *provider.Router
	validator domain.TransitionValidator
	scheduler domain.ReconcileScheduler
	logger    *slog.Logger
}

// NewSessionService creates a service with the given adapters. The
// reconcile scheduler starts as a no-op; wire the real one with
// SetReconcileScheduler once the job queue is up.
func NewSessionService(sessions domain.SessionRepository, merchants domain.MerchantRepository, router *provider.Router, validator domain.TransitionValidator, logger *slog.Logger) *SessionService {
	return &SessionService{
		sessions:  sessions,
		merchants: merchants,
		router:    router,
		validator: validator,
		scheduler: noopScheduler{},
		logger:    logger,
	}
}

// SetReconcileScheduler swaps in the async reconciliation queue. The job
// worker needs the service and the service needs the queue, so this is
// wired after both exist.
func (s *SessionService) SetReconcileScheduler(scheduler domain.ReconcileScheduler) {
	s.scheduler = scheduler
}

type noopScheduler struct{}

func (noopScheduler) Schedule(_ context.Context, _ string, _ time.Duration) error { return nil }

// CreateSessionInput carries the tenant-facing session creation fields.
type CreateSessionInput struct {
	Amount          decimal.Decimal
	Currency        string
	Description     string
	OriginSystem    string
	SuccessURL      string
	CancelURL       string
	ExternalOrderID *string
	IdempotencyKey  *string
}

// CreateSessionOutput pairs the persisted session with its hosted
// checkout URL.
type CreateSessionOutput struct {
	Session     domain.Session
	CheckoutURL string
}

// CreateSession authenticates the merchant, freezes the fee snapshot, and
// persists a new pending session. When an idempotency key is supplied and
// a session already exists for the (merchant, key) pair, the existing
// session is returned instead of creating a duplicate.
func (s *SessionService) CreateSession(ctx context.Context, apiKey string, in CreateSessionInput) (CreateSessionOutput, error) {
	merchant, err := s.merchants.GetByAPIKey(ctx, apiKey)
	if err != nil {
		return CreateSessionOutput{}, err
	}

	if !in.Amount.IsPositive() {
		return CreateSessionOutput{}, &domain.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if in.Currency == "" {
		in.Currency = merchant.Currency
	}

	if in.IdempotencyKey != nil {
		existing, err := s.sessions.GetByIdempotencyKey(ctx, merchant.ID, *in.IdempotencyKey)
		if err == nil {
			return s.withCheckoutURL(ctx, existing)
		}
		if !errors.Is(err, domain.ErrSessionNotFound) {
			return CreateSessionOutput{}, err
		}
	}

	platformFee, merchantNet := fees.Compute(in.Amount, merchant.CommissionPercent)

	session := domain.NewSession(generateID(), merchant, in.Amount, platformFee, merchantNet,
		in.Currency, in.Description, in.OriginSystem, in.SuccessURL, in.CancelURL)
	session.ExternalOrderID = in.ExternalOrderID
	session.IdempotencyKey = in.IdempotencyKey

	if err := s.sessions.Create(ctx, session); err != nil {
		// Two concurrent creates with the same key: the loser re-reads
		// the winner's session.
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) && in.IdempotencyKey != nil {
			existing, getErr := s.sessions.GetByIdempotencyKey(ctx, merchant.ID, *in.IdempotencyKey)
			if getErr == nil {
				return s.withCheckoutURL(ctx, existing)
			}
		}
		return CreateSessionOutput{}, fmt.Errorf("creating session: %w", err)
	}

	s.logger.InfoContext(ctx, "session created",
		"session_id", session.ID, "merchant_id", merchant.ID,
		"amount", session.Amount.String(), "platform_fee", session.PlatformFee.String())

	return s.withCheckoutURL(ctx, session)
}

func (s *SessionService) withCheckoutURL(ctx context.Context, session domain.Session) (CreateSessionOutput, error) {
	adapter := s.router.Resolve(session.ProviderCode)
	url, err := adapter.CreateHostedPayment(ctx, session)
	if err != nil {
		return CreateSessionOutput{}, fmt.Errorf("building checkout url: %w", err)
	}
	return CreateSessionOutput{Session: session, CheckoutURL: url}, nil
}

// GetSession returns a session scoped to the requesting merchant. A
// session owned by another merchant is indistinguishable from a missing
// one.
func (s *SessionService) GetSession(ctx context.Context, apiKey, id string) (domain.Session, error) {
	merchant, err := s.merchants.GetByAPIKey(ctx, apiKey)
	if err != nil {
		return domain.Session{}, err
	}

	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	if session.MerchantID != merchant.ID {
		return domain.Session{}, domain.ErrSessionNotFound
	}

	return session, nil
}

// ListSessions returns the requesting merchant's sessions, optionally
// filtered by status.
func (s *SessionService) ListSessions(ctx context.Context, apiKey string, status *domain.Status, limit, offset int) ([]domain.Session, error) {
	merchant, err := s.merchants.GetByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	return s.sessions.List(ctx, domain.SessionFilter{
		MerchantID: merchant.ID,
		Status:     status,
		Limit:      limit,
		Offset:     offset,
	})
}

// ChargeResult is the outcome of a direct-debit attempt.
type ChargeResult struct {
	Session   domain.Session
	Outcome   provider.Outcome
	Reference string
	Message   string
}

// Charge drives the claim-then-charge flow for a session:
//
//  1. An already-paid session short-circuits to success (idempotent
//     against HTTP retries).
//  2. The processing claim is a compare-and-swap; losing it means another
//     request is mid-charge, reported as a conflict so the caller polls
//     instead of resubmitting to the bank.
//  3. Only the claim winner calls the provider, and that call runs to
//     completion even if the caller disconnects: the payer's bank-side
//     state does not care about our caller's socket.
func (s *SessionService) Charge(ctx context.Context, id string, payer provider.PayerCredentials) (ChargeResult, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return ChargeResult{}, err
	}

	if session.Status == domain.StatusPaid {
		return approvedResult(session), nil
	}

	claimed, ok, err := s.sessions.ClaimForProcessing(ctx, id)
	if err != nil {
		return ChargeResult{}, err
	}
	if !ok {
		// Lost the race or the session is not claimable; the re-read
		// state decides what the caller hears.
		switch claimed.Status {
		case domain.StatusPaid:
			return approvedResult(claimed), nil
		case domain.StatusProcessing:
			return ChargeResult{}, &domain.ConflictError{SessionID: id, Status: claimed.Status}
		default:
			_, verr := s.validator.Apply(ctx, claimed.Status, domain.EventClaim)
			if verr == nil {
				verr = &domain.TransitionError{Event: domain.EventClaim, Current: claimed.Status}
			}
			return ChargeResult{}, verr
		}
	}

	// The charge must record its outcome even if the caller goes away.
	chargeCtx := context.WithoutCancel(ctx)

	adapter := s.router.Resolve(claimed.ProviderCode)
	res, err := adapter.ProcessDirectCharge(chargeCtx, claimed, payer)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("charging session: %w", err)
	}

	return s.applyChargeOutcome(chargeCtx, claimed, adapter.Code(), res)
}

func (s *SessionService) applyChargeOutcome(ctx context.Context, session domain.Session, providerCode string, res provider.OperationResult) (ChargeResult, error) {
	switch res.Outcome {
	case provider.OutcomeApproved:
		updated, err := s.settle(ctx, session.ID, res)
		if err != nil {
			return ChargeResult{}, err
		}
		return approvedResult(updated), nil

	case provider.OutcomeDeclined:
		updated, err := s.fail(ctx, session.ID, res)
		if err != nil {
			return ChargeResult{}, err
		}
		return ChargeResult{
			Session:   updated,
			Outcome:   provider.OutcomeDeclined,
			Reference: res.ProviderRef,
			Message:   res.Message,
		}, nil

	case provider.OutcomePending:
		updated, err := s.recordSync(ctx, session.ID, res)
		if err != nil {
			return ChargeResult{}, err
		}
		s.scheduleReconcile(ctx, session.ID)
		return ChargeResult{
			Session:   updated,
			Outcome:   provider.OutcomePending,
			Reference: res.ProviderRef,
			Message:   res.Message,
		}, nil

	default: // provider.OutcomeError
		if res.Retryable {
			// The session stays claimed in processing; reconciliation
			// resolves it, the caller may retry later.
			s.scheduleReconcile(ctx, session.ID)
			return ChargeResult{}, &domain.ProviderError{
				Provider:  providerCode,
				Code:      res.Code,
				Message:   res.Message,
				Retryable: true,
			}
		}
		if _, err := s.fail(ctx, session.ID, res); err != nil {
			return ChargeResult{}, err
		}
		return ChargeResult{}, &domain.ProviderError{
			Provider: providerCode,
			Code:     res.Code,
			Message:  failureReason(res),
		}
	}
}

// Reconcile runs the out-of-band status query and applies the resulting
// transition. Terminal sessions return as-is.
func (s *SessionService) Reconcile(ctx context.Context, id string) (domain.Session, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	if session.Status.IsTerminal() {
		return session, nil
	}

	adapter := s.router.Resolve(session.ProviderCode)
	res, err := adapter.QueryPaymentStatus(ctx, session)
	if err != nil {
		return domain.Session{}, fmt.Errorf("querying payment status: %w", err)
	}

	switch res.Outcome {
	case provider.OutcomeApproved:
		return s.settle(ctx, id, res)
	case provider.OutcomeDeclined:
		return s.fail(ctx, id, res)
	default:
		// Still ambiguous: record the sync and stay non-terminal.
		// Ambiguity is never resolved by guessing.
		return s.recordSync(ctx, id, res)
	}
}

func (s *SessionService) settle(ctx context.Context, id string, res provider.OperationResult) (domain.Session, error) {
	method := "c2p"
	updated, applied, err := s.sessions.MarkPaid(ctx, id, domain.Settlement{
		ProviderRef:      optional(res.ProviderRef),
		ProviderStatus:   optional(res.RawStatus),
		PaymentMethod:    &method,
		ProviderMetadata: optional(res.RawPayload),
	})
	if err != nil {
		return domain.Session{}, err
	}
	if !applied && updated.Status != domain.StatusPaid {
		// A paid signal arrived after the session was marked failed.
		// Reportable anomaly, not an error to hide.
		s.logger.WarnContext(ctx, "late approval for terminal session",
			"session_id", id, "status", updated.Status, "provider_ref", res.ProviderRef)
	}
	return updated, nil
}

func (s *SessionService) fail(ctx context.Context, id string, res provider.OperationResult) (domain.Session, error) {
	reason := failureReason(res)
	updated, applied, err := s.sessions.MarkFailed(ctx, id, domain.Failure{
		Code:             optional(res.Code),
		Reason:           &reason,
		ProviderStatus:   optional(res.RawStatus),
		ProviderMetadata: optional(res.RawPayload),
	})
	if err != nil {
		return domain.Session{}, err
	}
	if !applied && updated.Status != domain.StatusFailed {
		s.logger.WarnContext(ctx, "late decline for terminal session",
			"session_id", id, "status", updated.Status, "code", res.Code)
	}
	return updated, nil
}

func (s *SessionService) recordSync(ctx context.Context, id string, res provider.OperationResult) (domain.Session, error) {
	now := time.Now().UTC()
	return s.sessions.Update(ctx, id, domain.SessionPatch{
		ProviderRef:        optional(res.ProviderRef),
		ProviderStatus:     optional(res.RawStatus),
		ProviderMetadata:   optional(res.RawPayload),
		LastProviderSyncAt: &now,
	})
}

func (s *SessionService) scheduleReconcile(ctx context.Context, id string) {
	if err := s.scheduler.Schedule(ctx, id, reconcileDelay); err != nil {
		s.logger.ErrorContext(ctx, "scheduling reconciliation failed",
			"session_id", id, "error", err)
	}
}

// CreateMerchant registers a new tenant and issues its API credential.
func (s *SessionService) CreateMerchant(ctx context.Context, name, businessCode string, commissionPercent decimal.Decimal, currency, defaultProvider string) (domain.Merchant, error) {
	if commissionPercent.IsNegative() || commissionPercent.GreaterThan(decimal.NewFromInt(100)) {
		return domain.Merchant{}, &domain.ValidationError{Field: "commissionPercent", Reason: "must be between 0 and 100"}
	}

	if _, err := s.merchants.GetByBusinessCode(ctx, businessCode); err == nil {
		return domain.Merchant{}, &domain.BusinessCodeConflictError{Code: businessCode}
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		return domain.Merchant{}, fmt.Errorf("generating api key: %w", err)
	}

	merchant := domain.NewMerchant(generateID(), name, businessCode, commissionPercent, currency, apiKey, defaultProvider)
	if err := s.merchants.Create(ctx, merchant); err != nil {
		return domain.Merchant{}, fmt.Errorf("creating merchant: %w", err)
	}

	return merchant, nil
}

// ListMerchants returns all registered merchants.
func (s *SessionService) ListMerchants(ctx context.Context) ([]domain.Merchant, error) {
	return s.merchants.List(ctx)
}

func approvedResult(session domain.Session) ChargeResult {
	ref := ""
	if session.ProviderRef != nil {
		ref = *session.ProviderRef
	}
	return ChargeResult{
		Session:   session,
		Outcome:   provider.OutcomeApproved,
		Reference: ref,
	}
}

func failureReason(res provider.OperationResult) string {
	if res.Message != "" {
		return res.Message
	}
	if res.RawStatus != "" {
		return res.RawStatus
	}
	return "payment was not completed"
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
