package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shopspring/decimal"

	"github.com/payflow/payflow/internal/app"
	"github.com/payflow/payflow/internal/domain"
	"github.com/payflow/payflow/internal/provider"
	"github.com/payflow/payflow/internal/ratelimit"
)

const timeFormat = time.RFC3339

// SessionResponse is the API representation of a payment session,
// including the frozen fee breakdown.
type SessionResponse struct {
	ID              string `json:"id" doc:"Unique identifier"`
	Status          string `json:"status" doc:"Lifecycle state"`
	Amount          string `json:"amount" doc:"Requested amount"`
	Currency        string `json:"currency" doc:"Currency code"`
	PlatformFee     string `json:"platform_fee" doc:"Commission withheld by the platform"`
	MerchantNet     string `json:"merchant_net" doc:"Amount settled to the merchant"`
	Description     string `json:"description,omitempty" doc:"Free-form description"`
	OriginSystem    string `json:"origin_system,omitempty" doc:"Originating system tag"`
	ExternalOrderID string `json:"external_order_id,omitempty" doc:"Merchant-side order reference"`
	PaymentMethod   string `json:"payment_method,omitempty" doc:"Method used to pay"`
	ProviderRef     string `json:"provider_ref,omitempty" doc:"Provider-assigned reference"`
	FailureCode     string `json:"failure_code,omitempty" doc:"Machine-readable failure code"`
	FailureReason   string `json:"failure_reason,omitempty" doc:"Human-readable failure reason"`
	CreatedAt       string `json:"created_at" doc:"Creation timestamp (ISO 8601)"`
	PaidAt          string `json:"paid_at,omitempty" doc:"Settlement timestamp (ISO 8601)"`
}

func toSessionResponse(s domain.Session) SessionResponse {
	resp := SessionResponse{
		ID:           s.ID,
		Status:       string(s.Status),
		Amount:       s.Amount.StringFixed(2),
		Currency:     s.Currency,
		PlatformFee:  s.PlatformFee.StringFixed(2),
		MerchantNet:  s.MerchantNet.StringFixed(2),
		Description:  s.Description,
		OriginSystem: s.OriginSystem,
		CreatedAt:    s.CreatedAt.Format(timeFormat),
	}
	if s.ExternalOrderID != nil {
		resp.ExternalOrderID = *s.ExternalOrderID
	}
	if s.PaymentMethod != nil {
		resp.PaymentMethod = *s.PaymentMethod
	}
	if s.ProviderRef != nil {
		resp.ProviderRef = *s.ProviderRef
	}
	if s.FailureCode != nil {
		resp.FailureCode = *s.FailureCode
	}
	if s.FailureReason != nil {
		resp.FailureReason = *s.FailureReason
	}
	if s.PaidAt != nil {
		resp.PaidAt = s.PaidAt.Format(timeFormat)
	}
	return resp
}

// --- Create Session ---

type CreateSessionInput struct {
	APIKey string `header:"X-Api-Key" doc:"Merchant API credential"`
	Body   struct {
		Amount          string `json:"amount" minLength:"1" doc:"Positive decimal amount"`
		Currency        string `json:"currency,omitempty" doc:"Currency code; defaults to the merchant's payout currency"`
		Description     string `json:"description,omitempty" maxLength:"500" doc:"Free-form description"`
		OriginSystem    string `json:"origin_system,omitempty" maxLength:"100" doc:"Originating system tag"`
		SuccessURL      string `json:"success_url" minLength:"1" doc:"Redirect after successful payment"`
		CancelURL       string `json:"cancel_url" minLength:"1" doc:"Redirect after cancelled payment"`
		ExternalOrderID string `json:"external_order_id,omitempty" doc:"Merchant-side order reference"`
		IdempotencyKey  string `json:"idempotency_key,omitempty" doc:"Dedupe key; repeated creates return the original session"`
	}
}

type CreateSessionOutput struct {
	Body struct {
		SessionID   string `json:"session_id" doc:"Created session identifier"`
		CheckoutURL string `json:"checkout_url" doc:"Hosted checkout URL for the payer"`
	}
}

// --- Get / List Sessions ---

type GetSessionInput struct {
	APIKey string `header:"X-Api-Key" doc:"Merchant API credential"`
	ID     string `path:"id" doc:"Session ID"`
}

type GetSessionOutput struct {
	Body SessionResponse
}

type ListSessionsInput struct {
	APIKey string `header:"X-Api-Key" doc:"Merchant API credential"`
	Status string `query:"status" required:"false" enum:"pending,processing,paid,failed" doc:"Filter by status"`
	Limit  int    `query:"limit" required:"false" default:"50" doc:"Max results"`
	Offset int    `query:"offset" required:"false" default:"0" doc:"Pagination offset"`
}

type ListSessionsOutput struct {
	Body []SessionResponse
}

// --- Charge ---

type ChargeSessionInput struct {
	ID   string `path:"id" doc:"Session ID"`
	Body struct {
		DocumentID string `json:"document_id" minLength:"1" doc:"Payer national ID"`
		Phone      string `json:"phone" minLength:"1" doc:"Payer mobile number"`
		Bank       string `json:"bank" minLength:"1" doc:"Payer bank code"`
		OTP        string `json:"otp" minLength:"1" doc:"One-time password authorizing the debit"`
	}
}

type ChargeSessionOutput struct {
	Body struct {
		Success   bool   `json:"success" doc:"Whether the session is settled"`
		Status    string `json:"status" doc:"Session status after the attempt"`
		Reference string `json:"reference,omitempty" doc:"Provider-assigned reference"`
		Message   string `json:"message,omitempty" doc:"Additional outcome detail"`
	}
}

// --- Reconcile ---

type ReconcileSessionInput struct {
	ID string `path:"id" doc:"Session ID"`
}

type ReconcileSessionOutput struct {
	Body SessionResponse
}

// --- Merchants ---

type MerchantResponse struct {
	ID                string `json:"id" doc:"Unique identifier"`
	Name              string `json:"name" doc:"Display name"`
	BusinessCode      string `json:"business_code" doc:"Globally unique business code"`
	CommissionPercent string `json:"commission_percent" doc:"Platform commission (0-100)"`
	Currency          string `json:"currency" doc:"Payout currency"`
	APIKey            string `json:"api_key,omitempty" doc:"API credential, returned once at creation"`
	DefaultProvider   string `json:"default_provider" doc:"Provider code for new sessions"`
	CreatedAt         string `json:"created_at" doc:"Creation timestamp (ISO 8601)"`
}

type CreateMerchantInput struct {
	Body struct {
		Name              string `json:"name" minLength:"1" maxLength:"255" doc:"Display name"`
		BusinessCode      string `json:"business_code" minLength:"1" maxLength:"100" pattern:"^[a-z0-9]+(?:-[a-z0-9]+)*$" doc:"Globally unique code (lowercase, hyphens)"`
		CommissionPercent string `json:"commission_percent" minLength:"1" doc:"Platform commission (0-100)"`
		Currency          string `json:"currency" minLength:"3" maxLength:"3" doc:"Payout currency code"`
		DefaultProvider   string `json:"default_provider,omitempty" doc:"Provider code for new sessions"`
	}
}

type CreateMerchantOutput struct {
	Body MerchantResponse
}

type ListMerchantsOutput struct {
	Body []MerchantResponse
}

// Register adds all payment API routes to the Huma API. The charge
// endpoint is rate limited per session.
func Register(api huma.API, svc *app.SessionService, limiter *ratelimit.Limiter) {
	huma.Register(api, huma.Operation{
		OperationID: "create-session",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions",
		Summary:     "Create a payment session",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *CreateSessionInput) (*CreateSessionOutput, error) {
		amount, err := decimal.NewFromString(input.Body.Amount)
		if err != nil {
			return nil, huma.Error400BadRequest("amount must be a decimal number")
		}

		out, err := svc.CreateSession(ctx, input.APIKey, app.CreateSessionInput{
			Amount:          amount,
			Currency:        input.Body.Currency,
			Description:     input.Body.Description,
			OriginSystem:    input.Body.OriginSystem,
			SuccessURL:      input.Body.SuccessURL,
			CancelURL:       input.Body.CancelURL,
			ExternalOrderID: optional(input.Body.ExternalOrderID),
			IdempotencyKey:  optional(input.Body.IdempotencyKey),
		})
		if err != nil {
			return nil, toHumaError(err)
		}

		resp := &CreateSessionOutput{}
		resp.Body.SessionID = out.Session.ID
		resp.Body.CheckoutURL = out.CheckoutURL
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions/{id}",
		Summary:     "Get a session by ID",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
		session, err := svc.GetSession(ctx, input.APIKey, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetSessionOutput{Body: toSessionResponse(session)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions",
		Summary:     "List the merchant's sessions",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *ListSessionsInput) (*ListSessionsOutput, error) {
		var status *domain.Status
		if input.Status != "" {
			s := domain.Status(input.Status)
			status = &s
		}

		sessions, err := svc.ListSessions(ctx, input.APIKey, status, input.Limit, input.Offset)
		if err != nil {
			return nil, toHumaError(err)
		}

		resp := make([]SessionResponse, len(sessions))
		for i, s := range sessions {
			resp[i] = toSessionResponse(s)
		}
		return &ListSessionsOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "charge-session",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/charge",
		Summary:     "Attempt a direct C2P debit",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *ChargeSessionInput) (*ChargeSessionOutput, error) {
		if !limiter.Allow("charge:" + input.ID) {
			return nil, huma.Error429TooManyRequests("too many charge attempts, slow down")
		}

		res, err := svc.Charge(ctx, input.ID, provider.PayerCredentials{
			DocumentID: input.Body.DocumentID,
			Phone:      input.Body.Phone,
			BankCode:   input.Body.Bank,
			OTP:        input.Body.OTP,
		})
		if err != nil {
			return nil, toHumaError(err)
		}

		if res.Outcome == provider.OutcomeDeclined {
			detail := res.Message
			if detail == "" {
				detail = "payment declined"
			}
			return nil, huma.Error422UnprocessableEntity(detail)
		}

		resp := &ChargeSessionOutput{}
		resp.Body.Success = res.Outcome == provider.OutcomeApproved
		resp.Body.Status = string(res.Session.Status)
		resp.Body.Reference = res.Reference
		resp.Body.Message = res.Message
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reconcile-session",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/reconcile",
		Summary:     "Re-query provider status and apply the result",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *ReconcileSessionInput) (*ReconcileSessionOutput, error) {
		session, err := svc.Reconcile(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &ReconcileSessionOutput{Body: toSessionResponse(session)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-merchant",
		Method:      http.MethodPost,
		Path:        "/api/v1/merchants",
		Summary:     "Register a merchant",
		Tags:        []string{"Merchants"},
	}, func(ctx context.Context, input *CreateMerchantInput) (*CreateMerchantOutput, error) {
		commission, err := decimal.NewFromString(input.Body.CommissionPercent)
		if err != nil {
			return nil, huma.Error400BadRequest("commission_percent must be a decimal number")
		}

		merchant, err := svc.CreateMerchant(ctx, input.Body.Name, input.Body.BusinessCode,
			commission, input.Body.Currency, input.Body.DefaultProvider)
		if err != nil {
			return nil, toHumaError(err)
		}

		return &CreateMerchantOutput{Body: toMerchantResponse(merchant, true)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-merchants",
		Method:      http.MethodGet,
		Path:        "/api/v1/merchants",
		Summary:     "List merchants",
		Tags:        []string{"Merchants"},
	}, func(ctx context.Context, _ *struct{}) (*ListMerchantsOutput, error) {
		merchants, err := svc.ListMerchants(ctx)
		if err != nil {
			return nil, toHumaError(err)
		}

		resp := make([]MerchantResponse, len(merchants))
		for i, m := range merchants {
			resp[i] = toMerchantResponse(m, false)
		}
		return &ListMerchantsOutput{Body: resp}, nil
	})
}

func toMerchantResponse(m domain.Merchant, includeKey bool) MerchantResponse {
	resp := MerchantResponse{
		ID:                m.ID,
		Name:              m.Name,
		BusinessCode:      m.BusinessCode,
		CommissionPercent: m.CommissionPercent.String(),
		Currency:          m.Currency,
		DefaultProvider:   m.DefaultProvider,
		CreatedAt:         m.CreatedAt.Format(timeFormat),
	}
	if includeKey {
		resp.APIKey = m.APIKey
	}
	return resp
}

// toHumaError translates domain errors to Huma HTTP errors. Retryability
// drives the status class: conflicts and retryable provider failures tell
// the caller to poll or retry, determinate failures do not.
func toHumaError(err error) error {
	if errors.Is(err, domain.ErrSessionNotFound) {
		return huma.Error404NotFound("session not found")
	}
	if errors.Is(err, domain.ErrMerchantNotFound) {
		return huma.Error404NotFound("merchant not found")
	}
	if errors.Is(err, domain.ErrInvalidAPIKey) {
		return huma.Error401Unauthorized("unknown or missing api key")
	}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return huma.Error400BadRequest(verr.Error())
	}

	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		return huma.Error409Conflict("operation already in progress")
	}

	var codeConflict *domain.BusinessCodeConflictError
	if errors.As(err, &codeConflict) {
		return huma.Error409Conflict(codeConflict.Error())
	}

	var trErr *domain.TransitionError
	if errors.As(err, &trErr) {
		return huma.Error422UnprocessableEntity(trErr.Error())
	}

	var perr *domain.ProviderError
	if errors.As(err, &perr) {
		if perr.Retryable {
			return huma.Error502BadGateway("payment provider unavailable, try again")
		}
		return huma.Error502BadGateway(perr.Message)
	}

	return huma.Error500InternalServerError("internal server error")
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
