// Package mercantil implements the provider.Adapter contract for the
// Mercantil bank integration: C2P direct-debit charges and transfer-search
// reconciliation over the bank's HTTP API.
package mercantil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/payflow/payflow/internal/domain"
	"github.com/payflow/payflow/internal/provider"
)

const (
	// ProviderCode is the router key for this integration.
	ProviderCode = "mercantil"

	defaultTimeout    = 20 * time.Second
	defaultMaxRetries = 2
	defaultRetryBase  = 150 * time.Millisecond
)

// Config holds the bank integration settings.
type Config struct {
	BaseURL         string
	CheckoutBaseURL string
	MerchantID      string
	IntegratorID    string
	TerminalID      string
	SecretKey       string

	// Zero values fall back to the documented defaults: 20s request
	// timeout, 2 retries, 150ms base delay doubling per attempt.
	Timeout    time.Duration
	MaxRetries int
	RetryBase  time.Duration
}

// Adapter talks to the Mercantil HTTP API. It never mutates session
// state; it only performs provider calls and classifies the responses.
type Adapter struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// Compile-time check: Adapter implements provider.Adapter.
var _ provider.Adapter = (*Adapter)(nil)

// New creates an adapter with its own HTTP client bounded by the request
// timeout.
func New(cfg Config, logger *slog.Logger) *Adapter {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBase == 0 {
		cfg.RetryBase = defaultRetryBase
	}
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// NewWithClient wraps an existing HTTP client (used by tests to intercept
// requests).
func NewWithClient(cfg Config, client *http.Client, logger *slog.Logger) *Adapter {
	a := New(cfg, logger)
	a.client = client
	return a
}

// Code identifies the integration for router resolution.
func (a *Adapter) Code() string { return ProviderCode }

// CreateHostedPayment constructs the hosted checkout URL for a session.
// Pure URL construction, no provider call and no session mutation.
func (a *Adapter) CreateHostedPayment(_ context.Context, session domain.Session) (string, error) {
	base, err := url.Parse(a.cfg.CheckoutBaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing checkout base url: %w", err)
	}

	checkout := base.JoinPath("checkout", session.ID)
	q := checkout.Query()
	q.Set("success_url", session.SuccessURL)
	q.Set("cancel_url", session.CancelURL)
	checkout.RawQuery = q.Encode()

	return checkout.String(), nil
}

// c2pRequest is the bank's direct-charge request shape. Sensitive payer
// fields travel encrypted.
type c2pRequest struct {
	MerchantIdentify merchantIdentify `json:"merchant_identify"`
	TransactionC2P   transactionC2P   `json:"transaction_c2p"`
}

type merchantIdentify struct {
	IntegratorID string `json:"integratorId"`
	MerchantID   string `json:"merchantId"`
	TerminalID   string `json:"terminalId"`
}

type transactionC2P struct {
	Amount             string `json:"amount"`
	Currency           string `json:"currency"`
	OriginMobileNumber string `json:"origin_mobile_number"`
	DestinationBankID  string `json:"destination_bank_id"`
	CustomerID         string `json:"customer_id"`
	TwoFactorAuth      string `json:"twofactor_auth"`
	InvoiceNumber      string `json:"invoice_number"`
	PaymentMethod      string `json:"payment_method"`
	TrxType            string `json:"trx_type"`
}

// ProcessDirectCharge attempts a synchronous C2P debit against the payer.
func (a *Adapter) ProcessDirectCharge(ctx context.Context, session domain.Session, payer provider.PayerCredentials) (provider.OperationResult, error) {
	customerID, err := encryptField(a.cfg.SecretKey, payer.DocumentID)
	if err != nil {
		return errorResult(false, "", fmt.Sprintf("encrypting customer id: %v", err)), nil
	}
	otp, err := encryptField(a.cfg.SecretKey, payer.OTP)
	if err != nil {
		return errorResult(false, "", fmt.Sprintf("encrypting otp: %v", err)), nil
	}
	phone, err := encryptField(a.cfg.SecretKey, payer.Phone)
	if err != nil {
		return errorResult(false, "", fmt.Sprintf("encrypting phone: %v", err)), nil
	}

	req := c2pRequest{
		MerchantIdentify: a.identify(),
		TransactionC2P: transactionC2P{
			Amount:             session.Amount.StringFixed(2),
			Currency:           session.Currency,
			OriginMobileNumber: phone,
			DestinationBankID:  payer.BankCode,
			CustomerID:         customerID,
			TwoFactorAuth:      otp,
			InvoiceNumber:      session.ID,
			PaymentMethod:      "c2p",
			TrxType:            "compra",
		},
	}

	return a.post(ctx, "/payment/c2p", req, c2pResponsePaths)
}

// searchRequest is the bank's transfer-search shape used for
// reconciliation.
type searchRequest struct {
	MerchantIdentify merchantIdentify `json:"merchant_identify"`
	SearchBy         searchBy         `json:"search_by"`
}

type searchBy struct {
	InvoiceNumber string `json:"invoice_number"`
	TrxType       string `json:"trx_type"`
}

// QueryPaymentStatus runs the out-of-band transfer search for a session
// whose charge outcome was ambiguous.
func (a *Adapter) QueryPaymentStatus(ctx context.Context, session domain.Session) (provider.OperationResult, error) {
	req := searchRequest{
		MerchantIdentify: a.identify(),
		SearchBy: searchBy{
			InvoiceNumber: session.ID,
			TrxType:       "compra",
		},
	}

	return a.post(ctx, "/payment/search", req, searchResponsePaths)
}

func (a *Adapter) identify() merchantIdentify {
	return merchantIdentify{
		IntegratorID: a.cfg.IntegratorID,
		MerchantID:   a.cfg.MerchantID,
		TerminalID:   a.cfg.TerminalID,
	}
}

// responsePaths lists where to look for each normalized field across the
// bank's inconsistent response shapes, in priority order.
type responsePaths struct {
	status  []string
	code    []string
	ref     []string
	message []string
}

var c2pResponsePaths = responsePaths{
	status:  []string{"transaction_c2p_response.trx_status", "transaction_response.trx_status", "trx_status"},
	code:    []string{"transaction_c2p_response.trx_internal_status", "error_list.0.error_code", "processing_code"},
	ref:     []string{"transaction_c2p_response.payment_reference", "payment_reference"},
	message: []string{"transaction_c2p_response.trx_status_description", "error_list.0.description", "message"},
}

var searchResponsePaths = responsePaths{
	status:  []string{"transaction_list.0.trx_status", "transaction_search_response.trx_status", "trx_status"},
	code:    []string{"transaction_list.0.trx_internal_status", "error_list.0.error_code"},
	ref:     []string{"transaction_list.0.payment_reference", "payment_reference"},
	message: []string{"transaction_list.0.trx_status_description", "error_list.0.description", "message"},
}

// post sends the request with bounded retry and classifies the response.
//
// Retries apply only to transport errors and 5xx responses: those are
// transient. A 4xx is a determinate decline and is returned immediately.
func (a *Adapter) post(ctx context.Context, path string, payload any, paths responsePaths) (provider.OperationResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return errorResult(false, "", fmt.Sprintf("encoding request: %v", err)), nil
	}

	var lastErr error
	var status int
	var respBody []byte

	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := a.cfg.RetryBase << (attempt - 1)
			a.logger.WarnContext(ctx, "retrying provider call",
				"path", path, "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return errorResult(true, "", ctx.Err().Error()), nil
			}
		}

		status, respBody, lastErr = a.doOnce(ctx, path, body)
		if lastErr == nil && status < 500 {
			break
		}
	}

	if lastErr != nil {
		return errorResult(true, "", lastErr.Error()), nil
	}

	raw := string(respBody)
	fields := extractFields(respBody, paths)

	switch {
	case status >= 500:
		res := errorResult(true, raw, fmt.Sprintf("provider returned %d", status))
		res.RawStatus = fields.status
		res.Code = fields.code
		return res, nil
	case status >= 400:
		return provider.OperationResult{
			Outcome:     provider.OutcomeDeclined,
			ProviderRef: fields.ref,
			RawStatus:   fields.status,
			Code:        fields.code,
			Message:     declineMessage(fields, status),
			RawPayload:  raw,
			Retryable:   false,
		}, nil
	}

	outcome := provider.Classify(fields.status, fields.code)
	res := provider.OperationResult{
		Outcome:     outcome,
		ProviderRef: fields.ref,
		RawStatus:   fields.status,
		Code:        fields.code,
		Message:     fields.message,
		RawPayload:  raw,
	}
	if outcome == provider.OutcomeError {
		// The provider answered but said nothing usable; leave the
		// session resolvable by a later search instead of guessing.
		res.Retryable = true
		res.Message = "provider response carried no status"
	}
	return res, nil
}

func (a *Adapter) doOnce(ctx context.Context, path string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-IBM-Client-Id", a.cfg.MerchantID)

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("calling provider: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}

type extracted struct {
	status  string
	code    string
	ref     string
	message string
}

func extractFields(body []byte, paths responsePaths) extracted {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return extracted{}
	}
	return extracted{
		status:  lookupString(doc, paths.status),
		code:    lookupString(doc, paths.code),
		ref:     lookupString(doc, paths.ref),
		message: lookupString(doc, paths.message),
	}
}

func declineMessage(f extracted, status int) string {
	if f.message != "" {
		return f.message
	}
	return fmt.Sprintf("provider rejected the charge (%d)", status)
}

func errorResult(retryable bool, rawPayload, message string) provider.OperationResult {
	return provider.OperationResult{
		Outcome:    provider.OutcomeError,
		Message:    message,
		RawPayload: rawPayload,
		Retryable:  retryable,
	}
}
