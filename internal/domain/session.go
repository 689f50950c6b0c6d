package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle state of a payment session.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusPaid       Status = "paid"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusFailed
}

// Event represents an action that triggers a state transition.
type Event string

const (
	EventClaim  Event = "claim"
	EventSettle Event = "settle"
	EventFail   Event = "fail"
)

// Transition defines a valid state change: an event moves a session from Src to Dst.
type Transition struct {
	Event Event
	Src   Status
	Dst   Status
}

// Transitions defines all valid state changes in the session lifecycle.
// This is domain knowledge consumed by the FSM adapter. Settlement and
// failure are both reachable directly from pending so that out-of-band
// reconciliation can resolve a session that was never claimed.
var Transitions = []Transition{
	{Event: EventClaim, Src: StatusPending, Dst: StatusProcessing},
	{Event: EventSettle, Src: StatusPending, Dst: StatusPaid},
	{Event: EventSettle, Src: StatusProcessing, Dst: StatusPaid},
	{Event: EventFail, Src: StatusPending, Dst: StatusFailed},
	{Event: EventFail, Src: StatusProcessing, Dst: StatusFailed},
}

// Session is the central entity: one payment attempt by a payer against a
// merchant, settled through an external bank provider.
//
// Amount, PlatformFee and MerchantNet are frozen at creation time; the fee
// is a snapshot of the merchant's commission at that moment, never looked
// up live later. PlatformFee + MerchantNet == Amount always holds.
type Session struct {
	ID           string
	MerchantID   string
	OriginSystem string

	Amount      decimal.Decimal
	Currency    string
	Description string
	PlatformFee decimal.Decimal
	MerchantNet decimal.Decimal

	SuccessURL      string
	CancelURL       string
	ExternalOrderID *string
	IdempotencyKey  *string

	Status           Status
	PaymentMethod    *string
	ProviderCode     string
	ProviderRef      *string
	ProviderStatus   *string
	FailureCode      *string
	FailureReason    *string
	ProviderMetadata *string

	CreatedAt           time.Time
	UpdatedAt           time.Time
	ProcessingStartedAt *time.Time
	PaidAt              *time.Time
	LastProviderSyncAt  *time.Time
}

// NewSession creates a session in the initial "pending" state with the fee
// snapshot already computed by the caller.
func NewSession(id string, merchant Merchant, amount, platformFee, merchantNet decimal.Decimal, currency, description, originSystem, successURL, cancelURL string) Session {
	now := time.Now().UTC()
	return Session{
		ID:           id,
		MerchantID:   merchant.ID,
		OriginSystem: originSystem,
		Amount:       amount,
		Currency:     currency,
		Description:  description,
		PlatformFee:  platformFee,
		MerchantNet:  merchantNet,
		SuccessURL:   successURL,
		CancelURL:    cancelURL,
		Status:       StatusPending,
		ProviderCode: merchant.DefaultProvider,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Settlement carries provider data recorded when a session is marked paid.
// Nil fields keep whatever value the session already holds.
type Settlement struct {
	ProviderRef      *string
	ProviderStatus   *string
	PaymentMethod    *string
	ProviderMetadata *string
}

// Failure carries provider data recorded when a session is marked failed.
type Failure struct {
	Code             *string
	Reason           *string
	ProviderStatus   *string
	ProviderMetadata *string
}

// SessionPatch is a partial update for non-state-changing metadata refresh.
// It must never be used to force a status transition.
type SessionPatch struct {
	PaymentMethod      *string
	ProviderRef        *string
	ProviderStatus     *string
	ProviderMetadata   *string
	LastProviderSyncAt *time.Time
}
