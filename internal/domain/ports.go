package domain

import (
	"context"
	"time"
)

// SessionRepository defines the persistence contract for payment sessions.
// State transitions happen only through ClaimForProcessing, MarkPaid and
// MarkFailed; each is a conditioned update that is atomic with its status
// check, and each reports via its bool whether the write actually applied.
type SessionRepository interface {
	Create(ctx context.Context, session Session) error
	GetByID(ctx context.Context, id string) (Session, error)
	GetByIdempotencyKey(ctx context.Context, merchantID, key string) (Session, error)
	List(ctx context.Context, filter SessionFilter) ([]Session, error)

	// ClaimForProcessing atomically moves pending → processing. At most one
	// concurrent caller observes claimed=true; all others get a no-op and
	// must re-read the session to learn its current status.
	ClaimForProcessing(ctx context.Context, id string) (Session, bool, error)

	// MarkPaid moves a non-terminal session (or an already-paid one, as a
	// no-op merge) to paid. PaidAt is set only on the first application.
	// Returns applied=false when the session is terminal failed.
	MarkPaid(ctx context.Context, id string, settlement Settlement) (Session, bool, error)

	// MarkFailed is the symmetric terminal transition for failures.
	MarkFailed(ctx context.Context, id string, failure Failure) (Session, bool, error)

	// Update merges metadata without touching status.
	Update(ctx context.Context, id string, patch SessionPatch) (Session, error)
}

// SessionFilter holds optional criteria for listing a merchant's sessions.
type SessionFilter struct {
	MerchantID string
	Status     *Status
	Limit      int
	Offset     int
}

// MerchantRepository defines the persistence contract for merchants.
type MerchantRepository interface {
	Create(ctx context.Context, merchant Merchant) error
	GetByID(ctx context.Context, id string) (Merchant, error)
	GetByAPIKey(ctx context.Context, apiKey string) (Merchant, error)
	GetByBusinessCode(ctx context.Context, code string) (Merchant, error)
	List(ctx context.Context) ([]Merchant, error)
}

// TransitionValidator checks whether a lifecycle event is allowed from a
// status and returns the destination status.
type TransitionValidator interface {
	Apply(ctx context.Context, current Status, event Event) (Status, error)
}

// ReconcileScheduler enqueues an out-of-band status query for a session
// whose charge outcome was ambiguous.
type ReconcileScheduler interface {
	Schedule(ctx context.Context, sessionID string, delay time.Duration) error
}
