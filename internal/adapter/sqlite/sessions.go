package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/payflow/payflow/internal/domain"
)

// SessionRepository implements domain.SessionRepository using SQLite.
//
// All state transitions are single conditioned UPDATEs: the status check
// and the write happen in one atomic statement, so concurrent callers race
// on RowsAffected instead of on read-modify-write interleavings.
type SessionRepository struct {
	db *sql.DB
}

// Compile-time check: SessionRepository implements domain.SessionRepository.
var _ domain.SessionRepository = (*SessionRepository)(nil)

const sessionColumns = `id, merchant_id, origin_system, amount, currency, description,
	platform_fee, merchant_net, success_url, cancel_url, external_order_id,
	idempotency_key, status, payment_method, provider_code, provider_ref,
	provider_status, failure_code, failure_reason, provider_metadata,
	created_at, updated_at, processing_started_at, paid_at, last_provider_sync_at`

func (r *SessionRepository) Create(ctx context.Context, s domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.MerchantID, s.OriginSystem,
		s.Amount.String(), s.Currency, s.Description,
		s.PlatformFee.String(), s.MerchantNet.String(),
		s.SuccessURL, s.CancelURL, nullable(s.ExternalOrderID),
		nullable(s.IdempotencyKey), string(s.Status), nullable(s.PaymentMethod),
		s.ProviderCode, nullable(s.ProviderRef), nullable(s.ProviderStatus),
		nullable(s.FailureCode), nullable(s.FailureReason), nullable(s.ProviderMetadata),
		fmtTime(s.CreatedAt), fmtTime(s.UpdatedAt),
		fmtTimePtr(s.ProcessingStartedAt), fmtTimePtr(s.PaidAt), fmtTimePtr(s.LastProviderSyncAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (domain.Session, error) {
	return r.scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id,
	))
}

func (r *SessionRepository) GetByIdempotencyKey(ctx context.Context, merchantID, key string) (domain.Session, error) {
	return r.scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE merchant_id = ? AND idempotency_key = ?`, merchantID, key,
	))
}

func (r *SessionRepository) List(ctx context.Context, filter domain.SessionFilter) ([]domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE merchant_id = ?`
	args := []any{filter.MerchantID}

	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		s, err := r.scanSessionFromRows(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

// ClaimForProcessing is the compare-and-swap at the heart of the engine:
// the UPDATE is conditioned on status='pending' in the same statement as
// the write, so at most one concurrent caller sees claimed=true.
// ProcessingStartedAt is recorded on the first claim only.
func (r *SessionRepository) ClaimForProcessing(ctx context.Context, id string) (domain.Session, bool, error) {
	now := time.Now().UTC()

	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions
		 SET status = ?, processing_started_at = COALESCE(processing_started_at, ?), updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(domain.StatusProcessing), fmtTime(now), fmtTime(now),
		id, string(domain.StatusPending),
	)
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("claiming session: %w", err)
	}

	return r.afterConditionalWrite(ctx, id, result)
}

// MarkPaid applies the terminal paid transition. It is idempotent against
// duplicate success notifications: re-applying to an already-paid session
// merges metadata but never touches PaidAt. A session already failed is a
// no-op (applied=false) — a late "paid" signal must not resurrect it; the
// caller reports that race as an anomaly instead of hiding it.
func (r *SessionRepository) MarkPaid(ctx context.Context, id string, settlement domain.Settlement) (domain.Session, bool, error) {
	now := time.Now().UTC()

	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions
		 SET status = ?,
		     paid_at = COALESCE(paid_at, ?),
		     provider_ref = COALESCE(?, provider_ref),
		     provider_status = COALESCE(?, provider_status),
		     payment_method = COALESCE(?, payment_method),
		     provider_metadata = COALESCE(?, provider_metadata),
		     failure_code = NULL,
		     failure_reason = NULL,
		     updated_at = ?
		 WHERE id = ? AND status IN (?, ?, ?)`,
		string(domain.StatusPaid), fmtTime(now),
		nullable(settlement.ProviderRef), nullable(settlement.ProviderStatus),
		nullable(settlement.PaymentMethod), nullable(settlement.ProviderMetadata),
		fmtTime(now),
		id, string(domain.StatusPending), string(domain.StatusProcessing), string(domain.StatusPaid),
	)
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("marking session paid: %w", err)
	}

	return r.afterConditionalWrite(ctx, id, result)
}

// MarkFailed is the symmetric terminal failure transition: applies from
// non-terminal states, re-applies to an already-failed session as a merge,
// and refuses to overwrite a paid session.
func (r *SessionRepository) MarkFailed(ctx context.Context, id string, failure domain.Failure) (domain.Session, bool, error) {
	now := time.Now().UTC()

	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions
		 SET status = ?,
		     failure_code = COALESCE(?, failure_code),
		     failure_reason = COALESCE(?, failure_reason),
		     provider_status = COALESCE(?, provider_status),
		     provider_metadata = COALESCE(?, provider_metadata),
		     updated_at = ?
		 WHERE id = ? AND status IN (?, ?, ?)`,
		string(domain.StatusFailed),
		nullable(failure.Code), nullable(failure.Reason),
		nullable(failure.ProviderStatus), nullable(failure.ProviderMetadata),
		fmtTime(now),
		id, string(domain.StatusPending), string(domain.StatusProcessing), string(domain.StatusFailed),
	)
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("marking session failed: %w", err)
	}

	return r.afterConditionalWrite(ctx, id, result)
}

// Update merges metadata fields without ever changing status.
func (r *SessionRepository) Update(ctx context.Context, id string, patch domain.SessionPatch) (domain.Session, error) {
	sets := []string{"updated_at = ?"}
	args := []any{fmtTime(time.Now().UTC())}

	if patch.PaymentMethod != nil {
		sets = append(sets, "payment_method = ?")
		args = append(args, *patch.PaymentMethod)
	}
	if patch.ProviderRef != nil {
		sets = append(sets, "provider_ref = ?")
		args = append(args, *patch.ProviderRef)
	}
	if patch.ProviderStatus != nil {
		sets = append(sets, "provider_status = ?")
		args = append(args, *patch.ProviderStatus)
	}
	if patch.ProviderMetadata != nil {
		sets = append(sets, "provider_metadata = ?")
		args = append(args, *patch.ProviderMetadata)
	}
	if patch.LastProviderSyncAt != nil {
		sets = append(sets, "last_provider_sync_at = ?")
		args = append(args, fmtTime(*patch.LastProviderSyncAt))
	}

	query := "UPDATE sessions SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE id = ?"
	args = append(args, id)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.Session{}, fmt.Errorf("updating session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return domain.Session{}, fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.Session{}, domain.ErrSessionNotFound
	}

	return r.GetByID(ctx, id)
}

// afterConditionalWrite interprets the RowsAffected of a conditioned
// update: 0 rows means the condition did not hold (a no-op for the
// caller), which is only an error if the session does not exist at all.
func (r *SessionRepository) afterConditionalWrite(ctx context.Context, id string, result sql.Result) (domain.Session, bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("checking rows affected: %w", err)
	}

	session, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return domain.Session{}, false, getErr
	}

	return session, rows > 0, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func (r *SessionRepository) scanSession(row *sql.Row) (domain.Session, error) {
	s, err := scanSessionRow(row)
	if err == sql.ErrNoRows {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("scanning session: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) scanSessionFromRows(rows *sql.Rows) (domain.Session, error) {
	s, err := scanSessionRow(rows)
	if err != nil {
		return domain.Session{}, fmt.Errorf("scanning session row: %w", err)
	}
	return s, nil
}

func scanSessionRow(row scannable) (domain.Session, error) {
	var s domain.Session
	var amount, platformFee, merchantNet, status, createdAt, updatedAt string
	var externalOrderID, idempotencyKey, paymentMethod, providerRef sql.NullString
	var providerStatus, failureCode, failureReason, providerMetadata sql.NullString
	var processingStartedAt, paidAt, lastProviderSyncAt sql.NullString

	err := row.Scan(
		&s.ID, &s.MerchantID, &s.OriginSystem, &amount, &s.Currency, &s.Description,
		&platformFee, &merchantNet, &s.SuccessURL, &s.CancelURL, &externalOrderID,
		&idempotencyKey, &status, &paymentMethod, &s.ProviderCode, &providerRef,
		&providerStatus, &failureCode, &failureReason, &providerMetadata,
		&createdAt, &updatedAt, &processingStartedAt, &paidAt, &lastProviderSyncAt,
	)
	if err != nil {
		return domain.Session{}, err
	}

	s.Amount, _ = decimal.NewFromString(amount)
	s.PlatformFee, _ = decimal.NewFromString(platformFee)
	s.MerchantNet, _ = decimal.NewFromString(merchantNet)
	s.Status = domain.Status(status)
	s.ExternalOrderID = strPtr(externalOrderID)
	s.IdempotencyKey = strPtr(idempotencyKey)
	s.PaymentMethod = strPtr(paymentMethod)
	s.ProviderRef = strPtr(providerRef)
	s.ProviderStatus = strPtr(providerStatus)
	s.FailureCode = strPtr(failureCode)
	s.FailureReason = strPtr(failureReason)
	s.ProviderMetadata = strPtr(providerMetadata)
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	s.ProcessingStartedAt = parseTimePtr(processingStartedAt)
	s.PaidAt = parseTimePtr(paidAt)
	s.LastProviderSyncAt = parseTimePtr(lastProviderSyncAt)

	return s, nil
}
