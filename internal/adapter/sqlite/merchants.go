package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/payflow/payflow/internal/domain"
)

// MerchantRepository implements domain.MerchantRepository using SQLite.
type MerchantRepository struct {
	db *sql.DB
}

// Compile-time check: MerchantRepository implements domain.MerchantRepository.
var _ domain.MerchantRepository = (*MerchantRepository)(nil)

const merchantColumns = `id, name, business_code, commission_percent, currency,
	api_key, default_provider, created_at, updated_at`

func (r *MerchantRepository) Create(ctx context.Context, m domain.Merchant) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO merchants (`+merchantColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.BusinessCode, m.CommissionPercent.String(), m.Currency,
		m.APIKey, m.DefaultProvider, fmtTime(m.CreatedAt), fmtTime(m.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.BusinessCodeConflictError{Code: m.BusinessCode}
		}
		return fmt.Errorf("inserting merchant: %w", err)
	}
	return nil
}

func (r *MerchantRepository) GetByID(ctx context.Context, id string) (domain.Merchant, error) {
	return r.scanMerchant(r.db.QueryRowContext(ctx,
		`SELECT `+merchantColumns+` FROM merchants WHERE id = ?`, id,
	))
}

func (r *MerchantRepository) GetByAPIKey(ctx context.Context, apiKey string) (domain.Merchant, error) {
	m, err := r.scanMerchant(r.db.QueryRowContext(ctx,
		`SELECT `+merchantColumns+` FROM merchants WHERE api_key = ?`, apiKey,
	))
	if err == domain.ErrMerchantNotFound {
		return domain.Merchant{}, domain.ErrInvalidAPIKey
	}
	return m, err
}

func (r *MerchantRepository) GetByBusinessCode(ctx context.Context, code string) (domain.Merchant, error) {
	return r.scanMerchant(r.db.QueryRowContext(ctx,
		`SELECT `+merchantColumns+` FROM merchants WHERE business_code = ?`, code,
	))
}

func (r *MerchantRepository) List(ctx context.Context) ([]domain.Merchant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+merchantColumns+` FROM merchants ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing merchants: %w", err)
	}
	defer rows.Close()

	var merchants []domain.Merchant
	for rows.Next() {
		var m domain.Merchant
		var commission, createdAt, updatedAt string

		if err := rows.Scan(&m.ID, &m.Name, &m.BusinessCode, &commission, &m.Currency,
			&m.APIKey, &m.DefaultProvider, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning merchant row: %w", err)
		}

		m.CommissionPercent, _ = decimal.NewFromString(commission)
		m.CreatedAt = parseTime(createdAt)
		m.UpdatedAt = parseTime(updatedAt)
		merchants = append(merchants, m)
	}

	return merchants, rows.Err()
}

func (r *MerchantRepository) scanMerchant(row *sql.Row) (domain.Merchant, error) {
	var m domain.Merchant
	var commission, createdAt, updatedAt string

	err := row.Scan(&m.ID, &m.Name, &m.BusinessCode, &commission, &m.Currency,
		&m.APIKey, &m.DefaultProvider, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Merchant{}, domain.ErrMerchantNotFound
		}
		return domain.Merchant{}, fmt.Errorf("scanning merchant: %w", err)
	}

	m.CommissionPercent, _ = decimal.NewFromString(commission)
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)

	return m, nil
}
