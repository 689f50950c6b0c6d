package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Merchant is a tenant of the platform: a business that creates payment
// sessions and receives the settled amount minus the platform commission.
type Merchant struct {
	ID                string
	Name              string
	BusinessCode      string
	CommissionPercent decimal.Decimal
	Currency          string
	APIKey            string
	DefaultProvider   string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewMerchant creates a merchant with timestamps set.
func NewMerchant(id, name, businessCode string, commission decimal.Decimal, currency, apiKey, defaultProvider string) Merchant {
	now := time.Now().UTC()
	return Merchant{
		ID:                id,
		Name:              name,
		BusinessCode:      businessCode,
		CommissionPercent: commission,
		Currency:          currency,
		APIKey:            apiKey,
		DefaultProvider:   defaultProvider,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}
