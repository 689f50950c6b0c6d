// Package fees computes the platform commission withheld per session.
package fees

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Compute derives the platform fee and merchant net amount from the
// session amount and the merchant's commission percent.
//
// The fee is rounded half-up to 2 decimal places. The net is the exact
// remainder (amount − fee), never rounded independently, so that
// fee + net == amount holds without drift.
//
// Inputs are assumed pre-validated: amount > 0 and percent in [0, 100].
func Compute(amount, commissionPercent decimal.Decimal) (platformFee, merchantNet decimal.Decimal) {
	platformFee = amount.Mul(commissionPercent).Div(hundred).Round(2)
	merchantNet = amount.Sub(platformFee)
	return platformFee, merchantNet
}
