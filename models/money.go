// Package models defines the core domain types for the checkout backend.
package models

import "github.com/shopspring/decimal"

// Paise is an amount of Indian rupees expressed in the smallest currency unit.
//
// Every monetary field in the system uses Paise so that totals are computed
// with integer arithmetic. The payment gateway also expects paise, so amounts
// are passed through without conversion.
type Paise int64

// Rupees converts a rupee amount with up to two decimals into Paise, rounding
// half away from zero on the third decimal.
func Rupees(r decimal.Decimal) Paise {
	return Paise(r.Shift(2).Round(0).IntPart())
}

// Decimal returns the amount in rupees.
func (p Paise) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -2)
}

// String renders the amount in rupees with two decimals, e.g. "2427.82".
func (p Paise) String() string {
	return p.Decimal().StringFixed(2)
}

// Percent returns pct percent of p rounded half up to the nearest paisa.
func (p Paise) Percent(pct decimal.Decimal) Paise {
	return Paise(decimal.NewFromInt(int64(p)).Mul(pct).Div(decimal.NewFromInt(100)).Round(0).IntPart())
}
