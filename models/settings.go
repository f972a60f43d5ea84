package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Settings holds the global pricing policy. There is exactly one Settings
// record; the store keeps it under a fixed key.
type Settings struct {
	// GSTPercentage is applied to the order subtotal, e.g. 18 or 12.5.
	GSTPercentage decimal.Decimal `json:"gstPercentage"`
	GSTEnabled    bool            `json:"gstEnabled"`

	ShippingFee     Paise `json:"shippingFee"`
	ShippingEnabled bool  `json:"shippingEnabled"`

	// FreeShippingAbove waives the shipping fee when the subtotal is at
	// least this amount. Zero disables the waiver.
	FreeShippingAbove Paise `json:"freeShippingAbove"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// DefaultSettings is used until an administrator saves settings.
func DefaultSettings() Settings {
	return Settings{
		GSTPercentage:     decimal.NewFromInt(18),
		GSTEnabled:        true,
		ShippingFee:       6900,
		ShippingEnabled:   true,
		FreeShippingAbove: 99900,
	}
}

// TaxOn returns the GST due on subtotal.
func (s Settings) TaxOn(subtotal Paise) Paise {
	if !s.GSTEnabled {
		return 0
	}
	return subtotal.Percent(s.GSTPercentage)
}

// ShippingFor returns the shipping fee charged for subtotal.
func (s Settings) ShippingFor(subtotal Paise) Paise {
	if !s.ShippingEnabled {
		return 0
	}
	if s.FreeShippingAbove > 0 && subtotal >= s.FreeShippingAbove {
		return 0
	}
	return s.ShippingFee
}
