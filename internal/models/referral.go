package models

import (
	"time"

	"github.com/alpaca-lotto/internal/types"
)

// ReferralUser represents a referral program participant row in Postgres
type ReferralUser struct {
	Address          string    `json:"address" db:"address"`
	ReferralCode     string    `json:"referralCode" db:"referral_code"`
	ReferredBy       *string   `json:"referredBy,omitempty" db:"referred_by"`
	Points           int64     `json:"points" db:"points"`
	TicketsPurchased int64     `json:"ticketsPurchased" db:"tickets_purchased"`
	CreatedAt        time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time `json:"updatedAt" db:"updated_at"`
}

// ToType converts the row to the service-level representation
func (u *ReferralUser) ToType() *types.ReferralUser {
	return &types.ReferralUser{
		Address:          u.Address,
		ReferralCode:     u.ReferralCode,
		ReferredBy:       u.ReferredBy,
		Points:           u.Points,
		TicketsPurchased: u.TicketsPurchased,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}
