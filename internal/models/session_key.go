// Package models provides data models for the AlpacaLotto backend.
package models

import (
	"time"

	"github.com/alpaca-lotto/internal/types"
)

// SessionKey represents a session key row in Postgres
type SessionKey struct {
	ID        string     `json:"id" db:"id"`
	Owner     string     `json:"owner" db:"owner_address"`
	Duration  int64      `json:"duration" db:"duration_seconds"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	ExpiresAt time.Time  `json:"expiresAt" db:"expires_at"`
	Revoked   bool       `json:"revoked" db:"revoked"`
	RevokedAt *time.Time `json:"revokedAt,omitempty" db:"revoked_at"`
}

// ToType converts the row to the service-level representation
func (k *SessionKey) ToType() *types.SessionKey {
	return &types.SessionKey{
		ID:        k.ID,
		Owner:     k.Owner,
		Duration:  k.Duration,
		CreatedAt: k.CreatedAt,
		ExpiresAt: k.ExpiresAt,
		Revoked:   k.Revoked,
		RevokedAt: k.RevokedAt,
	}
}

// FromSessionKey creates a row from the service-level representation
func FromSessionKey(key *types.SessionKey) *SessionKey {
	return &SessionKey{
		ID:        key.ID,
		Owner:     key.Owner,
		Duration:  key.Duration,
		CreatedAt: key.CreatedAt,
		ExpiresAt: key.ExpiresAt,
		Revoked:   key.Revoked,
		RevokedAt: key.RevokedAt,
	}
}
