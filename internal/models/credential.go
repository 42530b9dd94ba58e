package models

import (
	"time"

	"github.com/google/uuid"
)

// PublicKeyPrefix marks every issued public key.
const PublicKeyPrefix = "sk_"

// Credential is an API key record. The secret itself is never stored.
type Credential struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	OwnerID    uuid.UUID  `db:"owner_id" json:"owner_id"`
	Name       string     `db:"name" json:"name"`
	PublicKey  string     `db:"public_key" json:"public_key"`
	SecretHash string     `db:"secret_hash" json:"-"`
	Active     bool       `db:"active" json:"active"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt  *time.Time `db:"expires_at" json:"expires_at,omitempty"`  // NULL = no expiry
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
}

// IsExpiredAt reports whether the credential's expiry lies before now.
func (c *Credential) IsExpiredAt(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return now.After(*c.ExpiresAt)
}

// IsUsableAt reports whether the credential is active and not expired.
func (c *Credential) IsUsableAt(now time.Time) bool {
	return c.Active && !c.IsExpiredAt(now)
}
