package models

import (
	"time"

	"github.com/google/uuid"
)

// Account owns credentials and a subscription. Active and Blocked are
// independent; either one disables every credential of the account.
type Account struct {
	ID            uuid.UUID `db:"id" json:"id"`
	Email         string    `db:"email" json:"email"`
	Active        bool      `db:"active" json:"active"`
	Blocked       bool      `db:"blocked" json:"blocked"`
	BlockedReason *string   `db:"blocked_reason" json:"blocked_reason,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
