package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus is the persisted lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionPending   SubscriptionStatus = "pending"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// IsValid checks if the status is one of the known values
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionPending, SubscriptionActive, SubscriptionExpired, SubscriptionCancelled:
		return true
	}
	return false
}

// Subscription binds an account to a tier.
type Subscription struct {
	ID              uuid.UUID          `db:"id" json:"id"`
	OwnerID         uuid.UUID          `db:"owner_id" json:"owner_id"`
	TierID          uuid.UUID          `db:"tier_id" json:"tier_id"`
	Status          SubscriptionStatus `db:"status" json:"status"`
	StartDate       time.Time          `db:"start_date" json:"start_date"`
	EndDate         *time.Time         `db:"end_date" json:"end_date,omitempty"`
	ApprovalDate    *time.Time         `db:"approval_date" json:"approval_date,omitempty"`
	RejectionReason *string            `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time          `db:"updated_at" json:"updated_at"`
}

// IsEffectivelyActiveAt derives activity from the dates instead of trusting
// a possibly stale status column: the status must be active, the start date
// reached and the end date (if any) not yet passed.
func (s *Subscription) IsEffectivelyActiveAt(now time.Time) bool {
	if s.Status != SubscriptionActive {
		return false
	}
	if now.Before(s.StartDate) {
		return false
	}
	if s.EndDate != nil && !now.Before(*s.EndDate) {
		return false
	}
	return true
}
