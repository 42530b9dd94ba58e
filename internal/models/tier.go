package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// UnlimitedCallLimit is the sentinel monthly limit of "unlimited" tiers.
const UnlimitedCallLimit int64 = 1 << 53

// Tier is a named quota and feature bundle.
type Tier struct {
	ID               uuid.UUID      `db:"id" json:"id"`
	Name             string         `db:"name" json:"name"`
	MonthlyCallLimit int64          `db:"monthly_call_limit" json:"monthly_call_limit"`
	Price            float64        `db:"price" json:"price"`
	Features         pq.StringArray `db:"features" json:"features"` // display only, ordered
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
}

// IsUnlimited reports whether the tier uses the unlimited sentinel.
func (t *Tier) IsUnlimited() bool {
	return t.MonthlyCallLimit >= UnlimitedCallLimit
}
