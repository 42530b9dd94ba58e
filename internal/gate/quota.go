package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"api_gateway/internal/models"
)

// UsageReader returns the recorded calls of a credential in a period.
type UsageReader interface {
	CurrentUsage(ctx context.Context, credentialID uuid.UUID, period models.UsagePeriod) (int64, error)
}

// QuotaGate compares recorded usage with the tier limit. It only reads;
// the increment happens after admission, so concurrent requests at the
// boundary may overshoot the limit by the number in flight.
type QuotaGate struct {
	usage UsageReader
	now   func() time.Time
}

// NewQuotaGate creates the gate
func NewQuotaGate(usage UsageReader) *QuotaGate {
	return &QuotaGate{usage: usage, now: time.Now}
}

// Check returns the current usage, rejecting when it has reached the limit.
func (g *QuotaGate) Check(ctx context.Context, credentialID uuid.UUID, tier *models.Tier) (int64, *Rejection, error) {
	used, err := g.usage.CurrentUsage(ctx, credentialID, models.PeriodOf(g.now()))
	if err != nil {
		return 0, nil, fmt.Errorf("usage lookup: %w", err)
	}

	if !tier.IsUnlimited() && used >= tier.MonthlyCallLimit {
		return used, Reject(ReasonQuotaExceeded,
			fmt.Sprintf("monthly limit of %d calls reached", tier.MonthlyCallLimit)), nil
	}
	return used, nil, nil
}

// SetClock replaces the time source
func (g *QuotaGate) SetClock(now func() time.Time) {
	g.now = now
}
