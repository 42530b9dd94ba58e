package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"api_gateway/internal/models"
	"api_gateway/internal/utils"
)

// SubscriptionStore lists an owner's subscriptions whose status is active,
// most recently created first.
type SubscriptionStore interface {
	ListActiveByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Subscription, error)
}

// TierStore resolves tiers by id.
type TierStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tier, error)
}

// Entitlement is the subscription in force and the tier it grants.
type Entitlement struct {
	Subscription *models.Subscription
	Tier         *models.Tier
}

// SubscriptionGate resolves the owner's quota.
type SubscriptionGate struct {
	subscriptions SubscriptionStore
	tiers         TierStore
	logger        *utils.Logger
	now           func() time.Time
}

// NewSubscriptionGate creates the gate
func NewSubscriptionGate(subscriptions SubscriptionStore, tiers TierStore) *SubscriptionGate {
	return &SubscriptionGate{
		subscriptions: subscriptions,
		tiers:         tiers,
		logger:        utils.NewLogger("subscription-gate"),
		now:           time.Now,
	}
}

// Resolve picks the most recently created subscription that is active by
// its dates and returns it with its tier.
func (g *SubscriptionGate) Resolve(ctx context.Context, ownerID uuid.UUID) (*Entitlement, *Rejection, error) {
	subs, err := g.subscriptions.ListActiveByOwner(ctx, ownerID)
	if err != nil {
		return nil, nil, fmt.Errorf("subscription lookup: %w", err)
	}

	now := g.now()
	var effective []*models.Subscription
	for _, s := range subs {
		if s.IsEffectivelyActiveAt(now) {
			effective = append(effective, s)
		}
	}

	if len(effective) == 0 {
		return nil, Reject(ReasonNoActiveSubscription, "no active subscription"), nil
	}
	if len(effective) > 1 {
		g.logger.Warn("Owner has more than one active subscription, using most recent",
			"owner_id", ownerID, "count", len(effective), "subscription_id", effective[0].ID)
	}

	sub := effective[0]
	tier, err := g.tiers.GetByID(ctx, sub.TierID)
	if err != nil {
		return nil, nil, fmt.Errorf("tier lookup: %w", err)
	}

	return &Entitlement{Subscription: sub, Tier: tier}, nil, nil
}

// SetClock replaces the time source
func (g *SubscriptionGate) SetClock(now func() time.Time) {
	g.now = now
}
