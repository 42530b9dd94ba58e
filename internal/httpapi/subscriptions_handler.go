package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"api_gateway/internal/models"
	"api_gateway/internal/storage"
)

type subscriptionRequest struct {
	TierID string `json:"tier_id" binding:"required"`
}

type cancelRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// CurrentSubscriptionResponse describes the owner's latest subscription.
type CurrentSubscriptionResponse struct {
	Subscription *models.Subscription `json:"subscription"`
	Effective    bool                 `json:"effective"`
	Tier         *models.Tier         `json:"tier,omitempty"`
}

// handleRequestSubscription handles POST /v1/subscriptions. The subscription
// stays pending until approved.
func (d *Dependencies) handleRequestSubscription(c *gin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tier_id is required"})
		return
	}
	tierID, err := uuid.Parse(req.TierID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tier_id"})
		return
	}

	sub := &models.Subscription{OwnerID: ownerFrom(c), TierID: tierID}
	if err := d.Subscriptions.Request(c.Request.Context(), sub); err != nil {
		switch {
		case errors.Is(err, storage.ErrActiveSubscriptionExists):
			c.JSON(http.StatusConflict, gin.H{"error": "An active subscription already exists"})
		case errors.Is(err, storage.ErrTierNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Tier not found"})
		case errors.Is(err, storage.ErrAccountNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		default:
			d.internalError(c, "Failed to request subscription", err)
		}
		return
	}

	c.JSON(http.StatusCreated, sub)
}

// handleCurrentSubscription handles GET /v1/subscriptions/current
func (d *Dependencies) handleCurrentSubscription(c *gin.Context) {
	ctx := c.Request.Context()
	owner := ownerFrom(c)

	sub, err := d.Subscriptions.GetLatestByOwner(ctx, owner)
	if err != nil {
		if errors.Is(err, storage.ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No subscription"})
			return
		}
		d.internalError(c, "Failed to load subscription", err)
		return
	}

	resp := CurrentSubscriptionResponse{Subscription: sub}
	if d.Entitlements != nil {
		ent, rej, err := d.Entitlements.Resolve(ctx, owner)
		if err == nil && rej == nil && ent.Subscription.ID == sub.ID {
			resp.Effective = true
			resp.Tier = ent.Tier
		}
	} else {
		resp.Effective = sub.IsEffectivelyActiveAt(d.Now())
	}
	c.JSON(http.StatusOK, resp)
}

// handleCancelSubscription handles DELETE /v1/subscriptions/:id
func (d *Dependencies) handleCancelSubscription(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req cancelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
			return
		}
	}

	if err := d.Subscriptions.Cancel(c.Request.Context(), ownerFrom(c), id, req.Reason); err != nil {
		if errors.Is(err, storage.ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Subscription not found"})
			return
		}
		d.internalError(c, "Failed to cancel subscription", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleListTiers handles GET /v1/tiers. The catalogue is public.
func (d *Dependencies) handleListTiers(c *gin.Context) {
	tiers, err := d.Tiers.List(c.Request.Context())
	if err != nil {
		d.internalError(c, "Failed to list tiers", err)
		return
	}
	if tiers == nil {
		tiers = []*models.Tier{}
	}
	c.JSON(http.StatusOK, gin.H{"tiers": tiers})
}
