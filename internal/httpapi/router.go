package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"api_gateway/internal/auth"
	"api_gateway/internal/gate"
	"api_gateway/internal/metering"
	"api_gateway/internal/metrics"
	"api_gateway/internal/middleware"
	"api_gateway/internal/models"
	"api_gateway/internal/utils"
)

// UsageRecorder records admitted calls and reports usage.
type UsageRecorder interface {
	RecordCall(ctx context.Context, call metering.Call) (int64, error)
	Stats(ctx context.Context, credentialID uuid.UUID, period models.UsagePeriod) (*models.UsageRecord, error)
}

// CredentialStore is the owner-scoped credential repository.
type CredentialStore interface {
	GetByID(ctx context.Context, ownerID, id uuid.UUID) (*models.Credential, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Credential, error)
	Revoke(ctx context.Context, ownerID, id uuid.UUID) (*models.Credential, error)
}

// CredentialIssuer creates credentials and hands out the secret once.
type CredentialIssuer interface {
	IssueCredential(ctx context.Context, ownerID uuid.UUID, name string, expiresAt *time.Time) (*models.Credential, string, error)
}

// SubscriptionStore is the owner-facing subscription repository.
type SubscriptionStore interface {
	Request(ctx context.Context, sub *models.Subscription) error
	GetLatestByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Subscription, error)
	Cancel(ctx context.Context, ownerID, id uuid.UUID, reason *string) error
}

// TierCatalog lists the tiers an owner can subscribe to.
type TierCatalog interface {
	List(ctx context.Context) ([]*models.Tier, error)
}

// EntitlementResolver finds the owner's effective subscription and tier.
type EntitlementResolver interface {
	Resolve(ctx context.Context, ownerID uuid.UUID) (*gate.Entitlement, *gate.Rejection, error)
}

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Validator     middleware.Validator
	Sessions      middleware.OwnerResolver
	Usage         UsageRecorder
	Credentials   CredentialStore
	Issuer        CredentialIssuer
	Subscriptions SubscriptionStore
	Tiers         TierCatalog
	Entitlements  EntitlementResolver
	Metrics       *metrics.Metrics
	Health        func(ctx context.Context) error

	// Upstream receives admitted /proxy calls. Nil disables the route.
	Upstream  *url.URL
	Transport http.RoundTripper

	Now func() time.Time

	logger *utils.Logger
}

var _ middleware.OwnerResolver = (*auth.SessionTokens)(nil)

// NewRouter creates the gin engine with every route registered.
func NewRouter(deps *Dependencies) *gin.Engine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	deps.logger = utils.NewLogger("httpapi")

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Metrics(deps.Metrics))
	r.Use(middleware.AccessLog(utils.NewLogger("http")))

	r.GET("/health", deps.handleHealth)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	if deps.Upstream != nil {
		proxy := newProxyHandler(deps.Upstream, deps.Transport, deps.Usage, deps.Metrics)
		r.Any("/proxy/*path", middleware.CredentialAuth(deps.Validator, deps.Sessions), proxy.handle)
	}

	v1 := r.Group("/v1")
	v1.POST("/validate", deps.handleValidate)
	if deps.Tiers != nil {
		v1.GET("/tiers", deps.handleListTiers)
	}

	// Owner-facing management routes need the session token service.
	if deps.Sessions != nil {
		session := v1.Group("")
		session.Use(middleware.SessionAuth(deps.Sessions))
		session.POST("/keys", deps.handleCreateKey)
		session.GET("/keys", deps.handleListKeys)
		session.DELETE("/keys/:id", deps.handleRevokeKey)
		session.POST("/subscriptions", deps.handleRequestSubscription)
		session.GET("/subscriptions/current", deps.handleCurrentSubscription)
		session.DELETE("/subscriptions/:id", deps.handleCancelSubscription)
		session.GET("/usage", deps.handleUsage)
	}

	return r
}

func (d *Dependencies) handleHealth(c *gin.Context) {
	if d.Health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := d.Health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ownerFrom returns the session owner; SessionAuth guarantees it is set.
func ownerFrom(c *gin.Context) uuid.UUID {
	id, _ := middleware.GetOwnerID(c)
	return id
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func (d *Dependencies) internalError(c *gin.Context, msg string, err error) {
	d.logger.Error(msg, "error", err, "request_id", middleware.GetRequestID(c))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
