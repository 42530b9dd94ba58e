package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"api_gateway/internal/pipeline"
)

// Header names understood by the gateway.
const (
	HeaderAPIKey     = "X-API-Key"
	HeaderAPISecret  = "X-API-Secret"
	HeaderQuotaLimit = "X-Quota-Limit"
	HeaderQuotaUsed  = "X-Quota-Used"
)

// Context keys for values set by the middleware
const (
	OutcomeKey = "validationOutcome"
	OwnerIDKey = "ownerID"
)

// Validator runs the admission pipeline.
type Validator interface {
	Validate(ctx context.Context, req pipeline.Request) *pipeline.Outcome
	ValidateOwner(ctx context.Context, ownerID uuid.UUID, req pipeline.Request) *pipeline.Outcome
}

// OwnerResolver turns a session token into the owner it was issued for.
type OwnerResolver interface {
	OwnerID(token string) (uuid.UUID, error)
}

// ExtractCredentials reads the public key and secret from X-API-Key and
// X-API-Secret, or from "Authorization: Bearer <publicKey>:<secret>".
func ExtractCredentials(r *http.Request) (publicKey, secret string, ok bool) {
	publicKey = r.Header.Get(HeaderAPIKey)
	secret = r.Header.Get(HeaderAPISecret)
	if publicKey != "" || secret != "" {
		return publicKey, secret, true
	}

	token := bearerToken(r)
	if token == "" {
		return "", "", false
	}
	publicKey, secret, found := strings.Cut(token, ":")
	if !found {
		return "", "", false
	}
	return publicKey, secret, true
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}

// CredentialAuth admits a request through the validation pipeline. Requests
// carrying credentials go through every gate; a bearer session token (when
// sessions is non-nil) goes through the account and subscription gates only.
// Rejections abort with the outcome's status. Credential headers are removed
// before the request continues.
func CredentialAuth(v Validator, sessions OwnerResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := pipeline.Request{
			RequestID: GetRequestID(c),
			Endpoint:  c.Request.URL.Path,
			Method:    c.Request.Method,
			SourceIP:  c.ClientIP(),
		}

		var outcome *pipeline.Outcome
		publicKey, secret, ok := ExtractCredentials(c.Request)
		token := bearerToken(c.Request)
		switch {
		case ok || token == "" || sessions == nil:
			req.PublicKey, req.Secret = publicKey, secret
			outcome = v.Validate(c.Request.Context(), req)
		default:
			ownerID, err := sessions.OwnerID(token)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session token"})
				return
			}
			outcome = v.ValidateOwner(c.Request.Context(), ownerID, req)
		}

		stripCredentials(c.Request)

		if !outcome.Admitted {
			RejectWithOutcome(c, outcome)
			return
		}

		c.Set(OutcomeKey, outcome)
		if outcome.OwnerID != nil {
			c.Set(OwnerIDKey, *outcome.OwnerID)
		}
		c.Next()
	}
}

func stripCredentials(r *http.Request) {
	r.Header.Del(HeaderAPIKey)
	r.Header.Del(HeaderAPISecret)
	r.Header.Del("Authorization")
}

// RejectWithOutcome aborts the request with the outcome's status and reason.
func RejectWithOutcome(c *gin.Context, outcome *pipeline.Outcome) {
	if outcome.QuotaLimit > 0 {
		c.Header(HeaderQuotaLimit, strconv.FormatInt(outcome.QuotaLimit, 10))
		c.Header(HeaderQuotaUsed, strconv.FormatInt(outcome.CurrentUsage, 10))
	}
	if outcome.Retryable {
		c.Header("Retry-After", "1")
	}
	c.AbortWithStatusJSON(outcome.HTTPStatus, gin.H{
		"error":     outcome.Message,
		"reason":    outcome.Reason,
		"category":  outcome.Category,
		"retryable": outcome.Retryable,
	})
}

// GetOutcome retrieves the admitted outcome from the context
func GetOutcome(c *gin.Context) (*pipeline.Outcome, bool) {
	v, ok := c.Get(OutcomeKey)
	if !ok {
		return nil, false
	}
	outcome, ok := v.(*pipeline.Outcome)
	return outcome, ok
}
