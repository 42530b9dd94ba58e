package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"api_gateway/internal/auth"
	"api_gateway/internal/models"
	"api_gateway/internal/storage"
)

// CreateKeyRequest is the body of POST /v1/keys
type CreateKeyRequest struct {
	Name      string  `json:"name"`
	ExpiresAt *string `json:"expires_at,omitempty"` // RFC3339
}

// KeyCreatedResponse is the only response that ever carries the secret.
type KeyCreatedResponse struct {
	*models.Credential
	Secret string `json:"secret"`
}

// handleCreateKey handles POST /v1/keys
func (d *Dependencies) handleCreateKey(c *gin.Context) {
	var req CreateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name is required"})
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != nil && *req.ExpiresAt != "" {
		parsed, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid expires_at format (use RFC3339)"})
			return
		}
		parsed = parsed.UTC()
		expiresAt = &parsed
	}

	cred, secret, err := d.Issuer.IssueCredential(c.Request.Context(), ownerFrom(c), req.Name, expiresAt)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidExpiry):
			c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at must be in the future"})
		case errors.Is(err, storage.ErrAccountNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		default:
			d.internalError(c, "Failed to issue credential", err)
		}
		return
	}

	d.logger.Info("Credential issued", "credential_id", cred.ID, "owner_id", cred.OwnerID, "public_key", cred.PublicKey)
	c.JSON(http.StatusCreated, KeyCreatedResponse{Credential: cred, Secret: secret})
}

// handleListKeys handles GET /v1/keys
func (d *Dependencies) handleListKeys(c *gin.Context) {
	creds, err := d.Credentials.ListByOwner(c.Request.Context(), ownerFrom(c))
	if err != nil {
		d.internalError(c, "Failed to list credentials", err)
		return
	}
	if creds == nil {
		creds = []*models.Credential{}
	}
	c.JSON(http.StatusOK, gin.H{"keys": creds})
}

// handleRevokeKey handles DELETE /v1/keys/:id. Revocation cannot be undone.
func (d *Dependencies) handleRevokeKey(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	cred, err := d.Credentials.Revoke(c.Request.Context(), ownerFrom(c), id)
	if err != nil {
		if errors.Is(err, storage.ErrCredentialNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Credential not found"})
			return
		}
		d.internalError(c, "Failed to revoke credential", err)
		return
	}

	d.logger.Info("Credential revoked", "credential_id", cred.ID, "owner_id", cred.OwnerID)
	c.JSON(http.StatusOK, cred)
}
