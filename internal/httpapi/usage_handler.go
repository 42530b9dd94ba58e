package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"api_gateway/internal/models"
	"api_gateway/internal/storage"
)

// handleUsage handles GET /v1/usage?credential_id=<uuid>&period=YYYY-MM.
// The period defaults to the current month.
func (d *Dependencies) handleUsage(c *gin.Context) {
	ctx := c.Request.Context()
	owner := ownerFrom(c)

	credentialID, err := uuid.Parse(c.Query("credential_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "credential_id is required"})
		return
	}

	period := models.PeriodOf(d.Now())
	if raw := c.Query("period"); raw != "" {
		period, err = parsePeriod(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid period (use YYYY-MM)"})
			return
		}
	}

	// Only the owner may read a credential's usage.
	if _, err := d.Credentials.GetByID(ctx, owner, credentialID); err != nil {
		if errors.Is(err, storage.ErrCredentialNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Credential not found"})
			return
		}
		d.internalError(c, "Failed to load credential", err)
		return
	}

	record, err := d.Usage.Stats(ctx, credentialID, period)
	if err != nil {
		if !errors.Is(err, storage.ErrUsageRecordNotFound) {
			d.internalError(c, "Failed to load usage", err)
			return
		}
		record = &models.UsageRecord{CredentialID: credentialID, OwnerID: owner, Year: period.Year, Month: period.Month}
	}

	stats := record.Stats()
	if d.Entitlements != nil {
		if ent, rej, err := d.Entitlements.Resolve(ctx, owner); err == nil && rej == nil && !ent.Tier.IsUnlimited() {
			stats.QuotaLimit = ent.Tier.MonthlyCallLimit
		}
	}
	c.JSON(http.StatusOK, stats)
}

// parsePeriod accepts exactly YYYY-MM.
func parsePeriod(raw string) (models.UsagePeriod, error) {
	t, err := time.Parse("2006-01", raw)
	if err != nil {
		return models.UsagePeriod{}, err
	}
	return models.PeriodOf(t), nil
}
