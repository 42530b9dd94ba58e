package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord is the monthly call counter of one credential.
// Aggregates are running sums so statistics never need raw call rows.
type UsageRecord struct {
	CredentialID        uuid.UUID  `db:"credential_id" json:"credential_id"`
	OwnerID             uuid.UUID  `db:"owner_id" json:"owner_id"`
	Year                int        `db:"year" json:"year"`
	Month               int        `db:"month" json:"month"`
	TotalRequests       int64      `db:"total_requests" json:"total_requests"`
	SuccessfulRequests  int64      `db:"successful_requests" json:"successful_requests"`
	FailedRequests      int64      `db:"failed_requests" json:"failed_requests"`
	TotalResponseTimeMs int64      `db:"total_response_time_ms" json:"total_response_time_ms"`
	MinResponseTimeMs   *int64     `db:"min_response_time_ms" json:"min_response_time_ms,omitempty"`
	MaxResponseTimeMs   *int64     `db:"max_response_time_ms" json:"max_response_time_ms,omitempty"`
	LastRequestAt       *time.Time `db:"last_request_at" json:"last_request_at,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// Period returns the billing period of the record.
func (r *UsageRecord) Period() UsagePeriod {
	return UsagePeriod{Year: r.Year, Month: r.Month}
}

// AverageResponseTimeMs returns the mean response time, 0 when no calls were made.
func (r *UsageRecord) AverageResponseTimeMs() float64 {
	if r.TotalRequests == 0 {
		return 0
	}
	return float64(r.TotalResponseTimeMs) / float64(r.TotalRequests)
}

// SuccessRatio returns successful/total, 0 when no calls were made.
func (r *UsageRecord) SuccessRatio() float64 {
	if r.TotalRequests == 0 {
		return 0
	}
	return float64(r.SuccessfulRequests) / float64(r.TotalRequests)
}

// UsageStats is the reporting view of a UsageRecord.
type UsageStats struct {
	CredentialID          uuid.UUID `json:"credential_id"`
	Period                string    `json:"period"`
	TotalRequests         int64     `json:"total_requests"`
	SuccessfulRequests    int64     `json:"successful_requests"`
	FailedRequests        int64     `json:"failed_requests"`
	SuccessRatio          float64   `json:"success_ratio"`
	AverageResponseTimeMs float64   `json:"avg_response_time_ms"`
	MinResponseTimeMs     int64     `json:"min_response_time_ms"`
	MaxResponseTimeMs     int64     `json:"max_response_time_ms"`
	QuotaLimit            int64     `json:"quota_limit,omitempty"`
}

// Stats builds the reporting view.
func (r *UsageRecord) Stats() UsageStats {
	stats := UsageStats{
		CredentialID:          r.CredentialID,
		Period:                r.Period().String(),
		TotalRequests:         r.TotalRequests,
		SuccessfulRequests:    r.SuccessfulRequests,
		FailedRequests:        r.FailedRequests,
		SuccessRatio:          r.SuccessRatio(),
		AverageResponseTimeMs: r.AverageResponseTimeMs(),
	}
	if r.MinResponseTimeMs != nil {
		stats.MinResponseTimeMs = *r.MinResponseTimeMs
	}
	if r.MaxResponseTimeMs != nil {
		stats.MaxResponseTimeMs = *r.MaxResponseTimeMs
	}
	return stats
}
