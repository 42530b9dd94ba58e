package pipeline

import (
	"time"

	"github.com/google/uuid"

	"api_gateway/internal/gate"
	"api_gateway/internal/models"
)

// Request is one validation attempt with the request metadata that goes
// into the audit entry.
type Request struct {
	PublicKey string
	Secret    string
	RequestID string
	Endpoint  string
	Method    string
	SourceIP  string
}

// Outcome is the terminal state of the pipeline: admitted, or rejected with
// a stable reason code.
type Outcome struct {
	Admitted     bool            `json:"admitted"`
	Reason       gate.ReasonCode `json:"reason"`
	Message      string          `json:"message,omitempty"`
	HTTPStatus   int             `json:"http_status"`
	Category     gate.Category   `json:"category,omitempty"`
	Retryable    bool            `json:"retryable"`
	OwnerID      *uuid.UUID      `json:"owner_id,omitempty"`
	CredentialID *uuid.UUID      `json:"credential_id,omitempty"`
	QuotaLimit   int64           `json:"quota_limit,omitempty"`
	CurrentUsage int64           `json:"current_usage"`
	Elapsed      time.Duration   `json:"-"`

	Credential *models.Credential `json:"-"`
	Tier       *models.Tier       `json:"-"`
}

func admitted() *Outcome {
	return &Outcome{
		Admitted:   true,
		Reason:     gate.ReasonAdmitted,
		HTTPStatus: gate.ReasonAdmitted.HTTPStatus(),
	}
}

func rejected(rej *gate.Rejection) *Outcome {
	return &Outcome{
		Reason:     rej.Reason,
		Message:    rej.Message,
		HTTPStatus: rej.Reason.HTTPStatus(),
		Category:   rej.Reason.Category(),
		Retryable:  rej.Reason.Retryable(),
	}
}

// unavailable never carries the fault text; that goes to the audit entry.
func unavailable() *Outcome {
	return rejected(gate.Reject(gate.ReasonBackendUnavailable, "validation backend unavailable, retry later"))
}
