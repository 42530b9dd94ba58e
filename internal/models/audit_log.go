package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditLogEntry records one validation attempt. Entries are append-only and
// only removed by the retention sweep.
type AuditLogEntry struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	CredentialID   *uuid.UUID `db:"credential_id" json:"credential_id"` // NULL when the key did not resolve
	OwnerID        *uuid.UUID `db:"owner_id" json:"owner_id"`
	RequestID      string     `db:"request_id" json:"request_id"`
	Endpoint       string     `db:"endpoint" json:"endpoint"`
	Method         string     `db:"method" json:"method"`
	StatusCode     int        `db:"status_code" json:"status_code"`
	ReasonCode     *string    `db:"reason_code" json:"reason_code,omitempty"`
	ResponseTimeMs int64      `db:"response_time_ms" json:"response_time_ms"`
	SourceIP       string     `db:"source_ip" json:"source_ip"`
	ErrorMessage   *string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}
