package metering

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"api_gateway/internal/events"
	"api_gateway/internal/models"
	"api_gateway/internal/storage"
	"api_gateway/internal/utils"
)

// Call is one completed, admitted call.
type Call struct {
	CredentialID   uuid.UUID
	OwnerID        uuid.UUID
	CallID         string // server-assigned; repeated for the same credential counts once
	ResponseTimeMs int64
	Success        bool
	At             time.Time
	Limit          int64 // tier limit at admission, used for threshold events
}

// Service records calls and emits quota lifecycle events.
type Service struct {
	counter        Counter
	deduper        Deduper
	emitter        events.Emitter
	warningPercent int
	logger         *utils.Logger
}

// NewService creates the service. deduper and emitter may be nil.
func NewService(counter Counter, deduper Deduper, emitter events.Emitter, warningPercent int) *Service {
	if emitter == nil {
		emitter = events.NewNoopEmitter()
	}
	return &Service{
		counter:        counter,
		deduper:        deduper,
		emitter:        emitter,
		warningPercent: warningPercent,
		logger:         utils.NewLogger("metering"),
	}
}

// CurrentUsage returns the calls recorded for the period
func (s *Service) CurrentUsage(ctx context.Context, credentialID uuid.UUID, period models.UsagePeriod) (int64, error) {
	return s.counter.CurrentUsage(ctx, credentialID, period)
}

// Stats returns the usage record of the period
func (s *Service) Stats(ctx context.Context, credentialID uuid.UUID, period models.UsagePeriod) (*models.UsageRecord, error) {
	return s.counter.Stats(ctx, credentialID, period)
}

// RecordCall adds the call to the credential's counter for the period of
// call.At and returns the new total. A call id already recorded for the same
// credential returns the current total without counting. Call ids must come
// from the gateway, never from the client.
func (s *Service) RecordCall(ctx context.Context, call Call) (int64, error) {
	if call.At.IsZero() {
		call.At = time.Now()
	}
	period := models.PeriodOf(call.At)

	var dedupeID string
	if call.CallID != "" && s.deduper != nil {
		dedupeID = call.CredentialID.String() + ":" + call.CallID
		first, err := s.deduper.FirstSeen(ctx, dedupeID)
		if err != nil {
			// Counting twice is preferable to not counting.
			s.logger.Warn("Call de-duplication unavailable", "call_id", call.CallID, "error", err)
			dedupeID = ""
		} else if !first {
			s.logger.Debug("Duplicate call, not counted", "credential_id", call.CredentialID, "call_id", call.CallID)
			return s.counter.CurrentUsage(ctx, call.CredentialID, period)
		}
	}

	total, err := s.counter.Increment(ctx, storage.UsageIncrement{
		CredentialID:   call.CredentialID,
		OwnerID:        call.OwnerID,
		Period:         period,
		ResponseTimeMs: call.ResponseTimeMs,
		Success:        call.Success,
		At:             call.At,
	})
	if err != nil {
		if dedupeID != "" {
			if ferr := s.deduper.Forget(ctx, dedupeID); ferr != nil {
				s.logger.Warn("Failed to release call id", "call_id", call.CallID, "error", ferr)
			}
		}
		return 0, fmt.Errorf("failed to record call: %w", err)
	}

	s.emitThresholds(ctx, call, period, total)
	return total, nil
}

// WarningThreshold returns the total at which the warning event fires,
// 0 when there is none.
func WarningThreshold(limit int64, percent int) int64 {
	if limit <= 0 || percent <= 0 || percent >= 100 {
		return 0
	}
	// ceil(limit * percent / 100)
	threshold := (limit*int64(percent) + 99) / 100
	if threshold >= limit {
		return 0
	}
	return threshold
}

// emitThresholds fires on exact equality with the atomically returned
// total, so each event fires once per credential and period.
func (s *Service) emitThresholds(ctx context.Context, call Call, period models.UsagePeriod, total int64) {
	if call.Limit <= 0 || call.Limit >= models.UnlimitedCallLimit {
		return
	}

	var eventType events.Type
	switch total {
	case call.Limit:
		eventType = events.QuotaExhausted
	case WarningThreshold(call.Limit, s.warningPercent):
		eventType = events.QuotaWarning
	default:
		return
	}

	ev := events.NewEvent(eventType, call.OwnerID, call.CredentialID, period.String(), total, call.Limit)
	if err := s.emitter.Emit(ctx, ev); err != nil {
		s.logger.Error("Failed to emit lifecycle event", "type", eventType, "credential_id", call.CredentialID, "error", err)
		return
	}
	s.logger.Info("Quota threshold reached", "type", eventType, "credential_id", call.CredentialID, "used", total, "limit", call.Limit)
}
