package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"api_gateway/internal/config"
	"api_gateway/internal/gate"
	"api_gateway/internal/metrics"
	"api_gateway/internal/models"
	"api_gateway/internal/utils"
)

// ErrGateTimeout is reported when a gate exceeds its timeout.
var ErrGateTimeout = errors.New("gate timed out")

// Authenticator is the credential gate.
type Authenticator interface {
	Authenticate(ctx context.Context, publicKey, secret string) (*models.Credential, *gate.Rejection, error)
}

// AccountChecker is the account state gate.
type AccountChecker interface {
	Check(ctx context.Context, ownerID uuid.UUID) (*models.Account, *gate.Rejection, error)
}

// EntitlementResolver is the subscription gate.
type EntitlementResolver interface {
	Resolve(ctx context.Context, ownerID uuid.UUID) (*gate.Entitlement, *gate.Rejection, error)
}

// QuotaChecker is the quota gate.
type QuotaChecker interface {
	Check(ctx context.Context, credentialID uuid.UUID, tier *models.Tier) (int64, *gate.Rejection, error)
}

// AuditRecorder receives exactly one entry per outcome. It must not block
// for long and must not drop entries silently.
type AuditRecorder interface {
	Record(ctx context.Context, entry *models.AuditLogEntry)
}

// LastUsedToucher records that a credential was used for an admitted call.
type LastUsedToucher interface {
	Touch(id uuid.UUID, at time.Time) bool
}

// Gates are the four stages, in pipeline order.
type Gates struct {
	Credential   Authenticator
	Account      AccountChecker
	Subscription EntitlementResolver
	Quota        QuotaChecker
}

// Validator runs the gates strictly in order and stops at the first rejection.
type Validator struct {
	gates    Gates
	timeouts config.GateConfig
	audit    AuditRecorder
	lastUsed LastUsedToucher
	metrics  *metrics.Metrics
	logger   *utils.Logger
	now      func() time.Time
}

// NewValidator creates the pipeline. m may be nil.
func NewValidator(gates Gates, timeouts config.GateConfig, audit AuditRecorder, m *metrics.Metrics) *Validator {
	return &Validator{
		gates:    gates,
		timeouts: timeouts,
		audit:    audit,
		metrics:  m,
		logger:   utils.NewLogger("pipeline"),
		now:      time.Now,
	}
}

// TrackLastUsed makes admitted calls update the credential's lastUsedAt.
func (v *Validator) TrackLastUsed(t LastUsedToucher) {
	v.lastUsed = t
}

// SetClock replaces the time source used for elapsed time and audit timestamps
func (v *Validator) SetClock(now func() time.Time) {
	v.now = now
}

// Validate runs key -> account -> subscription -> quota. Gates run on a
// context detached from the caller's cancellation but bounded by their own
// timeout; a caller that went away still gets its audit entry written.
func (v *Validator) Validate(ctx context.Context, req Request) *Outcome {
	start := v.now()
	gctx := context.WithoutCancel(ctx)

	var (
		outcome *Outcome
		fault   error
	)

	cred, rej, err := runGate(gctx, v, "credential", v.timeouts.CredentialTimeout,
		func(c context.Context) (*models.Credential, *gate.Rejection, error) {
			return v.gates.Credential.Authenticate(c, req.PublicKey, req.Secret)
		})
	outcome, fault = v.decide(rej, err)

	var tier *models.Tier
	if outcome == nil {
		outcome, fault = v.decide(v.checkAccount(gctx, cred.OwnerID))
	}
	if outcome == nil {
		var ent *gate.Entitlement
		ent, outcome, fault = v.resolve(gctx, cred.OwnerID)
		if ent != nil {
			tier = ent.Tier
		}
	}
	var used int64
	if outcome == nil {
		used, rej, err = runGate(gctx, v, "quota", v.timeouts.QuotaTimeout,
			func(c context.Context) (int64, *gate.Rejection, error) {
				return v.gates.Quota.Check(c, cred.ID, tier)
			})
		outcome, fault = v.decide(rej, err)
	}
	if outcome == nil {
		outcome = admitted()
		if v.lastUsed != nil {
			v.lastUsed.Touch(cred.ID, v.now())
		}
	}

	// Rejections after the credential gate still identify the caller.
	if cred != nil {
		outcome.Credential = cred
		outcome.CredentialID = utils.UUIDPtr(cred.ID)
		outcome.OwnerID = utils.UUIDPtr(cred.OwnerID)
	}
	if tier != nil {
		outcome.Tier = tier
		outcome.QuotaLimit = tier.MonthlyCallLimit
		outcome.CurrentUsage = used
	}

	v.finish(ctx, req, outcome, fault, start)
	return outcome
}

// ValidateOwner is the session path: the owner id is already trusted, so
// only the account and subscription gates run.
func (v *Validator) ValidateOwner(ctx context.Context, ownerID uuid.UUID, req Request) *Outcome {
	start := v.now()
	gctx := context.WithoutCancel(ctx)

	outcome, fault := v.decide(v.checkAccount(gctx, ownerID))

	var ent *gate.Entitlement
	if outcome == nil {
		ent, outcome, fault = v.resolve(gctx, ownerID)
	}
	if outcome == nil {
		outcome = admitted()
	}

	outcome.OwnerID = utils.UUIDPtr(ownerID)
	if ent != nil {
		outcome.Tier = ent.Tier
		outcome.QuotaLimit = ent.Tier.MonthlyCallLimit
	}

	v.finish(ctx, req, outcome, fault, start)
	return outcome
}

func (v *Validator) checkAccount(ctx context.Context, ownerID uuid.UUID) (*gate.Rejection, error) {
	_, rej, err := runGate(ctx, v, "account", v.timeouts.AccountTimeout,
		func(c context.Context) (*models.Account, *gate.Rejection, error) {
			return v.gates.Account.Check(c, ownerID)
		})
	return rej, err
}

func (v *Validator) resolve(ctx context.Context, ownerID uuid.UUID) (*gate.Entitlement, *Outcome, error) {
	ent, rej, err := runGate(ctx, v, "subscription", v.timeouts.SubscriptionTimeout,
		func(c context.Context) (*gate.Entitlement, *gate.Rejection, error) {
			return v.gates.Subscription.Resolve(c, ownerID)
		})
	outcome, fault := v.decide(rej, err)
	if outcome != nil {
		return nil, outcome, fault
	}
	return ent, nil, nil
}

// decide turns a gate result into a terminal outcome, or nil to continue.
func (v *Validator) decide(rej *gate.Rejection, err error) (*Outcome, error) {
	if err != nil {
		return unavailable(), err
	}
	if rej != nil {
		return rejected(rej), nil
	}
	return nil, nil
}

type gateResult[T any] struct {
	value T
	rej   *gate.Rejection
	err   error
}

// runGate runs fn under its own timeout. The gate keeps running in the
// background after a timeout so storage calls already issued complete.
func runGate[T any](ctx context.Context, v *Validator, name string, timeout time.Duration,
	fn func(context.Context) (T, *gate.Rejection, error)) (T, *gate.Rejection, error) {

	start := time.Now()
	var zero T

	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan gateResult[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- gateResult[T]{err: fmt.Errorf("%s gate panicked: %v", name, r)}
			}
		}()
		value, rej, err := fn(tctx)
		done <- gateResult[T]{value: value, rej: rej, err: err}
	}()

	var res gateResult[T]
	select {
	case res = <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) {
			res.err = fmt.Errorf("%s: %w: %v", name, ErrGateTimeout, res.err)
		}
	case <-tctx.Done():
		res = gateResult[T]{value: zero, err: fmt.Errorf("%s: %w after %s", name, ErrGateTimeout, timeout)}
	}

	result := "pass"
	switch {
	case res.err != nil:
		result = "fault"
	case res.rej != nil:
		result = "reject"
	}
	v.metrics.ObserveGate(name, result, time.Since(start))

	return res.value, res.rej, res.err
}

// finish writes the single audit entry of the outcome.
func (v *Validator) finish(ctx context.Context, req Request, outcome *Outcome, fault error, start time.Time) {
	end := v.now()
	outcome.Elapsed = end.Sub(start)

	reason := string(outcome.Reason)
	entry := &models.AuditLogEntry{
		CredentialID:   outcome.CredentialID,
		OwnerID:        outcome.OwnerID,
		RequestID:      req.RequestID,
		Endpoint:       req.Endpoint,
		Method:         req.Method,
		StatusCode:     outcome.HTTPStatus,
		ReasonCode:     &reason,
		ResponseTimeMs: outcome.Elapsed.Milliseconds(),
		SourceIP:       req.SourceIP,
		CreatedAt:      end.UTC(),
	}

	var msg string
	switch {
	case fault != nil:
		msg = fault.Error()
		v.logger.Warn("Validation backend failure", "reason", outcome.Reason, "error", fault)
	case !outcome.Admitted:
		msg = outcome.Message
	}
	if ctx.Err() != nil {
		if msg != "" {
			msg += "; "
		}
		msg += "caller cancelled before completion"
	}
	if msg != "" {
		entry.ErrorMessage = &msg
	}

	v.audit.Record(context.WithoutCancel(ctx), entry)
	v.metrics.ObserveValidation(reason, outcome.Elapsed)
}
