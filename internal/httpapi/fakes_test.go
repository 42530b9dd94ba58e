package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"api_gateway/internal/auth"
	"api_gateway/internal/gate"
	"api_gateway/internal/metering"
	"api_gateway/internal/metrics"
	"api_gateway/internal/models"
	"api_gateway/internal/pipeline"
	"api_gateway/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testPublicKey = "sk_0123456789abcdef0123456789abcdef0123456789abcdef"
	testSecret    = "correct-horse"
)

// fakeValidator admits testPublicKey/testSecret and rejects everything else.
type fakeValidator struct {
	mu           sync.Mutex
	credentialID uuid.UUID
	ownerID      uuid.UUID
	limit        int64
	used         int64
	reject       gate.ReasonCode
	requests     []pipeline.Request
}

func (f *fakeValidator) Validate(ctx context.Context, req pipeline.Request) *pipeline.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	reason := f.reject
	if reason == "" && (req.PublicKey != testPublicKey || req.Secret != testSecret) {
		reason = gate.ReasonInvalidSecret
	}
	if reason != "" {
		return &pipeline.Outcome{
			Reason:     reason,
			Message:    "rejected",
			HTTPStatus: reason.HTTPStatus(),
			Category:   reason.Category(),
			Retryable:  reason.Retryable(),
		}
	}

	credID, ownerID := f.credentialID, f.ownerID
	return &pipeline.Outcome{
		Admitted:     true,
		Reason:       gate.ReasonAdmitted,
		HTTPStatus:   http.StatusOK,
		CredentialID: &credID,
		OwnerID:      &ownerID,
		QuotaLimit:   f.limit,
		CurrentUsage: f.used,
	}
}

func (f *fakeValidator) ValidateOwner(ctx context.Context, ownerID uuid.UUID, req pipeline.Request) *pipeline.Outcome {
	return &pipeline.Outcome{Admitted: true, Reason: gate.ReasonAdmitted, HTTPStatus: http.StatusOK, OwnerID: &ownerID}
}

type fakeUsage struct {
	mu      sync.Mutex
	calls   []metering.Call
	totals  map[uuid.UUID]int64
	records map[uuid.UUID]*models.UsageRecord
}

func newFakeUsage() *fakeUsage {
	return &fakeUsage{totals: map[uuid.UUID]int64{}, records: map[uuid.UUID]*models.UsageRecord{}}
}

func (f *fakeUsage) RecordCall(ctx context.Context, call metering.Call) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	f.totals[call.CredentialID]++
	return f.totals[call.CredentialID], nil
}

func (f *fakeUsage) Stats(ctx context.Context, credentialID uuid.UUID, period models.UsagePeriod) (*models.UsageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[credentialID]; ok {
		return rec, nil
	}
	return nil, storage.ErrUsageRecordNotFound
}

func (f *fakeUsage) recorded() []metering.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]metering.Call(nil), f.calls...)
}

type fakeCredentials struct {
	mu    sync.Mutex
	creds map[uuid.UUID]*models.Credential
}

func newFakeCredentials() *fakeCredentials {
	return &fakeCredentials{creds: map[uuid.UUID]*models.Credential{}}
}

func (f *fakeCredentials) Create(ctx context.Context, cred *models.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cred.CreatedAt = time.Now().UTC()
	f.creds[cred.ID] = cred
	return nil
}

func (f *fakeCredentials) GetByID(ctx context.Context, ownerID, id uuid.UUID) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cred, ok := f.creds[id]
	if !ok || cred.OwnerID != ownerID {
		return nil, storage.ErrCredentialNotFound
	}
	return cred, nil
}

func (f *fakeCredentials) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Credential
	for _, c := range f.creds {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCredentials) Revoke(ctx context.Context, ownerID, id uuid.UUID) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cred, ok := f.creds[id]
	if !ok || cred.OwnerID != ownerID {
		return nil, storage.ErrCredentialNotFound
	}
	cred.Active = false
	return cred, nil
}

type fakeSubscriptions struct {
	mu   sync.Mutex
	subs []*models.Subscription
}

func (f *fakeSubscriptions) Request(ctx context.Context, sub *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.OwnerID == sub.OwnerID && s.Status == models.SubscriptionActive {
			return storage.ErrActiveSubscriptionExists
		}
	}
	sub.ID = uuid.New()
	sub.Status = models.SubscriptionPending
	sub.StartDate = time.Now().UTC()
	f.subs = append(f.subs, sub)
	return nil
}

func (f *fakeSubscriptions) GetLatestByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.subs) - 1; i >= 0; i-- {
		if f.subs[i].OwnerID == ownerID {
			return f.subs[i], nil
		}
	}
	return nil, storage.ErrSubscriptionNotFound
}

func (f *fakeSubscriptions) Cancel(ctx context.Context, ownerID, id uuid.UUID, reason *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.ID == id && s.OwnerID == ownerID &&
			(s.Status == models.SubscriptionPending || s.Status == models.SubscriptionActive) {
			s.Status = models.SubscriptionCancelled
			s.RejectionReason = reason
			return nil
		}
	}
	return storage.ErrSubscriptionNotFound
}

// activeEntitlements resolves the owner's active subscription with a fixed tier.
type activeEntitlements struct {
	subs *fakeSubscriptions
	tier *models.Tier
}

func (e *activeEntitlements) Resolve(ctx context.Context, ownerID uuid.UUID) (*gate.Entitlement, *gate.Rejection, error) {
	sub, err := e.subs.GetLatestByOwner(ctx, ownerID)
	if err != nil || !sub.IsEffectivelyActiveAt(time.Now()) {
		return nil, gate.Reject(gate.ReasonNoActiveSubscription, "no active subscription"), nil
	}
	return &gate.Entitlement{Subscription: sub, Tier: e.tier}, nil, nil
}

type testEnv struct {
	deps        *Dependencies
	router      *gin.Engine
	validator   *fakeValidator
	usage       *fakeUsage
	credentials *fakeCredentials
	subs        *fakeSubscriptions
	sessions    *auth.SessionTokens
	owner       uuid.UUID
}

type fakeTiers []*models.Tier

func (f fakeTiers) List(ctx context.Context) ([]*models.Tier, error) {
	return f, nil
}

func newTestEnv(upstream http.Handler) *testEnv {
	owner := uuid.New()
	credentials := newFakeCredentials()
	subs := &fakeSubscriptions{}
	env := &testEnv{
		validator:   &fakeValidator{credentialID: uuid.New(), ownerID: owner, limit: 100, used: 41},
		usage:       newFakeUsage(),
		credentials: credentials,
		subs:        subs,
		sessions:    auth.NewSessionTokens([]byte("test-session-secret"), time.Minute),
		owner:       owner,
	}

	env.deps = &Dependencies{
		Validator:     env.validator,
		Sessions:      env.sessions,
		Usage:         env.usage,
		Credentials:   credentials,
		Issuer:        auth.NewIssuer(credentials, &auth.SHA256Hasher{}),
		Subscriptions: subs,
		Tiers:         fakeTiers{{ID: uuid.New(), Name: "basic", MonthlyCallLimit: 1000, Features: []string{"email support"}}},
		Entitlements:  &activeEntitlements{subs: subs, tier: &models.Tier{ID: uuid.New(), Name: "basic", MonthlyCallLimit: 1000}},
		Metrics:       metrics.New(),
	}
	if upstream != nil {
		env.deps.Transport = handlerTransport{upstream}
		env.deps.Upstream = mustParseURL("http://upstream.internal/base")
	}
	env.router = NewRouter(env.deps)
	return env
}

func (e *testEnv) sessionToken() string {
	token, _, err := e.sessions.Issue(e.owner)
	if err != nil {
		panic(err)
	}
	return token
}
