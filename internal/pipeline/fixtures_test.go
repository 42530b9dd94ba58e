package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"api_gateway/internal/auth"
	"api_gateway/internal/config"
	"api_gateway/internal/gate"
	"api_gateway/internal/models"
	"api_gateway/internal/storage"
)

// world is an in-memory backing store for every gate.
type world struct {
	mu            sync.Mutex
	credentials   map[string]*models.Credential
	accounts      map[uuid.UUID]*models.Account
	subscriptions []*models.Subscription
	tiers         map[uuid.UUID]*models.Tier
	usage         map[string]int64

	accountDelay time.Duration
	accountErr   error
	quotaHook    func()
}

func newWorld() *world {
	return &world{
		credentials: map[string]*models.Credential{},
		accounts:    map[uuid.UUID]*models.Account{},
		tiers:       map[uuid.UUID]*models.Tier{},
		usage:       map[string]int64{},
	}
}

func (w *world) GetByPublicKey(ctx context.Context, publicKey string) (*models.Credential, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.credentials[publicKey]
	if !ok {
		return nil, storage.ErrCredentialNotFound
	}
	cp := *c
	return &cp, nil
}

type accountStore struct{ *world }

func (a accountStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	if a.accountDelay > 0 {
		select {
		case <-time.After(a.accountDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.accountErr != nil {
		return nil, a.accountErr
	}
	acc, ok := a.accounts[id]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

func (w *world) ListActiveByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Subscription, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []*models.Subscription
	for i := len(w.subscriptions) - 1; i >= 0; i-- {
		s := w.subscriptions[i]
		if s.OwnerID == ownerID && s.Status == models.SubscriptionActive {
			out = append(out, s)
		}
	}
	return out, nil
}

type tierStore struct{ *world }

func (t tierStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Tier, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tier, ok := t.tiers[id]
	if !ok {
		return nil, storage.ErrTierNotFound
	}
	return tier, nil
}

func usageKey(id uuid.UUID, p models.UsagePeriod) string {
	return id.String() + "/" + p.String()
}

func (w *world) CurrentUsage(ctx context.Context, credentialID uuid.UUID, period models.UsagePeriod) (int64, error) {
	if w.quotaHook != nil {
		w.quotaHook()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.usage[usageKey(credentialID, period)], nil
}

func (w *world) record(credentialID uuid.UUID, at time.Time) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	k := usageKey(credentialID, models.PeriodOf(at))
	w.usage[k]++
	return w.usage[k]
}

func (w *world) revoke(publicKey string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.credentials[publicKey].Active = false
}

func (w *world) block(owner uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.accounts[owner].Blocked = true
}

// auditSink collects entries in memory.
type auditSink struct {
	mu      sync.Mutex
	entries []*models.AuditLogEntry
}

func (s *auditSink) Record(ctx context.Context, entry *models.AuditLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

func (s *auditSink) all() []*models.AuditLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.AuditLogEntry(nil), s.entries...)
}

func (s *auditSink) last() *models.AuditLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return nil
	}
	return s.entries[len(s.entries)-1]
}

// clock is a settable time source shared by the gates and the validator.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	world     *world
	audit     *auditSink
	clock     *clock
	validator *Validator
	owner     uuid.UUID
	cred      *models.Credential
	key       string
	secret    string
}

func testTimeouts() config.GateConfig {
	return config.GateConfig{
		CredentialTimeout:   time.Second,
		AccountTimeout:      time.Second,
		SubscriptionTimeout: time.Second,
		QuotaTimeout:        time.Second,
	}
}

// newFixture builds an active account with one credential and an active
// subscription on a tier with the given limit.
func newFixture(limit int64) *fixture {
	w := newWorld()
	clk := &clock{now: time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)}

	hasher := &auth.SHA256Hasher{}
	gen, err := auth.GenerateCredential(hasher)
	if err != nil {
		panic(err)
	}

	owner := uuid.New()
	cred := &models.Credential{ID: uuid.New(), OwnerID: owner, PublicKey: gen.PublicKey, SecretHash: gen.SecretHash, Active: true}
	w.credentials[gen.PublicKey] = cred
	w.accounts[owner] = &models.Account{ID: owner, Active: true}

	tier := &models.Tier{ID: uuid.New(), Name: "Basic", MonthlyCallLimit: limit}
	w.tiers[tier.ID] = tier
	w.subscriptions = append(w.subscriptions, &models.Subscription{
		ID: uuid.New(), OwnerID: owner, TierID: tier.ID, Status: models.SubscriptionActive,
		StartDate: clk.Now().AddDate(-1, 0, 0),
	})

	credentialGate := gate.NewCredentialGate(w, hasher)
	credentialGate.SetClock(clk.Now)
	subscriptionGate := gate.NewSubscriptionGate(w, tierStore{w})
	subscriptionGate.SetClock(clk.Now)
	quotaGate := gate.NewQuotaGate(w)
	quotaGate.SetClock(clk.Now)

	sink := &auditSink{}
	v := NewValidator(Gates{
		Credential:   credentialGate,
		Account:      gate.NewAccountGate(accountStore{w}),
		Subscription: subscriptionGate,
		Quota:        quotaGate,
	}, testTimeouts(), sink, nil)
	v.SetClock(clk.Now)

	return &fixture{
		world: w, audit: sink, clock: clk, validator: v,
		owner: owner, cred: cred, key: gen.PublicKey, secret: gen.Secret,
	}
}

func (f *fixture) request() Request {
	return Request{
		PublicKey: f.key,
		Secret:    f.secret,
		RequestID: uuid.NewString(),
		Endpoint:  "/proxy/orders",
		Method:    "GET",
		SourceIP:  "203.0.113.7",
	}
}
