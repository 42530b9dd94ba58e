package gate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"api_gateway/internal/models"
	"api_gateway/internal/storage"
)

type fakeCredentials struct {
	byKey map[string]*models.Credential
	err   error
}

func (f *fakeCredentials) GetByPublicKey(ctx context.Context, publicKey string) (*models.Credential, error) {
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.byKey[publicKey]
	if !ok {
		return nil, storage.ErrCredentialNotFound
	}
	cp := *c
	return &cp, nil
}

type fakeAccounts struct {
	byID map[uuid.UUID]*models.Account
	err  error
}

func (f *fakeAccounts) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	a, ok := f.byID[id]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	return a, nil
}

type fakeSubscriptions struct {
	subs []*models.Subscription
	err  error
}

func (f *fakeSubscriptions) ListActiveByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*models.Subscription
	for _, s := range f.subs {
		if s.OwnerID == ownerID && s.Status == models.SubscriptionActive {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeTiers struct {
	byID map[uuid.UUID]*models.Tier
}

func (f *fakeTiers) GetByID(ctx context.Context, id uuid.UUID) (*models.Tier, error) {
	t, ok := f.byID[id]
	if !ok {
		return nil, storage.ErrTierNotFound
	}
	return t, nil
}

type fakeUsage struct {
	totals map[string]int64
	err    error
}

func (f *fakeUsage) CurrentUsage(ctx context.Context, credentialID uuid.UUID, period models.UsagePeriod) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.totals[credentialID.String()+"/"+period.String()], nil
}

type recordingWriter struct {
	mu    sync.Mutex
	calls map[uuid.UUID]time.Time
	err   error
}

func (w *recordingWriter) UpdateLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.calls == nil {
		w.calls = map[uuid.UUID]time.Time{}
	}
	w.calls[id] = at
	return w.err
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.calls)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
