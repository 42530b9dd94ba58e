package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"api_gateway/internal/auth"
	"api_gateway/internal/models"
	"api_gateway/internal/storage"
)

// CredentialStore looks credentials up by public key.
type CredentialStore interface {
	GetByPublicKey(ctx context.Context, publicKey string) (*models.Credential, error)
}

// SecretVerifier compares a plaintext secret with a stored digest.
type SecretVerifier interface {
	Verify(secret, encodedHash string) (bool, error)
}

// CredentialGate authenticates a (public key, secret) pair.
type CredentialGate struct {
	store     CredentialStore
	verifier  SecretVerifier
	decoyHash string
	now       func() time.Time
}

// NewCredentialGate creates the gate. lastUsedAt is maintained by the
// pipeline once the whole validation admitted the call.
func NewCredentialGate(store CredentialStore, hasher auth.SecretHasher) *CredentialGate {
	// Unknown keys are verified against a decoy so both failure paths do the same work.
	decoy, _ := hasher.Hash("decoy-secret")
	return &CredentialGate{
		store:     store,
		verifier:  hasher,
		decoyHash: decoy,
		now:       time.Now,
	}
}

// Authenticate resolves the credential and checks the secret, activation and expiry.
func (g *CredentialGate) Authenticate(ctx context.Context, publicKey, secret string) (*models.Credential, *Rejection, error) {
	if !auth.IsWellFormedPublicKey(publicKey) {
		_, _ = g.verifier.Verify(secret, g.decoyHash)
		return nil, Reject(ReasonInvalidKey, "unknown API key"), nil
	}

	cred, err := g.store.GetByPublicKey(ctx, publicKey)
	if errors.Is(err, storage.ErrCredentialNotFound) {
		_, _ = g.verifier.Verify(secret, g.decoyHash)
		return nil, Reject(ReasonInvalidKey, "unknown API key"), nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("credential lookup: %w", err)
	}

	ok, err := g.verifier.Verify(secret, cred.SecretHash)
	if err != nil {
		return nil, nil, fmt.Errorf("credential verify: %w", err)
	}
	if !ok {
		return nil, Reject(ReasonInvalidSecret, "secret does not match"), nil
	}

	now := g.now()
	if !cred.Active {
		return cred, Reject(ReasonInactive, "API key has been revoked"), nil
	}
	if cred.IsExpiredAt(now) {
		return cred, Reject(ReasonExpired, "API key has expired"), nil
	}
	return cred, nil, nil
}

// SetClock replaces the time source
func (g *CredentialGate) SetClock(now func() time.Time) {
	g.now = now
}
