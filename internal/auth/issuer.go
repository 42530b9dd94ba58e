package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"api_gateway/internal/models"
	"api_gateway/internal/storage"
)

// maxIssueAttempts bounds retries on a public key collision.
const maxIssueAttempts = 3

var ErrInvalidExpiry = errors.New("expiry must be in the future")

// CredentialCreator persists a new credential.
type CredentialCreator interface {
	Create(ctx context.Context, cred *models.Credential) error
}

// Issuer creates credentials for owners.
type Issuer struct {
	store  CredentialCreator
	hasher SecretHasher
	now    func() time.Time
}

func NewIssuer(store CredentialCreator, hasher SecretHasher) *Issuer {
	return &Issuer{store: store, hasher: hasher, now: time.Now}
}

// IssueCredential stores a new active credential and returns it together
// with the plaintext secret. The secret is not recoverable afterwards.
func (i *Issuer) IssueCredential(ctx context.Context, ownerID uuid.UUID, name string, expiresAt *time.Time) (*models.Credential, string, error) {
	if expiresAt != nil && !expiresAt.After(i.now()) {
		return nil, "", ErrInvalidExpiry
	}

	for attempt := 1; ; attempt++ {
		gen, err := GenerateCredential(i.hasher)
		if err != nil {
			return nil, "", err
		}

		cred := &models.Credential{
			ID:         uuid.New(),
			OwnerID:    ownerID,
			Name:       strings.TrimSpace(name),
			PublicKey:  gen.PublicKey,
			SecretHash: gen.SecretHash,
			Active:     true,
			ExpiresAt:  expiresAt,
		}
		err = i.store.Create(ctx, cred)
		if err == nil {
			return cred, gen.Secret, nil
		}
		if !errors.Is(err, storage.ErrDuplicatePublicKey) || attempt == maxIssueAttempts {
			return nil, "", fmt.Errorf("failed to issue credential: %w", err)
		}
	}
}
