package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"api_gateway/internal/models"
	"api_gateway/internal/storage"
)

// AccountStore reads account state. Implementations must not cache it,
// so a block takes effect on the next validation.
type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// AccountGate checks that the owning account may make calls.
type AccountGate struct {
	store AccountStore
}

// NewAccountGate creates the gate
func NewAccountGate(store AccountStore) *AccountGate {
	return &AccountGate{store: store}
}

// Check returns a rejection for a missing, inactive or blocked account.
func (g *AccountGate) Check(ctx context.Context, ownerID uuid.UUID) (*models.Account, *Rejection, error) {
	account, err := g.store.GetByID(ctx, ownerID)
	if errors.Is(err, storage.ErrAccountNotFound) {
		return nil, Reject(ReasonOwnerMissing, "owning account not found"), nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("account lookup: %w", err)
	}

	if !account.Active {
		return account, Reject(ReasonAccountInactive, "account is inactive"), nil
	}
	if account.Blocked {
		msg := "account is blocked"
		if account.BlockedReason != nil && *account.BlockedReason != "" {
			msg += ": " + *account.BlockedReason
		}
		return account, Reject(ReasonAccountBlocked, msg), nil
	}
	return account, nil, nil
}
