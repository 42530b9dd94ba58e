package storage

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrCredentialNotFound is returned when a credential is not found
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrDuplicatePublicKey is returned when a generated public key collides
	ErrDuplicatePublicKey = errors.New("public key already exists")

	// ErrAccountNotFound is returned when an account is not found
	ErrAccountNotFound = errors.New("account not found")

	// ErrTierNotFound is returned when a tier is not found
	ErrTierNotFound = errors.New("tier not found")

	// ErrSubscriptionNotFound is returned when a subscription is not found
	// or is not in the state an operation requires
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrActiveSubscriptionExists is returned when an owner already holds an active subscription
	ErrActiveSubscriptionExists = errors.New("owner already has an active subscription")

	// ErrUsageRecordNotFound is returned when a usage record is not found
	ErrUsageRecordNotFound = errors.New("usage record not found")
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

func isPQCode(err error, code string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == code
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != pqUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
