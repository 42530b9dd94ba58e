package auth

import "errors"

var (
	ErrInvalidHashFormat = errors.New("invalid secret hash format")
	ErrInvalidToken      = errors.New("invalid session token")
	ErrMissingOwner      = errors.New("session token has no owner")
)
