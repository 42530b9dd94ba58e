package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// SessionTokens validates (and, for tooling and tests, issues) the HS256 JWTs
// produced by the external login service. The "sub" claim carries the owner id.
type SessionTokens struct {
	secret []byte
	ttl    time.Duration
}

func NewSessionTokens(secret []byte, ttl time.Duration) *SessionTokens {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SessionTokens{secret: secret, ttl: ttl}
}

// Issue creates a token for ownerID.
func (s *SessionTokens) Issue(ownerID uuid.UUID) (string, int64, error) {
	expirationTime := time.Now().Add(s.ttl).Unix()
	claims := jwt.MapClaims{
		"sub": ownerID.String(),
		"exp": expirationTime,
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedToken, err := token.SignedString(s.secret)
	if err != nil {
		return "", 0, err
	}
	return signedToken, expirationTime, nil
}

// OwnerID verifies tokenString and returns the owner it was issued for.
func (s *SessionTokens) OwnerID(tokenString string) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return uuid.Nil, ErrMissingOwner
	}
	ownerID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrMissingOwner, err)
	}
	return ownerID, nil
}
