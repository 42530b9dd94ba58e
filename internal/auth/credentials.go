package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"api_gateway/internal/models"
)

const (
	publicKeyBytes = 24
	secretBytes    = 32
)

// randReader is the CSPRNG every key and secret is drawn from.
var randReader io.Reader = rand.Reader

// GeneratedCredential holds freshly generated key material. Secret is the
// only copy of the plaintext and must be handed to the caller once.
type GeneratedCredential struct {
	PublicKey  string
	Secret     string
	SecretHash string
}

// GenerateCredential draws an independent public key and secret and hashes
// the secret with hasher.
func GenerateCredential(hasher SecretHasher) (*GeneratedCredential, error) {
	publicKey, err := GeneratePublicKey()
	if err != nil {
		return nil, err
	}
	secret, err := randomHex(secretBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	hash, err := hasher.Hash(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to hash secret: %w", err)
	}
	return &GeneratedCredential{PublicKey: publicKey, Secret: secret, SecretHash: hash}, nil
}

// GeneratePublicKey returns "sk_" followed by 24 random bytes in hex.
func GeneratePublicKey() (string, error) {
	h, err := randomHex(publicKeyBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate public key: %w", err)
	}
	return models.PublicKeyPrefix + h, nil
}

// IsWellFormedPublicKey checks the "sk_<48 hex>" shape without touching storage.
func IsWellFormedPublicKey(key string) bool {
	if !strings.HasPrefix(key, models.PublicKeyPrefix) {
		return false
	}
	body := key[len(models.PublicKeyPrefix):]
	if len(body) != publicKeyBytes*2 {
		return false
	}
	_, err := hex.DecodeString(body)
	return err == nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(randReader, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
