package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"api_gateway/internal/config"
	"api_gateway/internal/utils"

	"golang.org/x/crypto/argon2"
)

const argon2Prefix = "$argon2id$"

// SecretHasher produces and verifies one-way digests of credential secrets.
type SecretHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, encodedHash string) (bool, error)
}

// NewSecretHasher returns the hasher configured for new credentials. The
// returned hasher verifies both formats so the algorithm can be switched
// without invalidating issued credentials.
func NewSecretHasher(cfg config.AuthConfig) SecretHasher {
	sha := &SHA256Hasher{Pepper: cfg.Pepper}
	argon := NewArgon2Hasher(DefaultArgon2Params())

	var primary SecretHasher = sha
	if cfg.HashAlgorithm == config.HashAlgorithmArgon2id {
		primary = argon
	}
	return &dispatchHasher{primary: primary, sha: sha, argon: argon}
}

type dispatchHasher struct {
	primary SecretHasher
	sha     *SHA256Hasher
	argon   *Argon2Hasher
}

func (d *dispatchHasher) Hash(secret string) (string, error) {
	return d.primary.Hash(secret)
}

func (d *dispatchHasher) Verify(secret, encodedHash string) (bool, error) {
	if strings.HasPrefix(encodedHash, argon2Prefix) {
		return d.argon.Verify(secret, encodedHash)
	}
	return d.sha.Verify(secret, encodedHash)
}

// SHA256Hasher stores hex SHA-256 (or HMAC-SHA256 when a pepper is set).
// Secrets are 256 bits of CSPRNG output, so a fast digest is sufficient.
type SHA256Hasher struct {
	Pepper []byte
}

func (h *SHA256Hasher) Hash(secret string) (string, error) {
	return utils.HMACString(h.Pepper, secret), nil
}

func (h *SHA256Hasher) Verify(secret, encodedHash string) (bool, error) {
	if len(encodedHash) != 64 {
		return false, ErrInvalidHashFormat
	}
	computed := utils.HMACString(h.Pepper, secret)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(encodedHash)) == 1, nil
}

// Argon2Params holds the parameters for argon2id hashing.
type Argon2Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params are sized for a per-request verification path.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      19 * 1024,
		Iterations:  2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2Hasher encodes digests as
// $argon2id$v=19$m=<memory>,t=<iterations>,p=<parallelism>$<salt>$<hash>
type Argon2Hasher struct {
	params Argon2Params
}

func NewArgon2Hasher(params Argon2Params) *Argon2Hasher {
	return &Argon2Hasher{params: params}
}

func (h *Argon2Hasher) Hash(secret string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := randReader.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(secret), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Iterations, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// Verify uses the parameters embedded in encodedHash, not h.params.
func (h *Argon2Hasher) Verify(secret, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, ErrInvalidHashFormat
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, ErrInvalidHashFormat
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidHashFormat, err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidHashFormat, err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidHashFormat, err)
	}

	computed := argon2.IDKey([]byte(secret), salt, iterations, memory, parallelism, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, computed) == 1, nil
}
