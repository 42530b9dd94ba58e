package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// HashString returns the hex encoded SHA-256 digest of s.
func HashString(s string) string {
	hasher := sha256.New()
	hasher.Write([]byte(s))
	return hex.EncodeToString(hasher.Sum(nil))
}

// HMACString returns the hex encoded HMAC-SHA256 of s under key.
// With an empty key it is equivalent to HashString.
func HMACString(key []byte, s string) string {
	if len(key) == 0 {
		return HashString(s)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(s))
	return hex.EncodeToString(mac.Sum(nil))
}
