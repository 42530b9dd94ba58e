package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestCredential_IsExpiredAt(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name      string
		expiresAt *time.Time
		expected  bool
	}{
		{name: "no expiry", expiresAt: nil, expected: false},
		{name: "expired", expiresAt: &past, expected: true},
		{name: "not yet expired", expiresAt: &future, expected: false},
		{name: "expires exactly now", expiresAt: &now, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Credential{ExpiresAt: tt.expiresAt}
			if got := c.IsExpiredAt(now); got != tt.expected {
				t.Errorf("IsExpiredAt() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCredential_IsUsableAt(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)

	tests := []struct {
		name     string
		cred     Credential
		expected bool
	}{
		{name: "active without expiry", cred: Credential{Active: true}, expected: true},
		{name: "revoked", cred: Credential{Active: false}, expected: false},
		{name: "active but expired", cred: Credential{Active: true, ExpiresAt: &past}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cred.IsUsableAt(now); got != tt.expected {
				t.Errorf("IsUsableAt() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCredential_JSONOmitsSecretHash(t *testing.T) {
	c := Credential{PublicKey: "sk_abc", SecretHash: "deadbeef", Active: true}

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if strings.Contains(string(data), "deadbeef") || strings.Contains(string(data), "secret") {
		t.Errorf("serialized credential leaks secret material: %s", data)
	}
}
