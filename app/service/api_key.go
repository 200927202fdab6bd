package service

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"
)

// APIKeyVerifier checks the static key that guards internal endpoints.
// An empty configured key rejects every request.
type APIKeyVerifier struct {
	keyHash [sha256.Size]byte
	enabled bool
}

func NewAPIKeyVerifier(key string) *APIKeyVerifier {
	key = strings.TrimSpace(key)
	return &APIKeyVerifier{
		keyHash: sha256.Sum256([]byte(key)),
		enabled: key != "",
	}
}

func (v *APIKeyVerifier) Enabled() bool {
	return v.enabled
}

func (v *APIKeyVerifier) Verify(apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if !v.enabled || apiKey == "" {
		return ErrInvalidAPIKey
	}
	got := sha256.Sum256([]byte(apiKey))
	if subtle.ConstantTimeCompare(got[:], v.keyHash[:]) != 1 {
		return ErrInvalidAPIKey
	}
	return nil
}
