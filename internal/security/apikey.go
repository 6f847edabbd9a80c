package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// apiKeyPrefix marks portal-issued API keys.
const apiKeyPrefix = "sk-portal-"

// GenerateAPIKey returns a new random API key token.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, errRead := rand.Read(buf); errRead != nil {
		return "", fmt.Errorf("generate api key: %w", errRead)
	}
	return apiKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// MaskAPIKey returns a display form that hides the middle of a token.
func MaskAPIKey(token string) string {
	if len(token) < 16 {
		return ""
	}
	return token[:12] + "········" + token[len(token)-4:]
}

// GenerateRandomString returns n random bytes encoded as URL-safe base64.
func GenerateRandomString(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("generate random string: invalid length %d", n)
	}
	buf := make([]byte, n)
	if _, errRead := rand.Read(buf); errRead != nil {
		return "", fmt.Errorf("generate random string: %w", errRead)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
