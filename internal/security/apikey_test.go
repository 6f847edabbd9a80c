package security

import (
	"strings"
	"testing"
)

func TestGenerateAPIKey(t *testing.T) {
	first, errFirst := GenerateAPIKey()
	if errFirst != nil {
		t.Fatalf("generate: %v", errFirst)
	}
	second, errSecond := GenerateAPIKey()
	if errSecond != nil {
		t.Fatalf("generate: %v", errSecond)
	}
	if !strings.HasPrefix(first, apiKeyPrefix) {
		t.Fatalf("expected prefix %q, got %q", apiKeyPrefix, first)
	}
	if first == second {
		t.Fatalf("expected distinct keys")
	}
	// 32 random bytes in unpadded base64.
	if got := len(first) - len(apiKeyPrefix); got != 43 {
		t.Fatalf("expected 43 encoded characters, got %d", got)
	}
}

func TestMaskAPIKey(t *testing.T) {
	if got := MaskAPIKey("short"); got != "" {
		t.Fatalf("expected empty mask for short token, got %q", got)
	}
	token := "sk-portal-abcdefghijklmnopqrstuvwxyz"
	masked := MaskAPIKey(token)
	if !strings.HasPrefix(masked, token[:12]) || !strings.HasSuffix(masked, "wxyz") {
		t.Fatalf("unexpected mask %q", masked)
	}
	if strings.Contains(masked, "mnop") {
		t.Fatalf("expected middle of token to be hidden, got %q", masked)
	}
}

func TestGenerateRandomString(t *testing.T) {
	if _, errGen := GenerateRandomString(0); errGen == nil {
		t.Fatalf("expected error for zero length")
	}
	value, errGen := GenerateRandomString(32)
	if errGen != nil {
		t.Fatalf("generate: %v", errGen)
	}
	if len(value) != 43 {
		t.Fatalf("expected 43 characters, got %d", len(value))
	}
	if strings.ContainsAny(value, "+/=") {
		t.Fatalf("expected url-safe encoding, got %q", value)
	}
}
