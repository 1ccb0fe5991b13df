package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"regexp"

	"golang.org/x/oauth2"
)

var (
	// RFC 7636 §4.1 unreserved characters, 43 to 128 long
	verifierPattern = regexp.MustCompile(`^[A-Za-z0-9\-._~]{43,128}$`)

	// A tenant GUID or a verified domain name
	tenantHintPattern = regexp.MustCompile(`^[A-Za-z0-9.-]{1,128}$`)
)

// NewCodeVerifier returns 32 random bytes encoded as a 43 character base64url string
func NewCodeVerifier() string {
	return oauth2.GenerateVerifier()
}

// CodeChallenge is the S256 transform: base64url(sha256(verifier)) without padding
func CodeChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// NewState returns an unguessable nonce binding the callback to the browser that started the flow
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func ValidateCodeVerifier(verifier string) error {
	if !verifierPattern.MatchString(verifier) {
		return fmt.Errorf("code_verifier must be 43-128 unreserved characters")
	}
	return nil
}

func ValidateTenantHint(hint string) error {
	if !tenantHintPattern.MatchString(hint) {
		return fmt.Errorf("tenant must be a tenant id or domain name")
	}
	return nil
}
