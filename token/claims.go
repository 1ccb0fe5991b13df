package token

import (
	"errors"
	"fmt"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Identity is what the bridge needs to know about the signed-in account
type Identity struct {
	TenantID          string
	Subject           string
	Name              string
	PreferredUsername string
}

// Domain returns the domain part of the account's username, if it has one
func (i Identity) Domain() string {
	if at := strings.LastIndex(i.PreferredUsername, "@"); at >= 0 && at < len(i.PreferredUsername)-1 {
		return strings.ToLower(i.PreferredUsername[at+1:])
	}
	return ""
}

// identityClaims are the Microsoft identity platform claims read from ID and access tokens
type identityClaims struct {
	jwtlib.RegisteredClaims
	TenantID          string `json:"tid"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	UPN               string `json:"upn"`
}

func (c identityClaims) identity() Identity {
	username := c.PreferredUsername
	if username == "" {
		username = c.UPN
	}
	return Identity{
		TenantID:          c.TenantID,
		Subject:           c.Subject,
		Name:              c.Name,
		PreferredUsername: username,
	}
}

var ErrNoTenantClaim = errors.New("token has no tid claim")

// ParseUnverified decodes the claims of a JWT without checking its signature.
// Only use it on tokens received directly from the token endpoint over TLS.
func ParseUnverified(raw string) (Identity, error) {
	if strings.TrimSpace(raw) == "" {
		return Identity{}, errors.New("empty token")
	}
	var claims identityClaims
	if _, _, err := jwtlib.NewParser().ParseUnverified(raw, &claims); err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.TenantID == "" {
		return claims.identity(), ErrNoTenantClaim
	}
	return claims.identity(), nil
}
