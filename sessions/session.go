package sessions

import (
	"time"

	"golang.org/x/oauth2"
)

// defaultTokenLifetime is assumed when the provider omits expires_in
const defaultTokenLifetime = time.Hour

// Session is the server-issued login state. It only ever travels inside the
// sealed session cookie; the browser cannot read it.
type Session struct {
	AccessToken  string    `json:"at"`
	RefreshToken string    `json:"rt,omitempty"`
	ExpiresAt    time.Time `json:"exp"`
	TenantID     string    `json:"tid,omitempty"`
	TenantName   string    `json:"tnm,omitempty"`
	IssuedAt     time.Time `json:"iat"`
}

// State is the lifecycle position of a session, evaluated lazily on access.
type State int

const (
	NoSession State = iota
	ActiveValid
	ActiveNearExpiry
	Expired
)

func (s State) String() string {
	switch s {
	case ActiveValid:
		return "active_valid"
	case ActiveNearExpiry:
		return "active_near_expiry"
	case Expired:
		return "expired"
	default:
		return "no_session"
	}
}

// New builds a session from a token endpoint response
func New(tok *oauth2.Token, tenantID, tenantName string, now time.Time) *Session {
	return &Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    ExpiryFrom(tok, now),
		TenantID:     tenantID,
		TenantName:   tenantName,
		IssuedAt:     now,
	}
}

// StateAt classifies the session. A session past maxAge, or whose access token has
// lapsed with no refresh token to renew it, is Expired.
func (s *Session) StateAt(now time.Time, skew, maxAge time.Duration) State {
	if s == nil || s.AccessToken == "" {
		return NoSession
	}
	if maxAge > 0 && !now.Before(s.IssuedAt.Add(maxAge)) {
		return Expired
	}
	if now.Before(s.ExpiresAt.Add(-skew)) {
		return ActiveValid
	}
	if s.RefreshToken == "" && !now.Before(s.ExpiresAt) {
		return Expired
	}
	return ActiveNearExpiry
}

// Rotate applies a refresh response in place. The refresh token is only replaced
// when the provider issued a new one.
func (s *Session) Rotate(tok *oauth2.Token, now time.Time) {
	s.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		s.RefreshToken = tok.RefreshToken
	}
	s.ExpiresAt = ExpiryFrom(tok, now)
}

// ExpiryFrom computes expires_at = now + expires_in, falling back to the
// absolute expiry parsed by the oauth2 package.
func ExpiryFrom(tok *oauth2.Token, now time.Time) time.Time {
	if tok.ExpiresIn > 0 {
		return now.Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	if !tok.Expiry.IsZero() {
		return tok.Expiry
	}
	return now.Add(defaultTokenLifetime)
}
