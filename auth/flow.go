package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/intune-bridge/internal/errors"
	"github.com/jrsteele09/intune-bridge/sessions"
	"github.com/jrsteele09/intune-bridge/token"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// IDTokenVerifier checks an ID token's signature and returns its identity claims
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (token.Identity, error)
}

type FlowConfig struct {
	ClientID      string
	ClientSecret  string
	Authority     string // e.g. https://login.microsoftonline.com
	DefaultTenant string // authority tenant segment when no hint is given
	RedirectURL   string
	Scopes        []string

	// HTTPClient is used for the token endpoint. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	Now        func() time.Time
}

// Flow runs the Authorization Code + PKCE round trip with the Microsoft identity platform
type Flow struct {
	cfg      FlowConfig
	tx       *TransactionCodec
	verifier IDTokenVerifier
	log      zerolog.Logger
}

// NewFlow creates a flow. verifier may be nil, in which case the tenant id is read from the
// token endpoint response without a signature check.
func NewFlow(cfg FlowConfig, tx *TransactionCodec, verifier IDTokenVerifier, log zerolog.Logger) *Flow {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DefaultTenant == "" {
		cfg.DefaultTenant = "organizations"
	}
	cfg.Authority = strings.TrimRight(cfg.Authority, "/")
	return &Flow{cfg: cfg, tx: tx, verifier: verifier, log: log.With().Str("component", "auth").Logger()}
}

// OAuthConfig returns the client configuration for one authority tenant
func (f *Flow) OAuthConfig(tenant string) *oauth2.Config {
	if tenant == "" {
		tenant = f.cfg.DefaultTenant
	}
	base := f.cfg.Authority + "/" + tenant + "/oauth2/v2.0"
	return &oauth2.Config{
		ClientID:     f.cfg.ClientID,
		ClientSecret: f.cfg.ClientSecret,
		RedirectURL:  f.cfg.RedirectURL,
		Scopes:       f.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  base + "/authorize",
			TokenURL: base + "/token",
			// Microsoft accepts client credentials in the body; auto detection would
			// replay a failed code redemption with the other style.
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// BeginAuthorization stores a fresh PKCE transaction in a cookie and returns the
// authorization URL to redirect the browser to.
func (f *Flow) BeginAuthorization(w http.ResponseWriter, r *http.Request, tenantHint string) (string, error) {
	if tenantHint != "" {
		if err := ValidateTenantHint(tenantHint); err != nil {
			return "", fmt.Errorf("%w: %v", apperrors.ErrInvalidRequest, err)
		}
	}

	state, err := NewState()
	if err != nil {
		return "", err
	}
	verifier := NewCodeVerifier()

	if err := f.tx.Write(w, r, Transaction{
		State:        state,
		CodeVerifier: verifier,
		TenantHint:   tenantHint,
		CreatedAt:    f.cfg.Now(),
	}); err != nil {
		return "", err
	}

	authURL := f.OAuthConfig(tenantHint).AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
	f.log.Debug().Str("tenant_hint", tenantHint).Msg("authorization started")
	return authURL, nil
}

// CompleteAuthorization validates the callback against the stored transaction and redeems
// the code. The transaction cookie is single use and is cleared whatever the outcome.
func (f *Flow) CompleteAuthorization(w http.ResponseWriter, r *http.Request, code, state string) (*sessions.Session, error) {
	tx, err := f.tx.Read(r)
	f.tx.Clear(w, r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrStateMismatch, err)
	}
	if state == "" || subtle.ConstantTimeCompare([]byte(state), []byte(tx.State)) != 1 {
		return nil, fmt.Errorf("%w: state does not match transaction", apperrors.ErrStateMismatch)
	}
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", apperrors.ErrTokenExchangeFailed)
	}

	ctx := r.Context()
	if f.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.cfg.HTTPClient)
	}
	tok, err := f.OAuthConfig(tx.TenantHint).Exchange(ctx, code, oauth2.VerifierOption(tx.CodeVerifier))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrTokenExchangeFailed, token.ProviderErrorDescription(err))
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response has no access_token", apperrors.ErrTokenExchangeFailed)
	}

	identity := f.identity(ctx, tok)
	tenantID := identity.TenantID
	if tenantID == "" {
		tenantID = tx.TenantHint
	}
	tenantName := identity.Domain()
	if strings.Contains(tx.TenantHint, ".") {
		tenantName = strings.ToLower(tx.TenantHint)
	}

	f.log.Info().Str("tenant_id", tenantID).Msg("authorization completed")
	return sessions.New(tok, tenantID, tenantName, f.cfg.Now()), nil
}

// AbortAuthorization discards the pending transaction after the provider reported an error
func (f *Flow) AbortAuthorization(w http.ResponseWriter, r *http.Request) {
	f.tx.Clear(w, r)
}

// identity prefers the ID token, then the access token. A failed signature check is logged
// and treated as no identity rather than failing a login the provider has already granted.
func (f *Flow) identity(ctx context.Context, tok *oauth2.Token) token.Identity {
	rawIDToken, _ := tok.Extra("id_token").(string)
	if rawIDToken != "" {
		if f.verifier != nil {
			identity, err := f.verifier.Verify(ctx, rawIDToken)
			if err == nil {
				return identity
			}
			f.log.Warn().Err(err).Msg("id token verification failed")
		} else if identity, err := token.ParseUnverified(rawIDToken); err == nil {
			return identity
		}
	}

	identity, err := token.ParseUnverified(tok.AccessToken)
	if err != nil && !errors.Is(err, token.ErrNoTenantClaim) {
		return token.Identity{}
	}
	return identity
}
