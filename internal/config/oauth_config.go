package config

import (
	"strings"
	"time"
)

const (
	clientIDVar       = "AZURE_CLIENT_ID"
	clientSecretVar   = "AZURE_CLIENT_SECRET"
	authorityVar      = "AZURE_AUTHORITY"
	tenantVar         = "AZURE_TENANT"
	scopesVar         = "AZURE_SCOPES"
	jwksURLVar        = "OIDC_JWKS_URL"
	redirectURLVar    = "REDIRECT_URL"
	refreshSkewVar    = "REFRESH_SKEW_SECONDS"
	transactionTTLVar = "TRANSACTION_TTL_SECONDS"
)

type OAuthConfig interface {
	GetClientID() string
	GetClientSecret() string
	GetAuthority() string
	GetDefaultTenant() string
	GetScopes() []string
	GetJWKSURL() string
	GetRedirectURL() string
	GetRefreshSkew() time.Duration
	GetTransactionTTL() time.Duration
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

var defaultScopes = []string{
	"openid",
	"profile",
	"offline_access",
	"https://graph.microsoft.com/DeviceManagementApps.ReadWrite.All",
	"https://graph.microsoft.com/Group.Read.All",
}

func (OAuth) GetClientID() string {
	return GetEnv(clientIDVar, "")
}

func (OAuth) GetClientSecret() string {
	return GetEnv(clientSecretVar, "")
}

// GetAuthority is the identity provider base URL without the tenant segment
func (OAuth) GetAuthority() string {
	return strings.TrimRight(GetEnv(authorityVar, "https://login.microsoftonline.com"), "/")
}

// GetDefaultTenant is used when the login request carries no tenant hint.
// "organizations" accepts any work or school account.
func (OAuth) GetDefaultTenant() string {
	return GetEnv(tenantVar, "organizations")
}

func (OAuth) GetScopes() []string {
	scopes := GetEnv(scopesVar, "")
	if scopes == "" {
		return defaultScopes
	}
	return strings.Fields(strings.ReplaceAll(scopes, ",", " "))
}

// GetJWKSURL enables ID token signature verification when set
func (OAuth) GetJWKSURL() string {
	return GetEnv(jwksURLVar, "")
}

func (OAuth) GetRedirectURL() string {
	return GetEnv(redirectURLVar, EnvVars{}.GetBaseURL()+"/auth/callback")
}

func (OAuth) GetRefreshSkew() time.Duration {
	return GetEnvSeconds(refreshSkewVar, 5*time.Minute)
}

func (OAuth) GetTransactionTTL() time.Duration {
	return GetEnvSeconds(transactionTTLVar, 10*time.Minute)
}
