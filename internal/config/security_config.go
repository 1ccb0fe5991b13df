package config

import "time"

const (
	sessionSecretVar       = "SESSION_SECRET"
	secureCookiesVar       = "SECURE_COOKIES"
	maxSessionAgeVar       = "MAX_SESSION_AGE_MINUTES"
	minSessionSecretLength = 32
)

type SecurityConfig interface {
	GetSessionSecret() []byte
	GetSecureCookies() bool
	GetMaxSessionAge() time.Duration
}

type Security struct{}

var _ SecurityConfig = Security{}

// GetSessionSecret is the root key for the session and transaction cookies.
// An empty value in DEV makes the server generate an ephemeral key at startup.
func (Security) GetSessionSecret() []byte {
	return []byte(GetEnv(sessionSecretVar, ""))
}

// GetSecureCookies forces the Secure attribute even when the request arrived over plain HTTP
func (Security) GetSecureCookies() bool {
	return GetEnvBool(secureCookiesVar, EnvVars{}.GetEnv() != "DEV")
}

func (Security) GetMaxSessionAge() time.Duration {
	return time.Duration(GetEnvInt(maxSessionAgeVar, 8*60)) * time.Minute
}
