package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config interface {
	EnvConfig
	CorsConfig
	OAuthConfig
	SecurityConfig
	ExecutorConfig
	RateLimitConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetBaseURL() string
	GetFrontendURL() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	OAuth
	Security
	Executor
	RateLimit
}

func New() Config {
	return mainConfig{}
}

// Validate reports the settings that must be present before the server can start.
func Validate(c Config) error {
	var missing []string
	if c.GetClientID() == "" {
		missing = append(missing, clientIDVar)
	}
	if c.GetEnv() != "DEV" && len(c.GetSessionSecret()) == 0 {
		missing = append(missing, sessionSecretVar)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if secret := c.GetSessionSecret(); len(secret) > 0 && len(secret) < minSessionSecretLength {
		return errors.New(sessionSecretVar + " must be at least 32 bytes")
	}
	return nil
}
