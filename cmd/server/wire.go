package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"

	"github.com/jrsteele09/intune-bridge/auth"
	"github.com/jrsteele09/intune-bridge/commands"
	"github.com/jrsteele09/intune-bridge/internal/config"
	"github.com/jrsteele09/intune-bridge/server"
	"github.com/jrsteele09/intune-bridge/sessions"
	"github.com/jrsteele09/intune-bridge/token"
	"github.com/jrsteele09/intune-bridge/token/refresh"
	"github.com/rs/zerolog"
)

// newServer assembles the bridge from configuration
func newServer(ctx context.Context, c config.Config, log zerolog.Logger) (http.Handler, error) {
	secret, err := sessionSecret(c, log)
	if err != nil {
		return nil, err
	}

	tx, err := auth.NewTransactionCodec(secret, c.GetTransactionTTL(), c.GetSecureCookies())
	if err != nil {
		return nil, err
	}

	var verifier auth.IDTokenVerifier
	if jwksURL := c.GetJWKSURL(); jwksURL != "" {
		verifier = token.NewVerifier(ctx, jwksURL, c.GetClientID())
	}

	flow := auth.NewFlow(auth.FlowConfig{
		ClientID:      c.GetClientID(),
		ClientSecret:  c.GetClientSecret(),
		Authority:     c.GetAuthority(),
		DefaultTenant: c.GetDefaultTenant(),
		RedirectURL:   c.GetRedirectURL(),
		Scopes:        c.GetScopes(),
	}, tx, verifier, log)

	sealer, err := sessions.NewSealer(secret)
	if err != nil {
		return nil, err
	}
	metrics := server.NewMetrics()
	manager := sessions.NewManager(
		sessions.NewCookieStore(sealer, sessions.CookieOptions{
			MaxAge: c.GetMaxSessionAge(),
			Secure: c.GetSecureCookies(),
		}),
		refresh.New(flow.OAuthConfig(""), log),
		sessions.ManagerConfig{
			RefreshSkew:   c.GetRefreshSkew(),
			MaxSessionAge: c.GetMaxSessionAge(),
			OnRefresh:     metrics.ObserveRefresh,
		}, log)

	registry := commands.DefaultRegistry()
	if path := c.GetCommandCatalogPath(); path != "" {
		if registry, err = commands.LoadCatalog(path); err != nil {
			return nil, err
		}
		log.Info().Str("catalog", path).Int("commands", len(registry.List())).Msg("loaded command catalog")
	}

	executor, err := commands.NewExecutor(registry, commands.ExecutorConfig{
		ScriptDir:      c.GetScriptDir(),
		Shell:          c.GetShell(),
		ShellArgs:      c.GetShellArgs(),
		Timeout:        c.GetCommandTimeout(),
		LongTimeout:    c.GetLongCommandTimeout(),
		MaxOutputBytes: c.GetMaxOutputBytes(),
	}, log)
	if err != nil {
		return nil, err
	}

	return server.New(c, server.Deps{
		Flow:     flow,
		Sessions: manager,
		Executor: executor,
		Metrics:  metrics,
		Logger:   log,
	})
}

// sessionSecret falls back to a random per-process key in DEV. Sessions then do not
// survive a restart.
func sessionSecret(c config.Config, log zerolog.Logger) ([]byte, error) {
	if secret := c.GetSessionSecret(); len(secret) > 0 {
		return secret, nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	log.Warn().Msg("SESSION_SECRET not set, using an ephemeral key")
	return secret, nil
}
