package refresh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/intune-bridge/token"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds a single refresh round trip to the token endpoint
const DefaultTimeout = 30 * time.Second

// Refresher redeems refresh tokens against the identity provider's token endpoint.
// Concurrent refreshes of the same refresh token share one upstream request, since
// the provider rotates the refresh token and a second redemption would fail.
type Refresher struct {
	config  *oauth2.Config
	timeout time.Duration
	group   singleflight.Group
	log     zerolog.Logger
}

func New(config *oauth2.Config, log zerolog.Logger) *Refresher {
	return &Refresher{
		config:  config,
		timeout: DefaultTimeout,
		log:     log.With().Str("component", "refresh").Logger(),
	}
}

// WithTimeout overrides DefaultTimeout
func (r *Refresher) WithTimeout(timeout time.Duration) *Refresher {
	r.timeout = timeout
	return r
}

func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, errors.New("[Refresher Refresh] no refresh token")
	}

	sum := sha256.Sum256([]byte(refreshToken))
	v, err, shared := r.group.Do(hex.EncodeToString(sum[:]), func() (interface{}, error) {
		// A client disconnect must not abandon a rotation the provider has already accepted
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	})
	if shared {
		r.log.Debug().Msg("refresh shared with a concurrent request")
	}
	if err != nil {
		return nil, fmt.Errorf("[Refresher Refresh] %s", token.ProviderErrorDescription(err))
	}
	return v.(*oauth2.Token), nil
}
