package sessions

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	apperrors "github.com/jrsteele09/intune-bridge/internal/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Refresher exchanges a refresh token for a new token set
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

type ManagerConfig struct {
	RefreshSkew   time.Duration
	MaxSessionAge time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// OnRefresh is called after every refresh attempt with its outcome
	OnRefresh func(err error)
}

// Manager is the only component that reads or writes raw token values.
// It holds no per-user state: every operation reads the session from the
// request cookie and writes any change back to the response.
type Manager struct {
	store     Store
	refresher Refresher
	cfg       ManagerConfig
	log       zerolog.Logger
}

func NewManager(store Store, refresher Refresher, cfg ManagerConfig, log zerolog.Logger) *Manager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		store:     store,
		refresher: refresher,
		cfg:       cfg,
		log:       log.With().Str("component", "sessions").Logger(),
	}
}

// Status is the externally visible summary of a session. It never carries tokens.
type Status struct {
	Active                bool   `json:"active"`
	TenantID              string `json:"tenant_id,omitempty"`
	TenantName            string `json:"tenant_name,omitempty"`
	SessionTimeoutMinutes int    `json:"session_timeout_minutes,omitempty"`
}

// Handle binds the manager to one HTTP exchange. The decoded session is cached on
// the handle, so repeated calls within a request see refreshed tokens immediately.
type Handle struct {
	m       *Manager
	w       http.ResponseWriter
	r       *http.Request
	loaded  bool
	session *Session
	loadErr error
}

func (m *Manager) ForRequest(w http.ResponseWriter, r *http.Request) *Handle {
	return &Handle{m: m, w: w, r: r}
}

func (h *Handle) load() (*Session, error) {
	if !h.loaded {
		h.session, h.loadErr = h.m.store.Load(h.r)
		h.loaded = true
		if errors.Is(h.loadErr, ErrInvalidCookie) {
			h.m.log.Warn().Err(h.loadErr).Msg("discarding unreadable session cookie")
			h.m.store.Clear(h.w, h.r)
		}
	}
	return h.session, h.loadErr
}

// State evaluates the session lifecycle without side effects beyond decoding
func (h *Handle) State() State {
	s, err := h.load()
	if err != nil {
		return NoSession
	}
	return s.StateAt(h.m.cfg.Now(), h.m.cfg.RefreshSkew, h.m.cfg.MaxSessionAge)
}

// GetValidAccessToken returns a token that is valid for at least the refresh skew,
// refreshing silently when the current one is close to expiry.
func (h *Handle) GetValidAccessToken(ctx context.Context) (string, error) {
	s, err := h.load()
	if err != nil {
		return "", apperrors.ErrNoActiveSession
	}

	now := h.m.cfg.Now()
	switch s.StateAt(now, h.m.cfg.RefreshSkew, h.m.cfg.MaxSessionAge) {
	case ActiveValid:
		return s.AccessToken, nil
	case Expired:
		h.expire()
		return "", apperrors.ErrSessionExpired
	case ActiveNearExpiry:
		if s.RefreshToken == "" {
			// Nothing to refresh with but the token has not lapsed yet
			return s.AccessToken, nil
		}
	default:
		return "", apperrors.ErrNoActiveSession
	}

	tok, err := h.m.refresher.Refresh(ctx, s.RefreshToken)
	if h.m.cfg.OnRefresh != nil {
		h.m.cfg.OnRefresh(err)
	}
	if err != nil {
		h.m.log.Warn().Err(err).Str("tenant_id", s.TenantID).Msg("silent token refresh failed")
		h.expire()
		return "", fmt.Errorf("%w: %v", apperrors.ErrSessionExpired, err)
	}

	s.Rotate(tok, h.m.cfg.Now())
	if err := h.m.store.Save(h.w, h.r, s); err != nil {
		return "", fmt.Errorf("[Session GetValidAccessToken] persist refreshed session: %w", err)
	}
	h.m.log.Debug().Str("tenant_id", s.TenantID).Time("expires_at", s.ExpiresAt).Msg("access token refreshed")
	return s.AccessToken, nil
}

// Status never fails; anything unreadable or expired reports inactive
func (h *Handle) Status() Status {
	s, err := h.load()
	if err != nil {
		return Status{Active: false}
	}
	now := h.m.cfg.Now()
	state := s.StateAt(now, h.m.cfg.RefreshSkew, h.m.cfg.MaxSessionAge)
	if state == Expired || state == NoSession {
		h.expire()
		return Status{Active: false}
	}

	status := Status{Active: true, TenantID: s.TenantID, TenantName: s.TenantName}
	if h.m.cfg.MaxSessionAge > 0 {
		remaining := s.IssuedAt.Add(h.m.cfg.MaxSessionAge).Sub(now)
		status.SessionTimeoutMinutes = int(math.Ceil(remaining.Minutes()))
	}
	return status
}

// Establish persists a session created by a successful code exchange
func (h *Handle) Establish(s *Session) error {
	if s == nil || s.AccessToken == "" {
		return errors.New("[Session Establish] session has no access token")
	}
	if err := h.m.store.Save(h.w, h.r, s); err != nil {
		return err
	}
	h.session, h.loadErr, h.loaded = s, nil, true
	return nil
}

// Invalidate clears the session cookie. Calling it without a session is a no-op.
func (h *Handle) Invalidate() {
	h.m.store.Clear(h.w, h.r)
	h.session, h.loadErr, h.loaded = nil, apperrors.ErrNoActiveSession, true
}

// expire moves an Expired session to NoSession by clearing the cookie
func (h *Handle) expire() {
	h.Invalidate()
}
