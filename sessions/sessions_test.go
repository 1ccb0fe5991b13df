package sessions_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/jrsteele09/intune-bridge/internal/errors"
	"github.com/jrsteele09/intune-bridge/sessions"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	err   error
	next  func(n int) *oauth2.Token
}

func (f *fakeRefresher) Refresh(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.next(f.calls), nil
}

func (f *fakeRefresher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	store     *sessions.CookieStore
	refresher *fakeRefresher
	manager   *sessions.Manager
	now       time.Time
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	sealer, err := sessions.NewSealer([]byte(testSecret))
	require.NoError(t, err)

	f := &fixture{
		store: sessions.NewCookieStore(sealer, sessions.CookieOptions{MaxAge: 8 * time.Hour}),
		refresher: &fakeRefresher{next: func(n int) *oauth2.Token {
			return &oauth2.Token{
				AccessToken:  "access-refreshed-" + string(rune('0'+n)),
				RefreshToken: "refresh-rotated",
				ExpiresIn:    3600,
			}
		}},
		now: time.Now(),
	}
	f.manager = sessions.NewManager(f.store, f.refresher, sessions.ManagerConfig{
		RefreshSkew:   5 * time.Minute,
		MaxSessionAge: 8 * time.Hour,
		Now:           func() time.Time { return f.now },
	}, zerolog.Nop())
	return f
}

// establish writes a session through the manager and returns a request carrying it
func (f *fixture) establish(t *testing.T, s *sessions.Session) *http.Request {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, f.manager.ForRequest(rec, req).Establish(s))
	return carryCookies(rec, httptest.NewRequest(http.MethodGet, "/", nil))
}

func carryCookies(rec *httptest.ResponseRecorder, req *http.Request) *http.Request {
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge >= 0 && c.Value != "" {
			req.AddCookie(c)
		}
	}
	return req
}

func expiredCookie(rec *httptest.ResponseRecorder, name string) bool {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name && c.MaxAge < 0 {
			return true
		}
	}
	return false
}

func activeSession(now time.Time) *sessions.Session {
	return &sessions.Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    now.Add(time.Hour),
		TenantID:     "tenant-1",
		TenantName:   "contoso.com",
		IssuedAt:     now,
	}
}

func TestSealer(t *testing.T) {
	sealer, err := sessions.NewSealer([]byte(testSecret))
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		sealed, err := sealer.Seal([]byte("payload"), []byte("name"))
		require.NoError(t, err)
		require.NotContains(t, sealed, "payload")

		opened, err := sealer.Open(sealed, []byte("name"))
		require.NoError(t, err)
		require.Equal(t, "payload", string(opened))
	})

	t.Run("tampered value", func(t *testing.T) {
		sealed, err := sealer.Seal([]byte("payload"), []byte("name"))
		require.NoError(t, err)
		flipped := []byte(sealed)
		if flipped[len(flipped)-2] == 'A' {
			flipped[len(flipped)-2] = 'B'
		} else {
			flipped[len(flipped)-2] = 'A'
		}
		_, err = sealer.Open(string(flipped), []byte("name"))
		require.ErrorIs(t, err, sessions.ErrInvalidCookie)
	})

	t.Run("different associated data", func(t *testing.T) {
		sealed, err := sealer.Seal([]byte("payload"), []byte("name"))
		require.NoError(t, err)
		_, err = sealer.Open(sealed, []byte("other"))
		require.ErrorIs(t, err, sessions.ErrInvalidCookie)
	})

	t.Run("different key", func(t *testing.T) {
		sealed, err := sealer.Seal([]byte("payload"), nil)
		require.NoError(t, err)
		other, err := sessions.NewSealer([]byte("another-secret-another-secret-xx"))
		require.NoError(t, err)
		_, err = other.Open(sealed, nil)
		require.ErrorIs(t, err, sessions.ErrInvalidCookie)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := sealer.Open("%%%not-base64", nil)
		require.ErrorIs(t, err, sessions.ErrInvalidCookie)
		_, err = sealer.Open("c2hvcnQ", nil)
		require.ErrorIs(t, err, sessions.ErrInvalidCookie)
	})

	t.Run("empty secret", func(t *testing.T) {
		_, err := sessions.NewSealer(nil)
		require.Error(t, err)
	})
}

func TestCookieStore(t *testing.T) {
	f := setupFixture(t)

	t.Run("no cookie", func(t *testing.T) {
		_, err := f.store.Load(httptest.NewRequest(http.MethodGet, "/", nil))
		require.ErrorIs(t, err, apperrors.ErrNoActiveSession)
		require.NotErrorIs(t, err, sessions.ErrInvalidCookie)
	})

	t.Run("attributes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-Proto", "https")
		require.NoError(t, f.store.Save(rec, req, activeSession(f.now)))

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		c := cookies[0]
		require.Equal(t, "intune_session_0", c.Name)
		require.True(t, c.HttpOnly)
		require.True(t, c.Secure)
		require.Equal(t, http.SameSiteLaxMode, c.SameSite)
		require.Equal(t, "/", c.Path)
		require.Equal(t, int((8 * time.Hour).Seconds()), c.MaxAge)
		require.NotContains(t, c.Value, "access-1")
	})

	t.Run("large sessions are chunked", func(t *testing.T) {
		big := activeSession(f.now)
		big.AccessToken = strings.Repeat("a", 5000)
		big.RefreshToken = strings.Repeat("r", 3000)

		rec := httptest.NewRecorder()
		require.NoError(t, f.store.Save(rec, httptest.NewRequest(http.MethodGet, "/", nil), big))
		cookies := rec.Result().Cookies()
		require.Greater(t, len(cookies), 1)
		for _, c := range cookies {
			require.LessOrEqual(t, len(c.Value), 3800)
		}

		loaded, err := f.store.Load(carryCookies(rec, httptest.NewRequest(http.MethodGet, "/", nil)))
		require.NoError(t, err)
		require.Equal(t, big.AccessToken, loaded.AccessToken)
		require.Equal(t, big.RefreshToken, loaded.RefreshToken)
	})

	t.Run("shrinking session expires stale chunks", func(t *testing.T) {
		big := activeSession(f.now)
		big.AccessToken = strings.Repeat("a", 9000)
		rec := httptest.NewRecorder()
		require.NoError(t, f.store.Save(rec, httptest.NewRequest(http.MethodGet, "/", nil), big))
		req := carryCookies(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		rec = httptest.NewRecorder()
		require.NoError(t, f.store.Save(rec, req, activeSession(f.now)))
		require.True(t, expiredCookie(rec, "intune_session_1"))
		require.True(t, expiredCookie(rec, "intune_session_2"))
	})

	t.Run("too large", func(t *testing.T) {
		huge := activeSession(f.now)
		huge.AccessToken = strings.Repeat("a", 40000)
		err := f.store.Save(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), huge)
		require.Error(t, err)
	})

	t.Run("corrupt cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "intune_session_0", Value: "forged"})
		_, err := f.store.Load(req)
		require.ErrorIs(t, err, apperrors.ErrNoActiveSession)
		require.ErrorIs(t, err, sessions.ErrInvalidCookie)
	})
}

func TestSession_StateAt(t *testing.T) {
	now := time.Now()
	skew := 5 * time.Minute
	maxAge := 8 * time.Hour

	tests := []struct {
		name    string
		session *sessions.Session
		want    sessions.State
	}{
		{"nil", nil, sessions.NoSession},
		{"valid", activeSession(now), sessions.ActiveValid},
		{"inside skew", &sessions.Session{AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(4 * time.Minute), IssuedAt: now}, sessions.ActiveNearExpiry},
		{"lapsed with refresh token", &sessions.Session{AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(-time.Minute), IssuedAt: now.Add(-time.Hour)}, sessions.ActiveNearExpiry},
		{"lapsed without refresh token", &sessions.Session{AccessToken: "a", ExpiresAt: now.Add(-time.Minute), IssuedAt: now.Add(-time.Hour)}, sessions.Expired},
		{"past max age", &sessions.Session{AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(time.Hour), IssuedAt: now.Add(-9 * time.Hour)}, sessions.Expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.session.StateAt(now, skew, maxAge))
		})
	}
}

func TestManager_GetValidAccessToken(t *testing.T) {
	t.Run("no cookie", func(t *testing.T) {
		f := setupFixture(t)
		h := f.manager.ForRequest(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		_, err := h.GetValidAccessToken(context.Background())
		require.ErrorIs(t, err, apperrors.ErrNoActiveSession)
	})

	t.Run("valid token is returned without refresh", func(t *testing.T) {
		f := setupFixture(t)
		req := f.establish(t, activeSession(f.now))
		token, err := f.manager.ForRequest(httptest.NewRecorder(), req).GetValidAccessToken(context.Background())
		require.NoError(t, err)
		require.Equal(t, "access-1", token)
		require.Zero(t, f.refresher.Calls())
	})

	t.Run("near expiry refreshes once", func(t *testing.T) {
		f := setupFixture(t)
		s := activeSession(f.now)
		s.ExpiresAt = f.now.Add(2 * time.Minute)
		req := f.establish(t, s)

		rec := httptest.NewRecorder()
		h := f.manager.ForRequest(rec, req)
		first, err := h.GetValidAccessToken(context.Background())
		require.NoError(t, err)
		second, err := h.GetValidAccessToken(context.Background())
		require.NoError(t, err)
		require.Equal(t, first, second)
		require.Equal(t, "access-refreshed-1", first)
		require.Equal(t, 1, f.refresher.Calls())

		// The next request carries the rotated cookie and needs no refresh either
		next := carryCookies(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		third, err := f.manager.ForRequest(httptest.NewRecorder(), next).GetValidAccessToken(context.Background())
		require.NoError(t, err)
		require.Equal(t, first, third)
		require.Equal(t, 1, f.refresher.Calls())

		loaded, err := f.store.Load(next)
		require.NoError(t, err)
		require.Equal(t, "refresh-rotated", loaded.RefreshToken)
		require.WithinDuration(t, f.now.Add(time.Hour), loaded.ExpiresAt, time.Second)
		require.Equal(t, "tenant-1", loaded.TenantID)
	})

	t.Run("refresh keeps refresh token when none is returned", func(t *testing.T) {
		f := setupFixture(t)
		f.refresher.next = func(int) *oauth2.Token { return &oauth2.Token{AccessToken: "new", ExpiresIn: 600} }
		s := activeSession(f.now)
		s.ExpiresAt = f.now.Add(time.Minute)
		rec := httptest.NewRecorder()
		_, err := f.manager.ForRequest(rec, f.establish(t, s)).GetValidAccessToken(context.Background())
		require.NoError(t, err)

		loaded, err := f.store.Load(carryCookies(rec, httptest.NewRequest(http.MethodGet, "/", nil)))
		require.NoError(t, err)
		require.Equal(t, "refresh-1", loaded.RefreshToken)
	})

	t.Run("refresh failure expires the session", func(t *testing.T) {
		f := setupFixture(t)
		f.refresher.err = errors.New("invalid_grant")
		var observed error
		f.manager = sessions.NewManager(f.store, f.refresher, sessions.ManagerConfig{
			RefreshSkew:   5 * time.Minute,
			MaxSessionAge: 8 * time.Hour,
			Now:           func() time.Time { return f.now },
			OnRefresh:     func(err error) { observed = err },
		}, zerolog.Nop())

		s := activeSession(f.now)
		s.ExpiresAt = f.now.Add(-time.Minute)
		rec := httptest.NewRecorder()
		h := f.manager.ForRequest(rec, f.establish(t, s))
		_, err := h.GetValidAccessToken(context.Background())
		require.ErrorIs(t, err, apperrors.ErrSessionExpired)
		require.Error(t, observed)
		require.True(t, expiredCookie(rec, "intune_session_0"))

		// Expired has become NoSession
		_, err = h.GetValidAccessToken(context.Background())
		require.ErrorIs(t, err, apperrors.ErrNoActiveSession)
		require.Equal(t, 1, f.refresher.Calls())
	})

	t.Run("session past max age is cleared", func(t *testing.T) {
		f := setupFixture(t)
		req := f.establish(t, activeSession(f.now))
		f.now = f.now.Add(9 * time.Hour)

		rec := httptest.NewRecorder()
		_, err := f.manager.ForRequest(rec, req).GetValidAccessToken(context.Background())
		require.ErrorIs(t, err, apperrors.ErrSessionExpired)
		require.True(t, expiredCookie(rec, "intune_session_0"))
		require.Zero(t, f.refresher.Calls())
	})

	t.Run("near expiry without refresh token still usable", func(t *testing.T) {
		f := setupFixture(t)
		s := activeSession(f.now)
		s.RefreshToken = ""
		s.ExpiresAt = f.now.Add(time.Minute)
		token, err := f.manager.ForRequest(httptest.NewRecorder(), f.establish(t, s)).GetValidAccessToken(context.Background())
		require.NoError(t, err)
		require.Equal(t, "access-1", token)
	})

	t.Run("corrupt cookie is cleared", func(t *testing.T) {
		f := setupFixture(t)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "intune_session_0", Value: "forged"})
		rec := httptest.NewRecorder()
		_, err := f.manager.ForRequest(rec, req).GetValidAccessToken(context.Background())
		require.ErrorIs(t, err, apperrors.ErrNoActiveSession)
		require.True(t, expiredCookie(rec, "intune_session_0"))
	})
}

func TestManager_StatusAndInvalidate(t *testing.T) {
	f := setupFixture(t)
	req := f.establish(t, activeSession(f.now))

	status := f.manager.ForRequest(httptest.NewRecorder(), req).Status()
	require.True(t, status.Active)
	require.Equal(t, "tenant-1", status.TenantID)
	require.Equal(t, "contoso.com", status.TenantName)
	require.Equal(t, 480, status.SessionTimeoutMinutes)

	rec := httptest.NewRecorder()
	h := f.manager.ForRequest(rec, req)
	h.Invalidate()
	h.Invalidate()
	require.Equal(t, sessions.Status{Active: false}, h.Status())
	_, err := h.GetValidAccessToken(context.Background())
	require.ErrorIs(t, err, apperrors.ErrNoActiveSession)

	// The browser drops the cookie; the next request has no session either
	next := carryCookies(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.False(t, f.manager.ForRequest(httptest.NewRecorder(), next).Status().Active)

	t.Run("garbage cookie reports inactive", func(t *testing.T) {
		bad := httptest.NewRequest(http.MethodGet, "/", nil)
		bad.AddCookie(&http.Cookie{Name: "intune_session_0", Value: "garbage"})
		require.False(t, f.manager.ForRequest(httptest.NewRecorder(), bad).Status().Active)
	})

	t.Run("remaining minutes round up", func(t *testing.T) {
		f.now = f.now.Add(8*time.Hour - 90*time.Second)
		status := f.manager.ForRequest(httptest.NewRecorder(), f.establish(t, &sessions.Session{
			AccessToken: "a", RefreshToken: "r", ExpiresAt: f.now.Add(time.Hour), IssuedAt: f.now.Add(-(8*time.Hour - 90*time.Second)),
		})).Status()
		require.True(t, status.Active)
		require.Equal(t, 2, status.SessionTimeoutMinutes)
	})
}
