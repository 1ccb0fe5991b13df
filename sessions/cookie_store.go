package sessions

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/intune-bridge/internal/errors"
)

const (
	// DefaultCookieName is the base name; chunks are written as <name>_0 .. <name>_N
	DefaultCookieName = "intune_session"

	// chunkSize keeps each Set-Cookie header under the 4096 byte browser limit
	chunkSize = 3800
	maxChunks = 8
)

// Store persists a Session between requests
type Store interface {
	Load(r *http.Request) (*Session, error)
	Save(w http.ResponseWriter, r *http.Request, session *Session) error
	Clear(w http.ResponseWriter, r *http.Request)
}

type CookieOptions struct {
	Name   string
	MaxAge time.Duration
	Secure bool // force Secure even on plain HTTP requests
}

// CookieStore keeps the whole session inside sealed, HTTP-only cookies.
// Microsoft access and refresh tokens together often exceed a single cookie,
// so the sealed value is split across numbered chunks.
type CookieStore struct {
	sealer *Sealer
	opts   CookieOptions
}

var _ Store = (*CookieStore)(nil)

func NewCookieStore(sealer *Sealer, opts CookieOptions) *CookieStore {
	if opts.Name == "" {
		opts.Name = DefaultCookieName
	}
	return &CookieStore{sealer: sealer, opts: opts}
}

func (c *CookieStore) chunkName(i int) string {
	return c.opts.Name + "_" + strconv.Itoa(i)
}

// Load returns ErrNoActiveSession when no cookie is present and ErrNoActiveSession
// joined with ErrInvalidCookie when one is present but cannot be opened.
func (c *CookieStore) Load(r *http.Request) (*Session, error) {
	var sb strings.Builder
	for i := 0; i < maxChunks; i++ {
		cookie, err := r.Cookie(c.chunkName(i))
		if err != nil {
			break
		}
		sb.WriteString(cookie.Value)
	}
	if sb.Len() == 0 {
		return nil, apperrors.ErrNoActiveSession
	}

	plaintext, err := c.sealer.Open(sb.String(), []byte(c.opts.Name))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrNoActiveSession, err)
	}

	var session Session
	if err := json.Unmarshal(plaintext, &session); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", apperrors.ErrNoActiveSession, ErrInvalidCookie, err)
	}
	if session.AccessToken == "" {
		return nil, fmt.Errorf("%w: %w: missing access token", apperrors.ErrNoActiveSession, ErrInvalidCookie)
	}
	return &session, nil
}

func (c *CookieStore) Save(w http.ResponseWriter, r *http.Request, session *Session) error {
	plaintext, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("[CookieStore Save] marshal session: %w", err)
	}
	sealed, err := c.sealer.Seal(plaintext, []byte(c.opts.Name))
	if err != nil {
		return fmt.Errorf("[CookieStore Save] seal session: %w", err)
	}

	chunks := splitChunks(sealed, chunkSize)
	if len(chunks) > maxChunks {
		return fmt.Errorf("[CookieStore Save] session needs %d cookies, limit is %d", len(chunks), maxChunks)
	}

	maxAge := int(c.opts.MaxAge.Seconds())
	for i, chunk := range chunks {
		http.SetCookie(w, c.cookie(r, c.chunkName(i), chunk, maxAge))
	}
	// Expire chunks left over from a previously larger session
	for i := len(chunks); i < maxChunks; i++ {
		if _, err := r.Cookie(c.chunkName(i)); err == nil {
			http.SetCookie(w, c.cookie(r, c.chunkName(i), "", -1))
		}
	}
	return nil
}

// Clear expires every chunk; it is safe to call when no session exists
func (c *CookieStore) Clear(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, c.cookie(r, c.chunkName(0), "", -1))
	for i := 1; i < maxChunks; i++ {
		if _, err := r.Cookie(c.chunkName(i)); err == nil {
			http.SetCookie(w, c.cookie(r, c.chunkName(i), "", -1))
		}
	}
}

func (c *CookieStore) cookie(r *http.Request, name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.opts.Secure || SecureRequest(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	}
}

// SecureRequest reports whether the request reached us over HTTPS, directly or via a proxy
func SecureRequest(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func splitChunks(s string, size int) []string {
	chunks := make([]string, 0, len(s)/size+1)
	for len(s) > size {
		chunks = append(chunks, s[:size])
		s = s[size:]
	}
	return append(chunks, s)
}
