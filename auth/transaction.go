package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/intune-bridge/sessions"
)

const (
	TransactionCookieName = "intune_auth_tx"
	transactionCookiePath = "/auth"
	transactionKeyPurpose = "intune-bridge transaction cookie v1"
)

// Transaction is the state kept between /auth/login and /auth/callback
type Transaction struct {
	State        string
	CodeVerifier string
	TenantHint   string
	CreatedAt    time.Time
}

type transactionClaims struct {
	jwtlib.RegisteredClaims
	State        string `json:"st"`
	CodeVerifier string `json:"cv"`
	TenantHint   string `json:"th,omitempty"`
}

// TransactionCodec stores a Transaction in an HS256 signed cookie whose exp claim enforces the TTL.
// The code verifier is not secret from the browser that owns it, so signing is sufficient.
type TransactionCodec struct {
	key    []byte
	ttl    time.Duration
	secure bool

	// Now can be overridden in tests
	Now func() time.Time
}

func NewTransactionCodec(secret []byte, ttl time.Duration, secure bool) (*TransactionCodec, error) {
	key, err := sessions.DeriveKey(secret, transactionKeyPurpose, 32)
	if err != nil {
		return nil, fmt.Errorf("[TransactionCodec] derive key: %w", err)
	}
	return &TransactionCodec{key: key, ttl: ttl, secure: secure, Now: time.Now}, nil
}

func (c *TransactionCodec) Write(w http.ResponseWriter, r *http.Request, tx Transaction) error {
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = c.Now()
	}
	claims := transactionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			IssuedAt:  jwtlib.NewNumericDate(tx.CreatedAt),
			ExpiresAt: jwtlib.NewNumericDate(tx.CreatedAt.Add(c.ttl)),
		},
		State:        tx.State,
		CodeVerifier: tx.CodeVerifier,
		TenantHint:   tx.TenantHint,
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return fmt.Errorf("[TransactionCodec Write] sign: %w", err)
	}
	http.SetCookie(w, c.cookie(r, signed, int(c.ttl.Seconds())))
	return nil
}

// Read returns the transaction if the cookie is present, authentic and unexpired
func (c *TransactionCodec) Read(r *http.Request) (Transaction, error) {
	cookie, err := r.Cookie(TransactionCookieName)
	if err != nil || cookie.Value == "" {
		return Transaction{}, errors.New("no transaction cookie")
	}

	var claims transactionClaims
	_, err = jwtlib.ParseWithClaims(cookie.Value, &claims, func(*jwtlib.Token) (interface{}, error) {
		return c.key, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(c.Now),
	)
	if err != nil {
		return Transaction{}, fmt.Errorf("invalid transaction cookie: %w", err)
	}
	if claims.State == "" || ValidateCodeVerifier(claims.CodeVerifier) != nil {
		return Transaction{}, errors.New("incomplete transaction cookie")
	}

	tx := Transaction{State: claims.State, CodeVerifier: claims.CodeVerifier, TenantHint: claims.TenantHint}
	if claims.IssuedAt != nil {
		tx.CreatedAt = claims.IssuedAt.Time
	}
	return tx, nil
}

func (c *TransactionCodec) Clear(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, c.cookie(r, "", -1))
}

func (c *TransactionCodec) cookie(r *http.Request, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     TransactionCookieName,
		Value:    value,
		Path:     transactionCookiePath,
		HttpOnly: true,
		Secure:   c.secure || sessions.SecureRequest(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	}
}
