package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const ClientContextKey ContextKey = "client"

// Scopes granted to API clients.
const (
	ScopeIngest = "ingest"
	ScopeSearch = "search"
)

// DefaultTokenTTL is used by IssueToken when no TTL is given.
const DefaultTokenTTL = 24 * time.Hour

var (
	ErrMissingToken = errors.New("authentication required")
	ErrInvalidToken = errors.New("invalid authentication token")
	ErrForbidden    = errors.New("token lacks required scope")
)

// Client identifies the caller behind a validated token.
type Client struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

type Claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

type Config struct {
	Enabled   bool
	JwtSecret []byte
	Issuer    string
}

// Authenticator issues and validates HS256 bearer tokens. A disabled
// Authenticator lets every request through.
type Authenticator struct {
	config Config
	now    func() time.Time
}

// New returns an Authenticator. Enabling auth without a secret is an error.
func New(cfg Config) (*Authenticator, error) {
	if cfg.Enabled && len(cfg.JwtSecret) == 0 {
		return nil, errors.New("jwt secret is required when auth is enabled")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "mmkb"
	}
	return &Authenticator{config: cfg, now: time.Now}, nil
}

// Enabled returns whether authentication is enabled
func (a *Authenticator) Enabled() bool {
	return a != nil && a.config.Enabled
}

// IssueToken creates a signed token for the named client.
func (a *Authenticator) IssueToken(name string, scopes []string, ttl time.Duration) (string, error) {
	if len(a.config.JwtSecret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	if strings.TrimSpace(name) == "" {
		return "", errors.New("client name is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := a.now()
	claims := Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    a.config.Issuer,
			Subject:   name,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.config.JwtSecret)
}

// Validate validates and parses a token.
func (a *Authenticator) Validate(tokenString string) (*Client, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return a.config.JwtSecret, nil
	}, jwt.WithIssuer(a.config.Issuer), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return &Client{Name: claims.Subject, Scopes: claims.Scopes}, nil
	}
	return nil, ErrInvalidToken
}

// Require wraps next so that it only runs for tokens carrying scope. When
// auth is disabled requests pass through untouched.
func (a *Authenticator) Require(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		client, err := a.authenticate(r)
		if err == nil && !slices.Contains(client.Scopes, scope) {
			err = ErrForbidden
		}
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, ErrForbidden) {
				status = http.StatusForbidden
			}
			log.Warn().Err(err).Str("path", r.URL.Path).Msg("request rejected")
			writeError(w, status, err)
			return
		}

		ctx := context.WithValue(r.Context(), ClientContextKey, client)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

func (a *Authenticator) authenticate(r *http.Request) (*Client, error) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, ErrMissingToken
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	return a.Validate(tokenString)
}

// ClientFromContext extracts the authenticated client from request context
func ClientFromContext(ctx context.Context) *Client {
	if c, ok := ctx.Value(ClientContextKey).(*Client); ok {
		return c
	}
	return nil
}

// writeError emits the same {"detail": ...} body the API uses.
func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	msg := ErrInvalidToken.Error()
	switch {
	case errors.Is(err, ErrMissingToken):
		msg = ErrMissingToken.Error()
	case errors.Is(err, ErrForbidden):
		msg = ErrForbidden.Error()
	}
	_, _ = fmt.Fprintf(w, `{"detail":%q}`, msg)
}
