package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"premium-subscription-gateway/internal/config"
	"premium-subscription-gateway/internal/domain"
	"premium-subscription-gateway/internal/infra/logging"
)

// ===== Session/JWT primitives =====

// Authenticator verifies HS256 user tokens. The subject claim is the user id.
type Authenticator struct {
	secret     []byte
	cookieName string
}

func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	name := cfg.CookieName
	if name == "" {
		name = "session"
	}
	return &Authenticator{secret: []byte(cfg.JWTSecret), cookieName: name}
}

// Mint issues a token for userID. Used by operators and tests; end-user tokens
// normally come from the identity service sharing the secret.
func (a *Authenticator) Mint(userID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", domain.ErrInvalidArgument
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Subject:   userID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// UserID returns the authenticated subject from a bearer header or the session cookie.
func (a *Authenticator) UserID(r *http.Request) (string, error) {
	var tok string
	if hdr := r.Header.Get("Authorization"); hdr != "" {
		if !strings.HasPrefix(strings.ToLower(hdr), "bearer ") {
			return "", domain.ErrUnauthorized
		}
		tok = strings.TrimSpace(hdr[7:])
	} else if c, err := r.Cookie(a.cookieName); err == nil {
		tok = c.Value
	}
	if tok == "" {
		return "", domain.ErrUnauthorized
	}
	return a.parse(tok)
}

func (a *Authenticator) parse(tok string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tkn.Valid {
		return "", errors.Join(domain.ErrUnauthorized, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", domain.ErrUnauthorized
	}
	return claims.Subject, nil
}

// RequireUser rejects unauthenticated requests and puts the user id on the context.
func (a *Authenticator) RequireUser(logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := a.UserID(r)
			if err != nil {
				l := logging.With(r.Context(), logger)
				l.Debug().Err(err).Msg("unauthenticated request")
				writeError(w, domain.ErrUnauthorized)
				return
			}
			ctx := logging.WithUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
