package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Strob0t/ChatForge/internal/config"
	"github.com/Strob0t/ChatForge/internal/domain/user"
)

type identityCtxKey struct{}

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the identity claims carried by bearer tokens.
type Claims struct {
	OrgID    string    `json:"org_id,omitempty"`
	Role     user.Role `json:"role,omitempty"`
	UserType user.Type `json:"user_type,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 bearer tokens issued by the identity provider.
type Verifier struct {
	secret func() []byte
	issuer string
}

// NewVerifier creates a Verifier with a fixed secret. An empty issuer
// accepts any issuer.
func NewVerifier(secret, issuer string) *Verifier {
	key := []byte(secret)
	return &Verifier{secret: func() []byte { return key }, issuer: issuer}
}

// NewRotatingVerifier creates a Verifier that reads the secret on every
// token, so a reloaded secret applies to the next request.
func NewRotatingVerifier(secret func() string, issuer string) *Verifier {
	return &Verifier{secret: func() []byte { return []byte(secret()) }, issuer: issuer}
}

// Sign issues a token for id. Used by tooling and tests; production tokens
// come from the identity provider.
func (v *Verifier) Sign(id user.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		OrgID:    id.OrgID,
		Role:     id.Role,
		UserType: id.Type,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret())
}

// Verify parses token and returns the identity it asserts. Tokens without a
// user type are treated as regular accounts.
func (v *Verifier) Verify(token string) (user.Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return v.secret(), nil
	}, opts...)
	if err != nil {
		return user.Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return user.Identity{}, ErrInvalidToken
	}

	typ := claims.UserType
	if typ != user.TypeGuest {
		typ = user.TypeRegular
	}
	return user.Identity{ID: claims.Subject, OrgID: claims.OrgID, Role: claims.Role, Type: typ}, nil
}

// Auth returns middleware that resolves the caller identity from a bearer
// token. When auth is disabled, the configured development identity is
// injected instead.
func Auth(cfg config.Auth) func(http.Handler) http.Handler {
	return AuthWith(cfg, NewVerifier(cfg.JWTSecret, cfg.Issuer))
}

// AuthWith is Auth with a caller-supplied Verifier.
func AuthWith(cfg config.Auth, verifier *Verifier) func(http.Handler) http.Handler {
	devIdentity := user.Identity{ID: cfg.DevUserID, Role: user.RoleAdmin, Type: user.TypeRegular}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), devIdentity)))
				return
			}
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "authorization required")
				return
			}
			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader {
				unauthorized(w, "invalid authorization header")
				return
			}

			id, err := verifier.Verify(token)
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `","code":"unauthorized"}`))
}

// WithIdentity stores the caller identity in ctx.
func WithIdentity(ctx context.Context, id user.Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext returns the caller identity, or the zero Identity for
// unauthenticated requests.
func IdentityFromContext(ctx context.Context) user.Identity {
	id, _ := ctx.Value(identityCtxKey{}).(user.Identity)
	return id
}
