package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType distinguishes access tokens (used for API calls) from refresh
// tokens (used only to mint a new access token).
type TokenType string

const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

// tokenClaims is the HS256 payload: {sub: username/email, type, exp}.
type tokenClaims struct {
	Type TokenType `json:"type"`
	jwt.RegisteredClaims
}

// JWTIssuer signs and verifies bearer tokens with a shared HMAC secret.
type JWTIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewJWTIssuer builds an issuer. Zero TTLs fall back to 1 hour access /
// 30 day refresh tokens.
func NewJWTIssuer(secret string, accessTTLHours, refreshTTLHours int) *JWTIssuer {
	if accessTTLHours <= 0 {
		accessTTLHours = 1
	}
	if refreshTTLHours <= 0 {
		refreshTTLHours = 24 * 30
	}
	return &JWTIssuer{
		secret:     []byte(secret),
		accessTTL:  time.Duration(accessTTLHours) * time.Hour,
		refreshTTL: time.Duration(refreshTTLHours) * time.Hour,
	}
}

// Issue mints a signed token of the given type for subject.
func (j *JWTIssuer) Issue(subject string, typ TokenType) (string, error) {
	ttl := j.accessTTL
	if typ == RefreshToken {
		ttl = j.refreshTTL
	}
	claims := tokenClaims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(j.secret)
}

// IssuePair mints an access/refresh token pair for subject.
func (j *JWTIssuer) IssuePair(subject string) (access, refresh string, err error) {
	access, err = j.Issue(subject, AccessToken)
	if err != nil {
		return "", "", err
	}
	refresh, err = j.Issue(subject, RefreshToken)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// Verify parses and validates token, requiring it to carry wantType.
func (j *JWTIssuer) Verify(token string, wantType TokenType) (subject string, err error) {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("auth: invalid token")
	}
	if claims.Type != wantType {
		return "", fmt.Errorf("auth: expected %s token, got %s", wantType, claims.Type)
	}
	return claims.Subject, nil
}

// BearerMiddleware authenticates requests via Authorization: Bearer <JWT> or
// X-API-Key: <key>, attaching the resolved user to the request context. Both
// mechanisms are accepted on any protected endpoint, per spec.
func BearerMiddleware(issuer *JWTIssuer, store *Store, keys *APIKeyStore, require bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
				tok := strings.TrimPrefix(authz, "Bearer ")
				if sub, err := issuer.Verify(tok, AccessToken); err == nil {
					if u, err := store.GetUserByEmail(ctx, sub); err == nil && u != nil {
						r = r.WithContext(WithUser(ctx, u))
					}
				}
			} else if key := r.Header.Get("X-API-Key"); key != "" && keys != nil {
				u, err := keys.Resolve(ctx, key, store)
				switch {
				case errors.Is(err, ErrNoAdministrator):
					http.Error(w, "server misconfigured: no administrator user", http.StatusInternalServerError)
					return
				case err == nil && u != nil:
					r = r.WithContext(WithUser(r.Context(), u))
				}
			}

			if require {
				if _, ok := CurrentUser(r.Context()); !ok {
					w.Header().Set("WWW-Authenticate", `Bearer realm="ragserv"`)
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
