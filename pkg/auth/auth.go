// Package auth provides bearer-token authentication for the HTTP and
// WebSocket surfaces: HMAC-signed JWTs minted and verified with a
// shared secret.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Errors returned by token verification.
type authError string

func (e authError) Error() string { return string(e) }

const (
	// ErrMissingToken is returned when no bearer token is present.
	ErrMissingToken = authError("missing bearer token")

	// ErrInvalidToken is returned for expired or unverifiable tokens.
	ErrInvalidToken = authError("invalid bearer token")
)

// Claims are the verified identity attached to a request.
type Claims struct {
	Subject string
	Issuer  string
}

// Verifier validates HMAC-signed bearer tokens.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier creates a verifier for tokens signed with secret. issuer,
// when non-empty, is additionally required to match.
func NewVerifier(secret []byte, issuer string) *Verifier {
	return &Verifier{secret: secret, issuer: issuer}
}

// Verify parses and validates a token string.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	out := &Claims{}
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if iss, err := claims.GetIssuer(); err == nil {
		out.Issuer = iss
	}
	if v.issuer != "" && out.Issuer != v.issuer {
		return nil, ErrInvalidToken
	}
	return out, nil
}

// Mint signs a token for subject, valid for ttl.
func (v *Verifier) Mint(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if v.issuer != "" {
		claims["iss"] = v.issuer
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

// Middleware rejects requests without a valid bearer token. The
// verified subject is exposed via the X-Auth-Subject request header for
// downstream handlers. A nil verifier passes through.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				next.ServeHTTP(w, r)
				return
			}
			token := BearerToken(r)
			if token == "" {
				unauthorized(w, ErrMissingToken)
				return
			}
			claims, err := v.Verify(token)
			if err != nil {
				unauthorized(w, err)
				return
			}
			r.Header.Set("X-Auth-Subject", claims.Subject)
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="mcpd"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error":"unauthorized","message":%q}`, err.Error())
}
