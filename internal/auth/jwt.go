// Package auth resolves who is calling the API. It does not authenticate:
// an absent or invalid token falls back to the client address, which is
// enough to key rate limits and to attribute lifecycle events.
package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	IdentityKey contextKey = "identity"
	SubjectKey  contextKey = "subject"
)

// JWTValidator checks RS256 bearer tokens against a single public key
type JWTValidator struct {
	publicKey *rsa.PublicKey
	issuer    string
	audience  string
}

// NewJWTValidator parses a PKCS1 or PKIX PEM public key. Empty issuer or
// audience disables that claim check.
func NewJWTValidator(publicKeyPEM, issuer, audience string) (*JWTValidator, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	publicKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}

		var ok bool
		publicKey, ok = key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is not RSA")
		}
	}

	return &JWTValidator{
		publicKey: publicKey,
		issuer:    issuer,
		audience:  audience,
	}, nil
}

// ValidateToken verifies tokenString and returns its subject
func (v *JWTValidator) ValidateToken(tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return v.publicKey, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("missing sub claim")
	}
	return claims.Subject, nil
}

// Middleware stores the caller identity in the request context. A valid
// bearer token yields its subject; anything else yields the client IP.
// v may be nil, in which case tokens are ignored. X-Forwarded-For is only
// read for connections from trustedProxies.
func Middleware(v *JWTValidator, trustedProxies ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity := ClientIP(r, trustedProxies...)
			if v != nil {
				if tok, ok := bearerToken(r); ok {
					if sub, err := v.ValidateToken(tok); err == nil {
						identity = sub
						ctx = context.WithValue(ctx, SubjectKey, sub)
					}
				}
			}
			ctx = context.WithValue(ctx, IdentityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext extracts the identity set by Middleware
func IdentityFromContext(ctx context.Context) (string, bool) {
	identity, ok := ctx.Value(IdentityKey).(string)
	return identity, ok && identity != ""
}

// SubjectFromContext returns the token subject of an authenticated caller
func SubjectFromContext(ctx context.Context) (string, bool) {
	sub, ok := ctx.Value(SubjectKey).(string)
	return sub, ok && sub != ""
}

// IdentityFromRequest returns the identity set by Middleware, or the client
// IP when the middleware did not run.
func IdentityFromRequest(r *http.Request) string {
	if identity, ok := IdentityFromContext(r.Context()); ok {
		return identity
	}
	return ClientIP(r)
}

// ClientIP returns the connection address. When the connection comes from
// one of trustedProxies, the rightmost X-Forwarded-For hop that is not itself
// a trusted proxy is used instead.
func ClientIP(r *http.Request, trustedProxies ...string) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if !isTrusted(peer, trustedProxies) {
		return peer
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop != "" && !isTrusted(hop, trustedProxies) {
			return hop
		}
	}
	return peer
}

func isTrusted(ip string, trustedProxies []string) bool {
	for _, p := range trustedProxies {
		if ip == p {
			return true
		}
	}
	return false
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	tok := strings.TrimPrefix(h, "Bearer ")
	if h == "" || tok == h {
		return "", false
	}
	return tok, true
}
