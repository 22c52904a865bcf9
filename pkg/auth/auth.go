// Package auth resolves the current user identity from signed bearer
// tokens. The tunnel engine only needs "current user id or none": a missing
// or invalid token is anonymous, never an error.
package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultCookieName is the fallback cookie checked for an identity token.
const DefaultCookieName = "tunnel_auth"

// bearerPrefix is the Authorization scheme prefix.
const bearerPrefix = "Bearer "

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	// SigningKey is the HMAC key used to verify token signatures. Required.
	SigningKey []byte

	// Issuer, when set, must match the token's iss claim.
	Issuer string

	// CookieName overrides the identity cookie. Defaults to
	// DefaultCookieName.
	CookieName string
}

// Verifier validates HS256 identity tokens and extracts the subject.
type Verifier struct {
	signingKey []byte
	issuer     string
	cookieName string
}

// NewVerifier creates a token verifier.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("auth signing key is required")
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	return &Verifier{
		signingKey: cfg.SigningKey,
		issuer:     cfg.Issuer,
		cookieName: cfg.CookieName,
	}, nil
}

// UserID resolves the authenticated user for a request: Authorization
// bearer token first, identity cookie second. Empty means anonymous.
func (v *Verifier) UserID(r *http.Request) string {
	if token := extractToken(r, v.cookieName); token != "" {
		if sub, err := v.subject(token); err == nil {
			return sub
		}
	}
	return ""
}

// subject parses and validates the token, returning its sub claim.
func (v *Verifier) subject(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid claims type")
	}

	if v.issuer != "" {
		iss, _ := claims["iss"].(string)
		if iss != v.issuer {
			return "", fmt.Errorf("invalid issuer: got %q, want %q", iss, v.issuer)
		}
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("missing sub claim")
	}
	return sub, nil
}

// extractToken pulls a candidate token from the request.
func extractToken(r *http.Request, cookieName string) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, bearerPrefix) {
		return strings.TrimPrefix(header, bearerPrefix)
	}
	if cookie, err := r.Cookie(cookieName); err == nil {
		return cookie.Value
	}
	return ""
}
