package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-signing-key-0123456789abcdef")

const testIssuer = "https://tunnels.example.com"

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(VerifierConfig{SigningKey: testKey, Issuer: testIssuer})
	require.NoError(t, err)
	return v
}

func signToken(t *testing.T, key []byte, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss": testIssuer,
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

func TestNewVerifier_RequiresKey(t *testing.T) {
	_, err := NewVerifier(VerifierConfig{})
	assert.Error(t, err)
}

func TestUserID_BearerToken(t *testing.T) {
	v := newTestVerifier(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testKey, validClaims()))

	assert.Equal(t, "user-1", v.UserID(req))
}

func TestUserID_Cookie(t *testing.T) {
	v := newTestVerifier(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: signToken(t, testKey, validClaims())})

	assert.Equal(t, "user-1", v.UserID(req))
}

func TestUserID_NoToken(t *testing.T) {
	v := newTestVerifier(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, v.UserID(req))
}

func TestUserID_WrongKey(t *testing.T) {
	v := newTestVerifier(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, []byte("another-signing-key-altogether!!"), validClaims()))

	assert.Empty(t, v.UserID(req))
}

func TestUserID_WrongIssuer(t *testing.T) {
	v := newTestVerifier(t)

	claims := validClaims()
	claims["iss"] = "https://evil.example.com"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testKey, claims))

	assert.Empty(t, v.UserID(req))
}

func TestUserID_ExpiredToken(t *testing.T) {
	v := newTestVerifier(t)

	claims := validClaims()
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testKey, claims))

	assert.Empty(t, v.UserID(req))
}

func TestUserID_MissingSubject(t *testing.T) {
	v := newTestVerifier(t)

	claims := validClaims()
	delete(claims, "sub")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testKey, claims))

	assert.Empty(t, v.UserID(req))
}
