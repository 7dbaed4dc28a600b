package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signTestToken(t *testing.T, secret string, claims jwtlib.MapClaims) string {
	t.Helper()
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestSessionAuthenticatorAcceptsValidToken(t *testing.T) {
	s := NewSessionAuthenticator("test-secret")
	token := signTestToken(t, "test-secret", jwtlib.MapClaims{
		"sub":    "user-42",
		"role":   "admin",
		"scopes": []interface{}{"admin:*"},
	})

	principal, err := s.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", principal.UserID)
	assert.Equal(t, RoleAdmin, principal.Role)
	assert.True(t, principal.HasScope("anything:at-all"))
}

func TestSessionAuthenticatorRejectsBadSignature(t *testing.T) {
	s := NewSessionAuthenticator("test-secret")
	token := signTestToken(t, "wrong-secret", jwtlib.MapClaims{"sub": "user-42"})

	_, err := s.Authenticate(token)
	assert.Error(t, err)
}

func TestSessionAuthenticatorRejectsMissingSub(t *testing.T) {
	s := NewSessionAuthenticator("test-secret")
	token := signTestToken(t, "test-secret", jwtlib.MapClaims{"role": "admin"})

	_, err := s.Authenticate(token)
	assert.Error(t, err)
}

func TestFlexibleAuthenticatorRoutesOnPrefix(t *testing.T) {
	key := newTestKey("jen_abc123", []string{"enrichment:read"}, nil)
	lookup := &fakeLookup{byHash: map[string]*KeyRecord{key.KeyHash: key}}
	keys := New(lookup, &fakeRecorder{}, zerolog.Nop())
	defer keys.Close()

	session := NewSessionAuthenticator("test-secret")
	flexible := NewFlexibleAuthenticator(keys, session)

	apiKeyReq := httptest.NewRequest(http.MethodGet, "/enrichment/status/1", nil)
	apiKeyReq.Header.Set("X-API-Key", "jen_abc123")
	principal, err := flexible.Authenticate(apiKeyReq, "enrichment:read")
	require.NoError(t, err)
	assert.Equal(t, "user-1", principal.UserID)

	token := signTestToken(t, "test-secret", jwtlib.MapClaims{"sub": "user-99", "role": "read_only"})
	sessionReq := httptest.NewRequest(http.MethodGet, "/enrichment/status/1", nil)
	sessionReq.Header.Set("Authorization", "Bearer "+token)
	principal, err = flexible.Authenticate(sessionReq, "")
	require.NoError(t, err)
	assert.Equal(t, "user-99", principal.UserID)
}
