package auth

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengu/pricing-core/internal/apperr"
)

type fakeLookup struct {
	byHash map[string]*KeyRecord
}

func (f *fakeLookup) ByHash(hash string) (*KeyRecord, error) {
	if k, ok := f.byHash[hash]; ok {
		return k, nil
	}
	return nil, errNotFound{}
}

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

type fakeRecorder struct {
	mu      sync.Mutex
	records []UsageRecord
}

func (f *fakeRecorder) RecordUsage(u UsageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, u)
	return nil
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func newTestKey(presented string, scopes []string, allowedIPs []string) *KeyRecord {
	return &KeyRecord{
		KeyID:      "key-1",
		KeyHash:    HashKey(presented),
		UserID:     "user-1",
		Role:       RoleReadWrite,
		Scopes:     scopes,
		AllowedIPs: allowedIPs,
		IsActive:   true,
	}
}

func TestAuthenticateSucceedsWithXAPIKeyHeader(t *testing.T) {
	key := newTestKey("jen_abc123", []string{"enrichment:read"}, nil)
	lookup := &fakeLookup{byHash: map[string]*KeyRecord{key.KeyHash: key}}
	recorder := &fakeRecorder{}
	a := New(lookup, recorder, zerolog.Nop())
	defer a.Close()

	r := httptest.NewRequest(http.MethodGet, "/enrichment/status/1", nil)
	r.Header.Set("X-API-Key", "jen_abc123")

	principal, err := a.Authenticate(r, "enrichment:read")
	require.NoError(t, err)
	assert.Equal(t, "key-1", principal.KeyID)
	assert.Equal(t, "user-1", principal.UserID)
}

func TestAuthenticateRejectsMissingKey(t *testing.T) {
	a := New(&fakeLookup{byHash: map[string]*KeyRecord{}}, &fakeRecorder{}, zerolog.Nop())
	defer a.Close()

	r := httptest.NewRequest(http.MethodGet, "/enrichment/status/1", nil)
	_, err := a.Authenticate(r, "")
	assert.Error(t, err)
}

func TestAuthenticateRejectsInsufficientScope(t *testing.T) {
	key := newTestKey("jen_abc123", []string{"enrichment:read"}, nil)
	lookup := &fakeLookup{byHash: map[string]*KeyRecord{key.KeyHash: key}}
	a := New(lookup, &fakeRecorder{}, zerolog.Nop())
	defer a.Close()

	r := httptest.NewRequest(http.MethodPost, "/enrichment/start", nil)
	r.Header.Set("X-API-Key", "jen_abc123")

	_, err := a.Authenticate(r, "enrichment:write")
	require.Error(t, err)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestAuthenticateRejectsDisallowedIP(t *testing.T) {
	key := newTestKey("jen_abc123", []string{"admin:*"}, []string{"10.0.0.1"})
	lookup := &fakeLookup{byHash: map[string]*KeyRecord{key.KeyHash: key}}
	a := New(lookup, &fakeRecorder{}, zerolog.Nop())
	defer a.Close()

	r := httptest.NewRequest(http.MethodGet, "/enrichment/status/1", nil)
	r.Header.Set("X-API-Key", "jen_abc123")
	r.RemoteAddr = "192.168.1.5:1234"

	_, err := a.Authenticate(r, "")
	assert.Error(t, err)
}

func TestAuthenticateRecordsUsageAsynchronously(t *testing.T) {
	key := newTestKey("jen_abc123", nil, nil)
	lookup := &fakeLookup{byHash: map[string]*KeyRecord{key.KeyHash: key}}
	recorder := &fakeRecorder{}
	a := New(lookup, recorder, zerolog.Nop())

	r := httptest.NewRequest(http.MethodGet, "/enrichment/status/1", nil)
	r.Header.Set("X-API-Key", "jen_abc123")
	_, err := a.Authenticate(r, "")
	require.NoError(t, err)

	a.Close() // drains the channel before returning
	assert.Equal(t, 1, recorder.count())
}

func TestHasScopeWildcards(t *testing.T) {
	k := &KeyRecord{Scopes: []string{"enrichment:*"}}
	assert.True(t, k.HasScope("enrichment:read"))
	assert.False(t, k.HasScope("analytics:read"))

	admin := &KeyRecord{Scopes: []string{"admin:*"}}
	assert.True(t, admin.HasScope("anything:at-all"))
}

func TestSplitNonEmptyRoundTrip(t *testing.T) {
	assert.Nil(t, splitNonEmpty(""))
	assert.Equal(t, []string{"a", "b"}, splitNonEmpty("a,b"))
}

func TestExpiredKeyRejected(t *testing.T) {
	key := newTestKey("jen_abc123", nil, nil)
	past := time.Now().Add(-time.Hour)
	key.ExpiresAt = &past
	lookup := &fakeLookup{byHash: map[string]*KeyRecord{key.KeyHash: key}}
	a := New(lookup, &fakeRecorder{}, zerolog.Nop())
	defer a.Close()

	r := httptest.NewRequest(http.MethodGet, "/enrichment/status/1", nil)
	r.Header.Set("X-API-Key", "jen_abc123")
	_, err := a.Authenticate(r, "")
	assert.Error(t, err)
}
