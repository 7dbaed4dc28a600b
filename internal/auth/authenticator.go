package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jengu/pricing-core/internal/apperr"
)

const apiKeyPrefix = "jen_"

type contextKey string

const principalKey contextKey = "auth_principal"

// KeyLookup resolves a presented key's hash to its record. Satisfied by
// *Repository; tests substitute an in-memory stub.
type KeyLookup interface {
	ByHash(keyHash string) (*KeyRecord, error)
}

// UsageRecorder persists a usage record. Satisfied by *Repository.
type UsageRecorder interface {
	RecordUsage(u UsageRecord) error
}

// Authenticator implements spec.md §4.H's per-request API-key checks.
// Usage records are written on a background goroutine draining a
// buffered channel so RecordUsage latency never delays the response.
type Authenticator struct {
	lookup   KeyLookup
	recorder UsageRecorder
	log      zerolog.Logger

	usage chan UsageRecord
	done  chan struct{}
}

// New starts the background usage-record drain goroutine. Call Close on
// shutdown to stop it.
func New(lookup KeyLookup, recorder UsageRecorder, log zerolog.Logger) *Authenticator {
	a := &Authenticator{
		lookup:   lookup,
		recorder: recorder,
		log:      log.With().Str("component", "auth").Logger(),
		usage:    make(chan UsageRecord, 256),
		done:     make(chan struct{}),
	}
	go a.drainUsage()
	return a
}

// Close stops the usage drain goroutine once the channel empties.
func (a *Authenticator) Close() {
	close(a.usage)
	<-a.done
}

func (a *Authenticator) drainUsage() {
	defer close(a.done)
	for u := range a.usage {
		if err := a.recorder.RecordUsage(u); err != nil {
			a.log.Warn().Err(err).Str("key_id", u.KeyID).Msg("failed to record api key usage")
		}
	}
}

// Authenticate runs spec.md §4.H steps 1-6 and returns the attached
// Principal on success. requiredScope is checked when non-empty.
func (a *Authenticator) Authenticate(r *http.Request, requiredScope string) (*Principal, error) {
	start := time.Now()
	principal, err := a.authenticate(r, requiredScope)

	status := http.StatusOK
	errorType := ""
	keyID := ""
	if principal != nil {
		keyID = principal.KeyID
	}
	if err != nil {
		status = apperr.HTTPStatus(apperr.KindOf(err))
		errorType = string(apperr.KindOf(err))
	}

	a.enqueueUsage(UsageRecord{
		KeyID:     keyID,
		Endpoint:  r.URL.Path,
		Method:    r.Method,
		Status:    status,
		LatencyMs: time.Since(start).Milliseconds(),
		IP:        clientIP(r),
		ErrorType: errorType,
		CreatedAt: time.Now().UTC(),
	})

	return principal, err
}

func (a *Authenticator) authenticate(r *http.Request, requiredScope string) (*Principal, error) {
	presented, ok := extractKey(r)
	if !ok {
		return nil, apperr.Authentication("missing API key")
	}

	hash := hashKey(presented)
	key, err := a.lookup.ByHash(hash)
	if err != nil {
		return nil, err
	}
	if !key.IsActive {
		return nil, apperr.Authentication("invalid_api_key")
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return nil, apperr.Authentication("invalid_api_key")
	}

	if len(key.AllowedIPs) > 0 && !ipAllowed(clientIP(r), key.AllowedIPs) {
		return nil, apperr.Authorization("ip_not_allowed")
	}

	if requiredScope != "" && !key.HasScope(requiredScope) {
		return nil, apperr.Authorization("insufficient_scope")
	}

	return &Principal{
		KeyID:  key.KeyID,
		UserID: key.UserID,
		Role:   key.Role,
		Scopes: key.Scopes,
		Quotas: key.Quotas,
	}, nil
}

func (a *Authenticator) enqueueUsage(u UsageRecord) {
	select {
	case a.usage <- u:
	default:
		a.log.Warn().Str("key_id", u.KeyID).Msg("usage record buffer full, dropping")
	}
}

// HashKey is the exported form of hashKey, for provisioning tools that
// need to store a key's hash without going through a request.
func HashKey(presented string) string {
	return hashKey(presented)
}

func hashKey(presented string) string {
	sum := sha256.Sum256([]byte(presented))
	return hex.EncodeToString(sum[:])
}

// extractKey implements spec.md §4.H step 1: Authorization: Bearer,
// Authorization: bare, or X-API-Key.
func extractKey(r *http.Request) (string, bool) {
	if v := r.Header.Get("X-API-Key"); v != "" {
		return v, true
	}
	if v := r.Header.Get("Authorization"); v != "" {
		return strings.TrimSpace(strings.TrimPrefix(v, "Bearer")), true
	}
	return "", false
}

// IsAPIKey reports whether a presented credential is an API key (vs. a
// session JWT), per its stable jen_ prefix.
func IsAPIKey(presented string) bool {
	return strings.HasPrefix(presented, apiKeyPrefix)
}

func ipAllowed(ip string, allowed []string) bool {
	for _, a := range allowed {
		if strings.TrimSpace(a) == ip {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext recovers the Principal attached by the
// authenticator middleware.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}
