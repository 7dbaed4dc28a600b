package auth

import (
	"fmt"
	"net/http"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/jengu/pricing-core/internal/apperr"
)

// SessionAuthenticator verifies the HMAC-signed session JWTs issued by
// the external frontend's login flow (spec.md §4.H's "flexible"
// authenticator delegation path). It never persists state of its own;
// the token itself carries user_id/role/scopes as claims.
type SessionAuthenticator struct {
	secret []byte
}

func NewSessionAuthenticator(secret string) *SessionAuthenticator {
	return &SessionAuthenticator{secret: []byte(secret)}
}

// Authenticate parses and verifies tokenStr, returning the Principal
// carried in its claims.
func (s *SessionAuthenticator) Authenticate(tokenStr string) (*Principal, error) {
	token, err := jwtlib.Parse(tokenStr, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, apperr.Authentication("invalid session token")
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, apperr.Authentication("invalid session claims")
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		return nil, apperr.Authentication("session token missing sub claim")
	}
	role, _ := claims["role"].(string)
	if role == "" {
		role = string(RoleReadOnly)
	}

	var scopes []string
	if raw, ok := claims["scopes"].([]interface{}); ok {
		for _, s := range raw {
			if str, ok := s.(string); ok {
				scopes = append(scopes, str)
			}
		}
	}

	return &Principal{UserID: userID, Role: Role(role), Scopes: scopes}, nil
}

// FlexibleAuthenticator routes a presented credential to the API-key
// path or the session-JWT path based on its prefix (spec.md §4.H's
// "flexible authenticator").
type FlexibleAuthenticator struct {
	keys    *Authenticator
	session *SessionAuthenticator
}

func NewFlexibleAuthenticator(keys *Authenticator, session *SessionAuthenticator) *FlexibleAuthenticator {
	return &FlexibleAuthenticator{keys: keys, session: session}
}

// Authenticate dispatches on the presented credential's form: a jen_
// prefix routes to the API-key authenticator (with its usage-record
// side effect); anything else is treated as a session JWT.
func (f *FlexibleAuthenticator) Authenticate(r *http.Request, requiredScope string) (*Principal, error) {
	presented, ok := extractKey(r)
	if ok && IsAPIKey(presented) {
		return f.keys.Authenticate(r, requiredScope)
	}
	if !ok {
		return nil, apperr.Authentication("missing credentials")
	}

	principal, err := f.session.Authenticate(strings.TrimSpace(presented))
	if err != nil {
		return nil, err
	}
	if requiredScope != "" && !principal.HasScope(requiredScope) {
		return nil, apperr.Authorization("insufficient_scope")
	}
	return principal, nil
}
