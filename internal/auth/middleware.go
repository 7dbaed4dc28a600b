package auth

import (
	"encoding/json"
	"net/http"

	"github.com/jengu/pricing-core/internal/apperr"
)

// RequestAuthenticator is the narrow interface both the plain API-key
// Authenticator and FlexibleAuthenticator satisfy, letting the server
// wire either without caring which.
type RequestAuthenticator interface {
	Authenticate(r *http.Request, requiredScope string) (*Principal, error)
}

// RequireScope returns chi-compatible middleware that authenticates the
// request against requiredScope and attaches the resulting Principal to
// the request context, or writes a 401/403 per the error's apperr.Kind.
func RequireScope(a RequestAuthenticator, requiredScope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := a.Authenticate(r, requiredScope)
			if err != nil {
				writeAuthError(w, err)
				return
			}
			ctx := WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeAuthError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(kind))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":      err.Error(),
		"error_type": string(kind),
	})
}
