package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"payerbook.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	msgNoToken      = "No token provided"
	msgInvalidToken = "Invalid token"
)

var (
	errMissingToken = errors.New("missing bearer token")
	errBadScheme    = errors.New("invalid authorization scheme")
)

// withAuth verifies the bearer access token without touching the store and
// attaches the caller identity to the request context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			msg := msgNoToken
			if errors.Is(err, errBadScheme) {
				msg = msgInvalidToken
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="payerbook"`)
			writeError(w, r, http.StatusUnauthorized, msg)
			return
		}

		id, err := a.tokens.VerifyAccess(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="payerbook", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, msgInvalidToken)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), id)))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingToken
	}
	scheme, rest, found := strings.Cut(header, " ")
	if !found || strings.TrimSpace(rest) == "" {
		return "", errMissingToken
	}
	if !strings.EqualFold(scheme, strings.TrimSpace(bearer)) {
		return "", errBadScheme
	}
	return strings.TrimSpace(rest), nil
}
