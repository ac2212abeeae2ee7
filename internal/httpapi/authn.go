package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"booky.app/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// requireAuth verifies the bearer access token (signature, expiry and
// blacklist) before calling next.
func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeAuthError(w, r, auth.ErrUnauthorized)
			return
		}
		principal, err := a.auth.Authenticate(r.Context(), raw)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		next(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
