package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"booky.app/internal/audit"
	"booky.app/internal/auth"
	"booky.app/internal/obs"
	"booky.app/internal/registration"
)

const genericAuthFailure = "authentication failed"

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg, RequestID: audit.RequestIDFromContext(r.Context())})
}

// writeAuthError maps the accounts error taxonomy onto HTTP. Credential and
// token failures share one message.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var limited *registration.RateLimitedError
	switch {
	case errors.As(err, &limited):
		secs := int(math.Ceil(limited.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeError(w, r, http.StatusTooManyRequests, "too many requests, try again later")
	case errors.Is(err, auth.ErrRateLimited):
		writeError(w, r, http.StatusTooManyRequests, "too many requests, try again later")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, inputMessage(err))
	case errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, r, http.StatusConflict, "email already registered")
	case errors.Is(err, auth.ErrNotVerified):
		writeError(w, r, http.StatusForbidden, "email not verified")
	case errors.Is(err, auth.ErrExpiredOrUnknownToken):
		writeError(w, r, http.StatusBadRequest, "confirmation link is invalid or expired")
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUnauthorized):
		w.Header().Set("WWW-Authenticate", `Bearer realm="booky"`)
		writeError(w, r, http.StatusUnauthorized, genericAuthFailure)
	case errors.Is(err, auth.ErrStoreUnavailable):
		obs.StoreError("http")
		obs.Logger().ErrorContext(r.Context(), "store unavailable", "path", r.URL.Path, "error", err.Error())
		writeError(w, r, http.StatusServiceUnavailable, "service temporarily unavailable")
	case errors.Is(err, auth.ErrDeliveryFailed):
		obs.Logger().ErrorContext(r.Context(), "email delivery failed", "path", r.URL.Path, "error", err.Error())
		writeError(w, r, http.StatusBadGateway, "could not send confirmation email")
	default:
		obs.Logger().ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err.Error())
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// inputMessage strips package prefixes so validation text is client-readable.
func inputMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, auth.ErrInvalidInput.Error()+": "); i >= 0 {
		return msg[i+len(auth.ErrInvalidInput.Error())+2:]
	}
	return "invalid input"
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return fmt.Errorf("request body too large")
		case errors.Is(err, io.EOF):
			return fmt.Errorf("request body is required")
		default:
			return fmt.Errorf("invalid JSON body")
		}
	}
	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}
