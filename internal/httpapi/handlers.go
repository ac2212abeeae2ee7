package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"booky.app/internal/auth"
	"booky.app/internal/config"
	"booky.app/internal/kvstore"
	"booky.app/internal/obs"
	"booky.app/internal/registration"
	"booky.app/internal/session"
	"booky.app/internal/users"
)

const (
	serviceName  = "booky-accounts"
	maxBodyBytes = 1 << 20
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe checks the key-value store and the user directory.
type ReadyProbe struct {
	Store kvstore.Store
	Users users.Directory
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	var errs []error
	if rp.Store != nil {
		if err := rp.Store.Ping(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if rp.Users != nil {
		if err := rp.Users.Ping(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Options wires the API.
type Options struct {
	Auth         *auth.Service
	Registration *registration.Service
	Cookie       config.CookieConfig
	Readiness    readinessChecker
	Version      string
	RateBurst    int
	RatePerSec   int
	CORSOrigins  []string
}

// API is the HTTP boundary of the accounts service.
type API struct {
	mux        *http.ServeMux
	auth       *auth.Service
	reg        *registration.Service
	cookie     sessionCookie
	readiness  readinessChecker
	version    string
	rateBurst  int
	ratePerSec int
	origins    []string
}

func New(opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		auth:       opts.Auth,
		reg:        opts.Registration,
		cookie:     newSessionCookie(opts.Cookie),
		readiness:  opts.Readiness,
		version:    opts.Version,
		rateBurst:  opts.RateBurst,
		ratePerSec: opts.RatePerSec,
		origins:    opts.CORSOrigins,
	}
	if a.readiness == nil {
		a.readiness = ReadyProbe{}
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("POST /v1/auth/register/resend", a.handleResend)
	a.mux.HandleFunc("GET /v1/auth/verify-email", a.handleVerifyEmail)
	a.mux.HandleFunc("POST /v1/auth/verify-email", a.handleVerifyEmail)
	a.mux.HandleFunc("POST /v1/auth/register/complete", a.handleComplete)
	a.mux.HandleFunc("GET /v1/auth/username-available", a.handleUsernameAvailable)
	a.mux.HandleFunc("POST /v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("POST /v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("GET /v1/accounts/me", a.requireAuth(a.handleMe))
	a.mux.HandleFunc("DELETE /v1/accounts/me", a.requireAuth(a.handleDeleteAccount))

	return a
}

// Handler returns the fully wrapped http.Handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.origins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) cookieMode() bool {
	return a.auth.Strategy().Mode() == session.ModeCookie
}
