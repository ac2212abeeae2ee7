package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                             "/",
		"/metrics":                     "/metrics",
		"/v1/auth/login":               "/v1/auth/login",
		"/v1/auth/login/":              "/v1/auth/login",
		"/v1/auth/verify-email?token=": "/v1/auth/verify-email",
		"/v1/accounts/me":              "/v1/accounts/me",
		"/v1/accounts/abc":             "other",
		"/wp-admin":                    "other",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsRequests(t *testing.T) {
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "204"))

	handler := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "204"))
	if after-before != 1 {
		t.Fatalf("expected counter to grow by 1, got %v", after-before)
	}
}

func TestAuthEventCounter(t *testing.T) {
	before := testutil.ToFloat64(authEventsTotal.WithLabelValues("login"))
	AuthEvent("login")
	if got := testutil.ToFloat64(authEventsTotal.WithLabelValues("login")); got-before != 1 {
		t.Fatalf("expected auth event increment, got %v", got-before)
	}
}
