package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	testCases := []struct {
		name       string
		method     string
		path       string
		statusCode int
	}{
		{
			name:       "normalizes leg path",
			method:     http.MethodGet,
			path:       "/api/v1/ledger/legs/ABC123",
			statusCode: http.StatusTeapot,
		},
		{
			name:       "keeps non-matching path as-is",
			method:     http.MethodPost,
			path:       "/health",
			statusCode: http.StatusCreated,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			httpRequestsTotal.Reset()
			httpRequestDuration.Reset()
			httpRequestsInFlight.Set(0)

			handlerCalled := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
				w.WriteHeader(tc.statusCode)
			})

			req := httptest.NewRequest(tc.method, tc.path, nil)
			rr := httptest.NewRecorder()

			Metrics(next).ServeHTTP(rr, req)

			if !handlerCalled {
				t.Fatalf("next handler was not invoked")
			}

			if got := testutil.ToFloat64(httpRequestsInFlight); got != 0 {
				t.Fatalf("expected in-flight gauge to return to 0, got %v", got)
			}

			normalized := normalizePath(tc.path)
			counter := httpRequestsTotal.WithLabelValues(tc.method, normalized, strconv.Itoa(tc.statusCode))
			if got := testutil.ToFloat64(counter); got != 1 {
				t.Fatalf("expected counter to be 1, got %v", got)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "leg path",
			input:    "/api/v1/ledger/legs/ABC123",
			expected: "/api/v1/ledger/legs/:id",
		},
		{
			name:     "group path",
			input:    "/api/v1/ledger/groups/G-1",
			expected: "/api/v1/ledger/groups/:id",
		},
		{
			name:     "mapping version",
			input:    "/api/v1/mapping/versions/7",
			expected: "/api/v1/mapping/versions/:id",
		},
		{
			name:     "resolve with suffix",
			input:    "/api/v1/reconciliation/01XYZ/resolve",
			expected: "/api/v1/reconciliation/:id/resolve",
		},
		{
			name:     "reconciliation export kept",
			input:    "/api/v1/reconciliation/export",
			expected: "/api/v1/reconciliation/export",
		},
		{
			name:     "collection root kept",
			input:    "/api/v1/ledger/legs",
			expected: "/api/v1/ledger/legs",
		},
		{
			name:     "non-matching path",
			input:    "/health",
			expected: "/health",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := normalizePath(tc.input); got != tc.expected {
				t.Fatalf("normalizePath(%q) = %q, expected %q", tc.input, got, tc.expected)
			}
		})
	}
}
