package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Delete("/entities/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/reconcile", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	r.Get("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	return r
}

func serve(r http.Handler, method, path string) int {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(method, path, http.NoBody))
	return rr.Code
}

func TestMiddleware_RecordsByRoutePattern(t *testing.T) {
	r := newRouter()

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("DELETE", "/entities/{id}", "200"))
	serve(r, http.MethodDelete, "/entities/abc")
	serve(r, http.MethodDelete, "/entities/xyz")

	got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("DELETE", "/entities/{id}", "200"))
	if got-before != 2 {
		t.Errorf("requests for /entities/{id}: got +%v, want +2", got-before)
	}
	if n := testutil.CollectAndCount(httpRequestDuration); n == 0 {
		t.Error("expected duration observations")
	}
}

func TestMiddleware_StatusCodes(t *testing.T) {
	r := newRouter()

	tests := []struct {
		method, path, route, status string
	}{
		{"GET", "/stats", "/stats", "200"},
		{"POST", "/reconcile", "/reconcile", "429"},
		{"GET", "/nope", unmatchedRoute, "404"},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(tc.method, tc.route, tc.status))
			serve(r, tc.method, tc.path)
			got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(tc.method, tc.route, tc.status))
			if got-before != 1 {
				t.Errorf("%s %s: got +%v, want +1", tc.method, tc.path, got-before)
			}
		})
	}
}

func TestMiddleware_SkipsMetricsScrape(t *testing.T) {
	r := newRouter()

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/metrics", "200"))
	if code := serve(r, http.MethodGet, "/metrics"); code != http.StatusOK {
		t.Fatalf("status: got %d", code)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/metrics", "200")); got != before {
		t.Errorf("scrape was recorded: %v -> %v", before, got)
	}
}

func TestMiddleware_InFlightReturnsToZero(t *testing.T) {
	r := newRouter()
	serve(r, http.MethodGet, "/stats")

	if got := testutil.ToFloat64(httpRequestsInFlight); got != 0 {
		t.Errorf("in-flight after request: got %v, want 0", got)
	}
}

func TestRouteLabel_NoRouteContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", http.NoBody)
	if got := routeLabel(req); got != unmatchedRoute {
		t.Errorf("routeLabel = %q, want %q", got, unmatchedRoute)
	}
}

func TestRegister_Idempotent(t *testing.T) {
	Register()
	Register()
}
