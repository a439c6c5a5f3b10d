package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMetricsHandlerExposesDomainCounters(t *testing.T) {
	metrics := NewMetrics()
	metrics.EntryCreated("AUTOMATIC")
	metrics.EntryFailed("PERIOD_CLOSED")
	metrics.ReversalCreated()
	metrics.MovementProcessed("IN")
	metrics.SetQuarantinePending(3)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metrics.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`ledgergate_journal_entries_total{entry_type="AUTOMATIC"} 1`,
		`ledgergate_journal_entry_failures_total{code="PERIOD_CLOSED"} 1`,
		`ledgergate_journal_reversals_total 1`,
		`ledgergate_stock_movements_total{movement_type="IN"} 1`,
		`ledgergate_quarantine_pending 3`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected body to contain %q, got: %s", want, body)
		}
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	body := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(body, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(body.Body.String(), `ledgergate_http_requests_total{code="418",route="/test"} 1`) {
		t.Fatalf("expected request counter for /test, got: %s", body.Body.String())
	}
}

func TestNilMetricsAreInert(t *testing.T) {
	var metrics *Metrics
	metrics.EntryCreated("MANUAL")
	metrics.SetQuarantinePending(1)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
}
