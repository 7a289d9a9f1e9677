package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestDomainCounters(t *testing.T) {
	m := New()
	m.OrderCommitted()
	m.OrderCommitted()
	m.CommitFailed()
	m.CheckoutInitiated()
	m.OrderPaid(3400)
	m.GatewayError("verify")
	m.Update("message")

	if got := testutil.ToFloat64(m.Orders.WithLabelValues("committed")); got != 2 {
		t.Errorf("committed: %v", got)
	}
	if got := testutil.ToFloat64(m.Orders.WithLabelValues("commit_failed")); got != 1 {
		t.Errorf("commit_failed: %v", got)
	}
	if got := testutil.ToFloat64(m.Revenue); got != 3400 {
		t.Errorf("revenue: %v", got)
	}
	if got := testutil.ToFloat64(m.GatewayErrors.WithLabelValues("verify")); got != 1 {
		t.Errorf("gateway errors: %v", got)
	}
	if got := testutil.ToFloat64(m.Updates.WithLabelValues("message")); got != 1 {
		t.Errorf("updates: %v", got)
	}
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.CheckoutInitiated()
	if got := testutil.ToFloat64(b.Checkouts); got != 0 {
		t.Errorf("registries share state: %v", got)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/orders/:id", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	for _, path := range []string{"/orders/1", "/orders/2", "/missing"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	if got := testutil.ToFloat64(m.Requests.WithLabelValues("/orders/:id", "200")); got != 2 {
		t.Errorf("route counter: %v", got)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "campus_order_bot_http_requests_total") {
		t.Errorf("metrics output missing counter:\n%s", rec.Body.String())
	}
}
