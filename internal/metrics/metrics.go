// Package metrics - счётчики Prometheus для бота и HTTP-сервера.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "campus_order_bot"

type Metrics struct {
	registry *prometheus.Registry

	Orders        *prometheus.CounterVec
	Checkouts     prometheus.Counter
	Revenue       prometheus.Counter
	GatewayErrors *prometheus.CounterVec
	Updates       *prometheus.CounterVec
	Requests      *prometheus.CounterVec
	LatencyMS     *prometheus.HistogramVec
}

// New регистрирует метрики в собственном реестре, чтобы тесты не конфликтовали с глобальным.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Orders by outcome: committed, commit_failed, paid.",
		}, []string{"result"}),
		Checkouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_initiated_total",
			Help:      "Payment links issued.",
		}),
		Revenue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paid_revenue_total",
			Help:      "Sum of paid orders in currency units.",
		}),
		GatewayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_errors_total",
			Help:      "Payment gateway failures by operation.",
		}, []string{"op"}),
		Updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegram_updates_total",
			Help:      "Telegram updates by kind.",
		}, []string{"kind"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
	}
	m.registry.MustRegister(m.Orders, m.Checkouts, m.Revenue, m.GatewayErrors, m.Updates, m.Requests, m.LatencyMS)
	return m
}

func (m *Metrics) OrderCommitted()    { m.Orders.WithLabelValues("committed").Inc() }
func (m *Metrics) CommitFailed()      { m.Orders.WithLabelValues("commit_failed").Inc() }
func (m *Metrics) CheckoutInitiated() { m.Checkouts.Inc() }

func (m *Metrics) OrderPaid(amount int64) {
	m.Orders.WithLabelValues("paid").Inc()
	m.Revenue.Add(float64(amount))
}

func (m *Metrics) GatewayError(op string) { m.GatewayErrors.WithLabelValues(op).Inc() }

// Update считает входящее обновление Telegram: message, callback, other.
func (m *Metrics) Update(kind string) { m.Updates.WithLabelValues(kind).Inc() }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware считает запросы и задержку по шаблону маршрута.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
			m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
			return err
		}
	}
}
