// metrics.go - Prometheus instrumentation for the ledger engine and its HTTP host.

package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"cctoken/internal/ledger"
)

const namespace = "cct"

// Collector owns a registry and implements ledger.Observer.
type Collector struct {
	registry *prometheus.Registry

	committed       *prometheus.CounterVec
	rejected        *prometheus.CounterVec
	applyDuration   *prometheus.HistogramVec
	totalSupply     prometheus.Gauge
	invariantChecks *prometheus.CounterVec
	accounts        prometheus.Gauge

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

var _ ledger.Observer = (*Collector)(nil)

// NewCollector registers all metrics on a fresh registry. withRuntime adds the Go and
// process collectors.
func NewCollector(withRuntime bool) *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		committed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_committed_total",
			Help:      "Operations committed, by kind.",
		}, []string{"op"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_rejected_total",
			Help:      "Operations rejected, by kind, gate and reason.",
		}, []string{"op", "gate", "reason"}),
		applyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "apply_duration_seconds",
			Help:      "Time to validate and commit an operation.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"op"}),
		totalSupply: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "total_supply",
			Help:      "Public total supply.",
		}),
		invariantChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "invariant_checks_total",
			Help:      "Supply invariant audits, by result.",
		}, []string{"result"}),
		accounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "accounts",
			Help:      "Accounts seen by the last invariant audit.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests, by method, route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		c.committed, c.rejected, c.applyDuration, c.totalSupply,
		c.invariantChecks, c.accounts, c.requests, c.requestDuration,
	)
	if withRuntime {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) OperationCommitted(kind ledger.OpKind, elapsed time.Duration) {
	c.committed.WithLabelValues(string(kind)).Inc()
	c.applyDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

func (c *Collector) OperationRejected(kind ledger.OpKind, gate ledger.Stage, reason error) {
	c.rejected.WithLabelValues(string(kind), string(gate), reasonLabel(reason)).Inc()
}

func (c *Collector) SupplyChanged(total decimal.Decimal) {
	c.totalSupply.Set(total.InexactFloat64())
}

func (c *Collector) InvariantChecked(ok bool, accounts int) {
	result := "ok"
	if !ok {
		result = "violated"
	}
	c.invariantChecks.WithLabelValues(result).Inc()
	c.accounts.Set(float64(accounts))
}

// Middleware records request counts and latency per route template.
func (c *Collector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := ctx.Request.Method
		c.requests.WithLabelValues(method, route, strconv.Itoa(ctx.Writer.Status())).Inc()
		c.requestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

func reasonLabel(kind error) string {
	switch {
	case errors.Is(kind, ledger.ErrReplay):
		return "replay"
	case errors.Is(kind, ledger.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(kind, ledger.ErrConservation):
		return "conservation"
	case errors.Is(kind, ledger.ErrInvalidAllowance):
		return "invalid_allowance"
	case errors.Is(kind, ledger.ErrInvariantViolation):
		return "invariant"
	case errors.Is(kind, ledger.ErrMalformedParameters):
		return "malformed"
	default:
		return "other"
	}
}
