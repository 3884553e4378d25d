// Package metrics holds the Prometheus collectors for the case review
// service. All recording methods are safe on a nil *Metrics so that
// packages can be used without metrics wired in.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	CaseTransitions *prometheus.CounterVec
	ClaimConflicts  prometheus.Counter
	LedgerWrites    *prometheus.CounterVec
	HISRecords      *prometheus.CounterVec
	OutboxPublished prometheus.Counter
	OutboxFailed    prometheus.Counter
	OutboxPending   prometheus.Gauge
	BreakerState    *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates and registers all collectors on reg. Passing nil uses a fresh
// registry with the Go and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casereview_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "casereview_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route"}),
		CaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casereview_case_transitions_total",
			Help: "Committed case status transitions by event",
		}, []string{"event", "to"}),
		ClaimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "casereview_claim_conflicts_total",
			Help: "Coder claims rejected because the case was taken or not claimable",
		}),
		LedgerWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casereview_adjrw_writes_total",
			Help: "AdjRW ledger writes, split by whether the rate snapshot was already frozen",
		}, []string{"frozen"}),
		HISRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casereview_his_records_total",
			Help: "Discharge records seen by ingestion source and outcome",
		}, []string{"source", "outcome"}),
		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "casereview_outbox_published_total",
			Help: "Case events published from the outbox",
		}),
		OutboxFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "casereview_outbox_failed_total",
			Help: "Case event publish attempts that failed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "casereview_outbox_pending_entries",
			Help: "Unpublished outbox entries",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "casereview_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.CaseTransitions,
		m.ClaimConflicts,
		m.LedgerWrites,
		m.HISRecords,
		m.OutboxPublished,
		m.OutboxFailed,
		m.OutboxPending,
		m.BreakerState,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per registered route.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func (m *Metrics) Transition(event, to string) {
	if m == nil {
		return
	}
	m.CaseTransitions.WithLabelValues(event, to).Inc()
}

func (m *Metrics) ClaimConflict() {
	if m == nil {
		return
	}
	m.ClaimConflicts.Inc()
}

func (m *Metrics) LedgerWrite(frozen bool) {
	if m == nil {
		return
	}
	m.LedgerWrites.WithLabelValues(strconv.FormatBool(frozen)).Inc()
}

func (m *Metrics) HISRecord(source, outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.HISRecords.WithLabelValues(source, outcome).Add(float64(n))
}

func (m *Metrics) OutboxResult(published, failed int, pending int64) {
	if m == nil {
		return
	}
	m.OutboxPublished.Add(float64(published))
	m.OutboxFailed.Add(float64(failed))
	m.OutboxPending.Set(float64(pending))
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}
