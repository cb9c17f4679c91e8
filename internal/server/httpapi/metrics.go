package httpapi

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's collectors on a private registry.
type Metrics struct {
	reg         *prometheus.Registry
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	submissions *prometheus.CounterVec
}

// NewMetrics registers request, latency and submission collectors plus the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quizdeck_requests_total",
				Help: "Backend requests by action and HTTP status.",
			},
			[]string{"action", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quizdeck_request_duration_seconds",
				Help:    "Backend request latency by action.",
				Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"action"},
		),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quizdeck_result_submissions_total",
				Help: "Submitted results by outcome (stored or duplicate).",
			},
			[]string{"outcome"},
		),
	}
	m.reg.MustRegister(
		m.requests, m.duration, m.submissions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// middleware records every request under the action the handler resolved.
func (m *Metrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		action := c.GetString(actionKey)
		if action == "" {
			action = "none"
		}
		m.requests.WithLabelValues(action, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) submitted(duplicate bool) {
	outcome := "stored"
	if duplicate {
		outcome = "duplicate"
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
