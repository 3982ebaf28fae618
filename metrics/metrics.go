// Package metrics exposes prometheus counters for token checks, relationship
// transitions and HTTP responses.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Token check results.
const (
	TokenValid   = "valid"
	TokenExpired = "expired"
	TokenInvalid = "invalid"
)

// Collector holds the service metrics.
type Collector struct {
	tokenChecks  *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	httpStatus   *prometheus.CounterVec
	httpDuration prometheus.Histogram
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokenChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moviemaster_token_checks_total",
			Help: "Session token verifications by result.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moviemaster_friendship_transitions_total",
			Help: "Friendship state changes by operation.",
		}, []string{"op"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moviemaster_http_responses_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
		httpDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "moviemaster_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(c.tokenChecks, c.transitions, c.httpStatus, c.httpDuration)
	return c
}

// TokenCheck records one token verification.
func (c *Collector) TokenCheck(result string) {
	c.tokenChecks.WithLabelValues(result).Inc()
}

// FriendshipTransition records one relationship change.
func (c *Collector) FriendshipTransition(op string) {
	c.transitions.WithLabelValues(op).Inc()
}

// Middleware records status and latency for every request.
func (c *Collector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		c.httpStatus.WithLabelValues(strconv.Itoa(ctx.Writer.Status())).Inc()
		c.httpDuration.Observe(time.Since(start).Seconds())
	}
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
