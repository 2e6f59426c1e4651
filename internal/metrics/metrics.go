// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitedTotal           *prometheus.CounterVec

	once sync.Once
)

// Init initializes the HTTP collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_rate_limited_total",
				Help: "Requests rejected by the rate limiter, labeled by backend.",
			},
			[]string{"backend"},
		)
	})
}

// QueueStatusFunc reports current queue occupancy.
type QueueStatusFunc func() (pending, running int)

// RegisterQueueGauges exposes scraper_queue_pending and scraper_queue_running
// as gauges sampled from status at scrape time. A nil reg means the default
// registerer; an already registered pair is left in place.
func RegisterQueueGauges(reg prometheus.Registerer, status QueueStatusFunc) error {
	if status == nil {
		return errors.New("queue status func is required")
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "scraper_queue_pending",
			Help: "Jobs waiting for a free slot.",
		}, func() float64 {
			pending, _ := status()
			return float64(pending)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "scraper_queue_running",
			Help: "Jobs currently holding a slot.",
		}, func() float64 {
			_, running := status()
			return float64(running)
		}),
	}
	for _, g := range gauges {
		if err := reg.Register(g); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return fmt.Errorf("register queue gauge: %w", err)
		}
	}
	return nil
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimited counts a rejected request for backend ("redis" or "memory").
func ObserveRateLimited(backend string) {
	if rateLimitedTotal == nil {
		return
	}
	rateLimitedTotal.WithLabelValues(backend).Inc()
}
