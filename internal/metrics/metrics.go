// Package metrics exposes the service's Prometheus counters on a private
// registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the service records.
type Collector struct {
	registry *prometheus.Registry

	// browser-facing HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// calls to the review API
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec

	ReviewOutcomes     *prometheus.CounterVec
	ModerationOutcomes *prometheus.CounterVec
	ActiveTabs         prometheus.Gauge
}

func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Requests sent to the review API",
		}, []string{"route", "status"}),
		APIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Review API latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		ReviewOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "review_submissions_total",
			Help:      "Review submission attempts by outcome",
		}, []string{"status"}),
		ModerationOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moderation_actions_total",
			Help:      "Moderation clicks by action and outcome",
		}, []string{"action", "status"}),
		ActiveTabs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tabs",
			Help:      "Tabs with live state in this process",
		}),
	}
	c.registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.APIRequests,
		c.APIDuration,
		c.ReviewOutcomes,
		c.ModerationOutcomes,
		c.ActiveTabs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveAPI records one review API call. status 0 means no response.
func (c *Collector) ObserveAPI(route string, status int, d time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	c.APIRequests.WithLabelValues(route, label).Inc()
	c.APIDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (c *Collector) ReviewOutcome(status string) {
	c.ReviewOutcomes.WithLabelValues(status).Inc()
}

func (c *Collector) ModerationOutcome(action, status string) {
	c.ModerationOutcomes.WithLabelValues(action, status).Inc()
}

func (c *Collector) SetActiveTabs(n int) {
	c.ActiveTabs.Set(float64(n))
}
