package metrics

import (
	"net/http"

	"github.com/newthinker/dexfeed/internal/cache"
	"github.com/newthinker/dexfeed/internal/poller"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics.
type Registry struct {
	*prometheus.Registry

	// Feed metrics
	pollCycles    *prometheus.CounterVec
	pollDuration  *prometheus.HistogramVec
	lastSuccess   *prometheus.GaugeVec
	cacheWrites   *prometheus.CounterVec
	feedsActive   prometheus.Gauge
	blacklistSize *prometheus.GaugeVec

	// Transport metrics
	transportRequests *prometheus.CounterVec
	transportDuration *prometheus.HistogramVec
	transportInFlight prometheus.Gauge
}

var (
	_ poller.Observer     = (*Registry)(nil)
	_ cache.WriteObserver = (*Registry)(nil)
)

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		pollCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dexfeed_poll_cycles_total",
				Help: "Total number of feed cycles by outcome",
			},
			[]string{"feed", "outcome"},
		),

		pollDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dexfeed_poll_cycle_duration_seconds",
				Help:    "Duration of feed cycles that reached the transport",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"feed"},
		),

		lastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dexfeed_feed_last_success_timestamp_seconds",
				Help: "Unix time of the last successful cycle per feed",
			},
			[]string{"feed"},
		),

		cacheWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dexfeed_cache_writes_total",
				Help: "Total number of cache writes by consumer and status",
			},
			[]string{"consumer", "status"},
		),

		feedsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dexfeed_feeds_active",
				Help: "Number of feeds currently polling",
			},
		),

		blacklistSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dexfeed_blacklist_size",
				Help: "Number of blacklisted addresses per adapter",
			},
			[]string{"adapter"},
		),
	}

	reg.MustRegister(r.pollCycles)
	reg.MustRegister(r.pollDuration)
	reg.MustRegister(r.lastSuccess)
	reg.MustRegister(r.cacheWrites)
	reg.MustRegister(r.feedsActive)
	reg.MustRegister(r.blacklistSize)

	// Transport metrics
	r.transportRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dexfeed_transport_requests_total",
			Help: "Total number of upstream HTTP requests",
		},
		[]string{"host", "status"},
	)
	r.transportDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dexfeed_transport_request_duration_seconds",
			Help:    "Upstream HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host"},
	)
	r.transportInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dexfeed_transport_requests_in_flight",
			Help: "Number of upstream HTTP requests currently in flight",
		},
	)

	reg.MustRegister(r.transportRequests)
	reg.MustRegister(r.transportDuration)
	reg.MustRegister(r.transportInFlight)

	return r
}

// ObserveCycle records a feed cycle result.
func (r *Registry) ObserveCycle(res poller.Result) {
	r.pollCycles.WithLabelValues(res.Feed, res.Outcome.String()).Inc()
	if res.Ran() {
		r.pollDuration.WithLabelValues(res.Feed).Observe(res.Duration.Seconds())
	}
	if res.Outcome == poller.OutcomeSucceeded {
		r.lastSuccess.WithLabelValues(res.Feed).Set(float64(res.Started.Add(res.Duration).Unix()))
	}
}

// ObserveCacheWrite records a cache write.
func (r *Registry) ObserveCacheWrite(key cache.Key, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.cacheWrites.WithLabelValues(key.Consumer, status).Inc()
}

// SetFeedsActive sets the number of polling feeds.
func (r *Registry) SetFeedsActive(n int) {
	r.feedsActive.Set(float64(n))
}

// SetBlacklistSize sets the blacklist size for an adapter.
func (r *Registry) SetBlacklistSize(adapter string, n int) {
	r.blacklistSize.WithLabelValues(adapter).Set(float64(n))
}

// RecordRequest records metrics for an upstream HTTP request.
func (r *Registry) RecordRequest(host string, status int, duration float64) {
	r.transportRequests.WithLabelValues(host, statusToString(status)).Inc()
	r.transportDuration.WithLabelValues(host).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	r.transportInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	r.transportInFlight.Dec()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{Registry: r.Registry})
}

func statusToString(status int) string {
	switch {
	case status == 0:
		return "error"
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
