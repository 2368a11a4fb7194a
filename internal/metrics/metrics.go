package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns its registry so several instances can coexist in tests.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	// Scrape outcomes
	scrapesTotal   *prometheus.CounterVec
	scrapeDuration *prometheus.HistogramVec
	attemptsTotal  *prometheus.CounterVec
	cacheHits      *prometheus.CounterVec

	// Browser
	captchaTotal       *prometheus.CounterVec
	navigationStrategy *prometheus.CounterVec
	rateLimited        prometheus.Counter
	activeSessions     prometheus.Gauge

	// Proxies
	proxyChecks      *prometheus.CounterVec
	proxyQuarantined *prometheus.CounterVec
	badProxies       prometheus.Gauge

	// Work queue
	queueDepth prometheus.Gauge
	inFlight   prometheus.Gauge

	apiRequests *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec
}

func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		scrapesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scrapes_total",
				Help:      "Total number of scrape requests by outcome",
			},
			[]string{"platform", "result"},
		),
		scrapeDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scrape_duration_seconds",
				Help:      "End-to-end scrape duration in seconds",
				Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"platform"},
		),
		attemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Total number of scrape attempts by outcome",
			},
			[]string{"platform", "result"},
		),
		cacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Result cache lookups",
			},
			[]string{"result"},
		),
		captchaTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "captcha_total",
				Help:      "Captcha challenges by final state",
			},
			[]string{"state"},
		),
		navigationStrategy: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "navigation_strategy_total",
				Help:      "Navigation strategy that reached the product page",
			},
			[]string{"strategy"},
		),
		rateLimited: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Responses answered with HTTP 429",
			},
		),
		activeSessions: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Browser sessions currently open",
			},
		),
		proxyChecks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxy_checks_total",
				Help:      "Proxy health probes by result",
			},
			[]string{"result"},
		),
		proxyQuarantined: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxy_quarantined_total",
				Help:      "Proxies moved to the bad cache by reason",
			},
			[]string{"reason"},
		),
		badProxies: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "bad_proxies",
				Help:      "Proxies currently quarantined",
			},
		),
		queueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Scrape jobs waiting for a worker slot",
			},
		),
		inFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_in_flight",
				Help:      "Scrape jobs currently running",
			},
		),
		apiRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		apiDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}
}

// Handler exposes the collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) RecordScrape(platform, result string, seconds float64) {
	if c == nil {
		return
	}
	c.scrapesTotal.WithLabelValues(platform, result).Inc()
	c.scrapeDuration.WithLabelValues(platform).Observe(seconds)
}

func (c *Collector) RecordAttempt(platform, result string) {
	if c == nil {
		return
	}
	c.attemptsTotal.WithLabelValues(platform, result).Inc()
}

func (c *Collector) RecordCacheLookup(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheHits.WithLabelValues(result).Inc()
}

func (c *Collector) RecordCaptcha(state string) {
	if c == nil {
		return
	}
	c.captchaTotal.WithLabelValues(state).Inc()
}

func (c *Collector) RecordNavigation(strategy string) {
	if c == nil {
		return
	}
	c.navigationStrategy.WithLabelValues(strategy).Inc()
}

func (c *Collector) RecordRateLimited() {
	if c == nil {
		return
	}
	c.rateLimited.Inc()
}

func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.activeSessions.Inc()
}

func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.activeSessions.Dec()
}

func (c *Collector) RecordProxyCheck(ok bool) {
	if c == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	c.proxyChecks.WithLabelValues(result).Inc()
}

func (c *Collector) RecordProxyQuarantined(reason string, currentlyBad int) {
	if c == nil {
		return
	}
	c.proxyQuarantined.WithLabelValues(reason).Inc()
	c.badProxies.Set(float64(currentlyBad))
}

func (c *Collector) SetBadProxies(count int) {
	if c == nil {
		return
	}
	c.badProxies.Set(float64(count))
}

func (c *Collector) SetQueue(waiting, running int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(waiting))
	c.inFlight.Set(float64(running))
}

func (c *Collector) RecordAPIRequest(method, endpoint, status string, seconds float64) {
	if c == nil {
		return
	}
	c.apiRequests.WithLabelValues(method, endpoint, status).Inc()
	c.apiDuration.WithLabelValues(method, endpoint).Observe(seconds)
}
