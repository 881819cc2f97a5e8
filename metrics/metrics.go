// Package metrics expõe contadores Prometheus da camada de admissão.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implementa ratelimit.Observer e gate.Observer.
type Collector struct {
	Admissions      *prometheus.CounterVec
	CSRF            *prometheus.CounterVec
	RateLimitKeys   prometheus.Gauge
	Sweeps          prometheus.Counter
	SweptKeys       prometheus.Counter
	RequestDuration *prometheus.HistogramVec
	ConfigReloads   *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registra no registry padrão.
func New() *Collector {
	return newCollector(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

func NewWithRegistry(reg *prometheus.Registry) *Collector {
	return newCollector(reg, reg)
}

func newCollector(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		Admissions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gate",
				Name:      "admissions_total",
				Help:      "Rate limit decisions by endpoint class",
			},
			[]string{"class", "outcome"},
		),
		CSRF: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gate",
				Name:      "csrf_total",
				Help:      "CSRF guard outcomes",
			},
			[]string{"outcome"},
		),
		RateLimitKeys: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gate",
				Name:      "ratelimit_keys",
				Help:      "Keys held by the in-memory window store after the last sweep",
			},
		),
		Sweeps: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gate",
				Name:      "sweeps_total",
				Help:      "Window store sweeps",
			},
		),
		SweptKeys: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gate",
				Name:      "swept_keys_total",
				Help:      "Keys removed by sweeps",
			},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "status"},
		),
		ConfigReloads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gate",
				Name:      "config_reloads_total",
				Help:      "Configuration reloads",
			},
			[]string{"result"},
		),
		gatherer: gatherer,
	}
}

func (c *Collector) ObserveAdmission(class string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "rejected"
	}
	c.Admissions.WithLabelValues(class, outcome).Inc()
}

// ObserveSweep: keys < 0 quando o store não sabe o próprio tamanho (redis).
func (c *Collector) ObserveSweep(removed, keys int) {
	c.Sweeps.Inc()
	c.SweptKeys.Add(float64(removed))
	if keys >= 0 {
		c.RateLimitKeys.Set(float64(keys))
	}
}

func (c *Collector) ObserveCSRF(outcome string) {
	c.CSRF.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveReload(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.ConfigReloads.WithLabelValues(result).Inc()
}

// Middleware mede a duração de cada request por método e classe de status.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.RequestDuration.
			WithLabelValues(r.Method, strconv.Itoa(status/100)+"xx").
			Observe(time.Since(start).Seconds())
	})
}

// Handler serve /metrics a partir do registry do collector.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
