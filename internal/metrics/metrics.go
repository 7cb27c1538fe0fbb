package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeOK          = "ok"
	OutcomeEmpty       = "empty"
	OutcomeStatusError = "status_error"
	OutcomeError       = "error"
)

// Recorder holds the comps pipeline instruments. A nil *Recorder is valid
// and records nothing.
type Recorder struct {
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	quotaSkips      *prometheus.CounterVec
	resolutions     *prometheus.CounterVec
	resolveDuration prometheus.Histogram
	cacheLookups    *prometheus.CounterVec
}

// New registers the instruments on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "comps_provider_calls_total",
			Help: "Upstream provider calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "comps_provider_call_duration_seconds",
			Help:    "Upstream provider call latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"provider"}),
		quotaSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "comps_quota_skips_total",
			Help: "Providers skipped because the monthly limit was reached.",
		}, []string{"meter"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "comps_resolutions_total",
			Help: "Resolutions by winning source (none when empty).",
		}, []string{"source"}),
		resolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "comps_resolve_duration_seconds",
			Help:    "End-to-end resolution latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "comps_cache_lookups_total",
			Help: "Result cache lookups by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(r.providerCalls, r.providerLatency, r.quotaSkips,
		r.resolutions, r.resolveDuration, r.cacheLookups)
	return r
}

func (r *Recorder) ProviderCall(provider, outcome string, took time.Duration) {
	if r == nil {
		return
	}
	r.providerCalls.WithLabelValues(provider, outcome).Inc()
	r.providerLatency.WithLabelValues(provider).Observe(took.Seconds())
}

func (r *Recorder) QuotaSkip(meter string) {
	if r == nil {
		return
	}
	r.quotaSkips.WithLabelValues(meter).Inc()
}

func (r *Recorder) Resolution(source string, took time.Duration) {
	if r == nil {
		return
	}
	if source == "" {
		source = "none"
	}
	r.resolutions.WithLabelValues(source).Inc()
	r.resolveDuration.Observe(took.Seconds())
}

func (r *Recorder) CacheLookup(hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(result).Inc()
}
