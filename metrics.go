package federation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer receives login telemetry.
type Observer interface {
	ObserveDecision(provider Provider, decision ResolutionDecision)
	ObserveFailure(provider Provider, stage LoginStage, err error)
	ObserveProviderCall(provider Provider, operation string, elapsed time.Duration, err error)
}

type noopObserver struct{}

func (noopObserver) ObserveDecision(Provider, ResolutionDecision)               {}
func (noopObserver) ObserveFailure(Provider, LoginStage, error)                 {}
func (noopObserver) ObserveProviderCall(Provider, string, time.Duration, error) {}

// PrometheusObserver exports login telemetry as Prometheus metrics.
type PrometheusObserver struct {
	decisions     *prometheus.CounterVec
	failures      *prometheus.CounterVec
	providerCalls *prometheus.HistogramVec
}

// NewPrometheusObserver registers the federation collectors with reg. A nil
// reg uses the default registerer.
func NewPrometheusObserver(reg prometheus.Registerer, namespace string) (*PrometheusObserver, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "federation"
	}

	o := &PrometheusObserver{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_decisions_total",
			Help:      "Identity resolution decisions by kind, step and warning.",
		}, []string{"provider", "kind", "step", "warning"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_failures_total",
			Help:      "Failed login attempts by stage and error code.",
		}, []string{"provider", "stage", "code"}),
		providerCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Latency of identity provider calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "operation", "outcome"}),
	}

	for _, c := range []prometheus.Collector{o.decisions, o.failures, o.providerCalls} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *PrometheusObserver) ObserveDecision(provider Provider, d ResolutionDecision) {
	o.decisions.WithLabelValues(provider.String(), string(d.Kind), d.Step, string(d.Warning)).Inc()
}

func (o *PrometheusObserver) ObserveFailure(provider Provider, stage LoginStage, err error) {
	code := TextCodeOf(err)
	if code == "" {
		code = "unknown"
	}
	o.failures.WithLabelValues(provider.String(), string(stage), code).Inc()
}

func (o *PrometheusObserver) ObserveProviderCall(provider Provider, operation string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	o.providerCalls.WithLabelValues(provider.String(), operation, outcome).Observe(elapsed.Seconds())
}
