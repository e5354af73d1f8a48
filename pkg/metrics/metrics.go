package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ProvisionOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "overlab", Name: "provision_ops_total", Help: "Lifecycle operations by kind and outcome."},
		[]string{"op", "result"},
	)
	ReconcileCorrections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "overlab", Name: "reconcile_corrections_total", Help: "Drift corrections applied by the reconciler."},
		[]string{"action"},
	)
	ProxyFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "overlab", Name: "proxy_fetch_total", Help: "Bibliography fetches served by the worker proxy."},
		[]string{"result"},
	)
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "overlab", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "overlab", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(ProvisionOps)
	reg.MustRegister(ReconcileCorrections)
	reg.MustRegister(ProxyFetches)
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
}
