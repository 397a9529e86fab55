package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	IdentitiesProvisioned = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "driftnote", Name: "identities_provisioned_total", Help: "Number of anonymous identity records provisioned."},
	)
	// Upgrades by outcome: linked (fresh promote), existing (winner returned),
	// conflict (unresolved race), error (infrastructure failure).
	Upgrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driftnote", Name: "identity_upgrades_total", Help: "Number of account-linking upgrade attempts by outcome."},
		[]string{"outcome"},
	)
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driftnote", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driftnote", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(IdentitiesProvisioned)
	reg.MustRegister(Upgrades)
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
}
