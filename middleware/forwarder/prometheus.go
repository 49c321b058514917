package forwarder

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeMalformed = "malformed"
	outcomeBlocked   = "blocked"
	outcomeCached    = "cached"
	outcomeForwarded = "forwarded"
	outcomeFailed    = "failed"
)

var requests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "dns_forwarder_requests_total",
	Help: "Requests handled by the forwarder by outcome",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(requests)
}
