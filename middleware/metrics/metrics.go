// Package metrics counts answered queries by type and response code.
package metrics

import (
	"context"
	"time"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/semihalev/fdns/middleware"
)

// Metrics type
type Metrics struct {
	queries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New return new metrics registered on reg. blocklistSize, when set, is
// exported as a gauge.
func New(reg prometheus.Registerer, blocklistSize func() int) *Metrics {
	m := &Metrics{
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dns_queries_total",
				Help: "How many DNS queries processed",
			},
			[]string{"qtype", "rcode"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dns_query_duration_seconds",
				Help:    "Time taken to answer DNS queries",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"proto"},
		),
	}

	reg.MustRegister(m.queries, m.duration)

	if blocklistSize != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "dns_blocklist_entries",
				Help: "Number of domains in the active blocklist",
			},
			func() float64 { return float64(blocklistSize()) },
		))
	}

	return m
}

// Name return middleware name
func (m *Metrics) Name() string { return name }

// ServeDNS implements the Handle interface.
func (m *Metrics) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	start := time.Now()

	ch.Next(ctx)

	w, req := ch.Writer, ch.Request

	if !w.Written() {
		return
	}

	qtype := "NONE"
	if len(req.Question) > 0 {
		if s, ok := dns.TypeToString[req.Question[0].Qtype]; ok {
			qtype = s
		} else {
			qtype = "OTHER"
		}
	}

	m.queries.WithLabelValues(qtype, dns.RcodeToString[w.Rcode()]).Inc()
	m.duration.WithLabelValues(w.Proto()).Observe(time.Since(start).Seconds())
}

const name = "metrics"
