// Package metrics counts served queries by type and outcome.
package metrics

import (
	"context"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drahnr/constellation/config"
	"github.com/drahnr/constellation/middleware"
)

// Metrics type
type Metrics struct {
	queries *prometheus.CounterVec
}

func init() {
	middleware.Register(name, func(cfg *config.Config) middleware.Handler {
		return New(cfg)
	})
}

// New return new metrics
func New(cfg *config.Config) *Metrics {
	m := &Metrics{
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "constellation_queries_total",
				Help: "How many DNS queries served",
			},
			[]string{"qtype", "rcode"},
		),
	}
	_ = prometheus.Register(m.queries)

	return m
}

// Name return middleware name
func (m *Metrics) Name() string { return name }

// ServeDNS implements the Handle interface.
func (m *Metrics) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	ch.Next(ctx)

	if !ch.Writer.Written() {
		return
	}

	m.queries.With(
		prometheus.Labels{
			"qtype": dns.TypeToString[ch.Request.Question[0].Qtype],
			"rcode": dns.RcodeToString[ch.Writer.Rcode()],
		}).Inc()
}

const name = "metrics"
