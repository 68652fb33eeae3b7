// Package edns normalizes EDNS0 handling for every response: version
// checks, payload size limits and DNSSEC OK bookkeeping.
package edns

import (
	"context"

	"github.com/miekg/dns"

	"github.com/drahnr/constellation/config"
	"github.com/drahnr/constellation/dnsutil"
	"github.com/drahnr/constellation/middleware"
)

// EDNS type
type EDNS struct{}

func init() {
	middleware.Register(name, func(cfg *config.Config) middleware.Handler {
		return New(cfg)
	})
}

// New return edns
func New(cfg *config.Config) *EDNS {
	return &EDNS{}
}

// Name return middleware name
func (e *EDNS) Name() string { return name }

// ResponseWriter implement of middleware.ResponseWriter
type ResponseWriter struct {
	middleware.ResponseWriter
	opt    *dns.OPT
	size   int
	do     bool
	noedns bool
}

// ServeDNS implements the Handle interface.
func (e *EDNS) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	w, req := ch.Writer, ch.Request

	noedns := req.IsEdns0() == nil

	opt, size, do := dnsutil.SetEdns0(req)
	if opt.Version() != 0 {
		opt.SetVersion(0)
		opt.SetExtendedRcode(dns.RcodeBadVers)

		_ = w.WriteMsg(dnsutil.SetRcode(req, dns.RcodeBadVers, do))

		ch.Cancel()
		return
	}

	if w.Proto() != "udp" {
		size = dns.MaxMsgSize
	}

	ch.Writer = &ResponseWriter{ResponseWriter: w, opt: opt, size: size, do: do, noedns: noedns}

	ch.Next(ctx)

	ch.Writer = w
}

// WriteMsg implements the middleware.ResponseWriter interface
func (w *ResponseWriter) WriteMsg(m *dns.Msg) error {
	if !w.do {
		m = dnsutil.ClearDNSSEC(m)
	}
	m = dnsutil.ClearOPT(m)

	if !w.noedns {
		// DO is acknowledged only when signatures actually made it
		// into the message, a failed signer answers plain.
		w.opt.SetDo(w.do && dnsutil.HasDNSSEC(m))
		m.Extra = append(m.Extra, w.opt)
	}

	if w.Proto() == "udp" && m.Len() > w.size {
		m.Truncated = true
		m.Answer = []dns.RR{}
		m.Ns = []dns.RR{}
	}

	return w.ResponseWriter.WriteMsg(m)
}

const name = "edns"
