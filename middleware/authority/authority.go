// Package authority assembles answers for the zones this server is
// authoritative for: record lookup, wildcard expansion, CNAME
// chasing, geographic candidate selection and online signing.
package authority

import (
	"context"
	"strings"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/drahnr/constellation/config"
	"github.com/drahnr/constellation/dnssec"
	"github.com/drahnr/constellation/geo"
	"github.com/drahnr/constellation/middleware"
	"github.com/drahnr/constellation/store"
	"github.com/drahnr/constellation/zone"
)

// Authority type
type Authority struct {
	store   store.Store
	zones   *zone.Table
	geodb   *geo.Index
	signers map[string]*dnssec.Signer

	recordTTL uint32
	maxDepth  int
}

func init() {
	middleware.Register(name, func(cfg *config.Config) middleware.Handler {
		return New(cfg)
	})
}

// New return authority
func New(cfg *config.Config) *Authority {
	st, err := store.Open(cfg)
	if err != nil {
		zlog.Error("Record store open failed", "error", err.Error())
	}

	geodb, err := geo.Shared(cfg.GeoDB)
	if err != nil {
		zlog.Error("Geo database unavailable, selection falls back to store order", "error", err.Error())
	}

	a := &Authority{
		store:     st,
		zones:     zone.NewTable(cfg),
		geodb:     geodb,
		signers:   make(map[string]*dnssec.Signer),
		recordTTL: cfg.RecordTTL,
		maxDepth:  cfg.MaxCNAMEDepth,
	}

	for _, cz := range cfg.Zones {
		if !cz.DNSSEC {
			continue
		}

		key, err := dnssec.LoadKey(cz.ZSKPublic, cz.ZSKPrivate, cz.KeyNotBefore, cz.KeyNotAfter)
		if err != nil {
			zlog.Error("Zone key load failed, serving unsigned", "zone", cz.Apex, "error", err.Error())
			continue
		}

		apex := strings.ToLower(dns.Fqdn(cz.Apex))
		a.signers[apex] = dnssec.New(apex, key, cfg.SignatureSkew.Duration, cfg.SignatureHorizon.Duration)

		zlog.Info("Zone signing enabled", "zone", apex, "keytag", key.DNSKEY.KeyTag())
	}

	return a
}

// Name return middleware name
func (a *Authority) Name() string { return name }

// ServeDNS implements the Handle interface.
func (a *Authority) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	w, req := ch.Writer, ch.Request

	if len(req.Question) == 0 || req.Opcode != dns.OpcodeQuery {
		ch.CancelWithRcode(dns.RcodeNotImplemented, false)
		return
	}

	q := req.Question[0]
	do := false
	if opt := req.IsEdns0(); opt != nil {
		do = opt.Do()
	}

	z, ok := a.zones.Match(q.Name)
	if !ok {
		ch.CancelWithRcode(dns.RcodeRefused, do)
		return
	}

	msg, err := a.resolve(ctx, z, req, w.RemoteIP())
	if err != nil {
		zlog.Warn("Resolution failed", "query", q.Name, "qtype", dns.TypeToString[q.Qtype], "error", err.Error())
		ch.CancelWithRcode(dns.RcodeServerFailure, do)
		return
	}

	if do && z.DNSSEC {
		msg = a.sign(ctx, z, msg)
	}

	_ = w.WriteMsg(msg)
	ch.Cancel()
}

// sign returns the signed rendition of msg, with denial of existence
// appended on negative answers. When the signer cannot produce a
// valid signature the unsigned original is returned untouched.
func (a *Authority) sign(ctx context.Context, z *zone.Zone, msg *dns.Msg) *dns.Msg {
	s := a.signers[z.Apex]
	if s == nil {
		return msg
	}

	signed := msg.Copy()

	if len(signed.Answer) == 0 || signed.Rcode == dns.RcodeNameError {
		qname := store.CanonicalName(signed.Question[0].Name)
		signed.Ns = append(signed.Ns, s.Denial(qname, z.SOA.Minttl, a.presentTypes(ctx, signed)))

		// A single minimally covering NSEC proves an empty name, the
		// NXDOMAIN rcode would contradict it.
		if signed.Rcode == dns.RcodeNameError {
			signed.Rcode = dns.RcodeSuccess
		}
	}

	if err := s.Sign(signed); err != nil {
		zlog.Warn("Signing failed, answering unsigned", "zone", z.Apex, "error", err.Error())
		return msg
	}

	return signed
}

func (a *Authority) presentTypes(ctx context.Context, msg *dns.Msg) []uint16 {
	if msg.Rcode == dns.RcodeNameError {
		return nil
	}

	present, err := a.store.Types(ctx, msg.Question[0].Name)
	if err != nil {
		return nil
	}

	var qtypes []uint16
	for _, t := range present {
		if qtype, ok := store.Qtype(t); ok {
			qtypes = append(qtypes, qtype)
		}
	}
	return qtypes
}

// DS returns the delegation records to publish in the parent zones,
// one per signed zone.
func (a *Authority) DS() []dns.RR {
	var out []dns.RR
	for _, s := range a.signers {
		if ds := s.DS(a.recordTTL); ds != nil {
			out = append(out, ds)
		}
	}
	return out
}

const name = "authority"
