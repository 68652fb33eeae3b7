// Package zone maps query names to the authoritative zones the server
// answers for and synthesizes the apex SOA and NS sets from config.
package zone

import (
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/drahnr/constellation/config"
)

// Zone is one configured authority.
type Zone struct {
	// Apex is the canonical zone origin.
	Apex string

	// DNSSEC marks the zone for online signing.
	DNSSEC bool

	// SOA is the synthesized start of authority, served on negative
	// answers and on direct SOA queries at the apex.
	SOA *dns.SOA

	// NS is the synthesized apex nameserver set.
	NS []dns.RR
}

// Table resolves a query name to its enclosing zone.
type Table struct {
	zones map[string]*Zone
}

// NewTable builds the authority table from cfg. The SOA serial is the
// build timestamp, a restart after record changes always moves it
// forward.
func NewTable(cfg *config.Config) *Table {
	serial := uint32(time.Now().Unix())

	t := &Table{zones: make(map[string]*Zone, len(cfg.Zones))}
	for _, cz := range cfg.Zones {
		apex := strings.ToLower(dns.Fqdn(cz.Apex))

		z := &Zone{
			Apex:   apex,
			DNSSEC: cz.DNSSEC,
			SOA: &dns.SOA{
				Hdr: dns.RR_Header{
					Name:   apex,
					Rrtype: dns.TypeSOA,
					Class:  dns.ClassINET,
					Ttl:    cfg.SOAMinTTL,
				},
				Ns:      dns.Fqdn(cfg.SOAMaster),
				Mbox:    dns.Fqdn(cfg.SOAResponsible),
				Serial:  serial,
				Refresh: cfg.SOARefresh,
				Retry:   cfg.SOARetry,
				Expire:  cfg.SOAExpire,
				Minttl:  cfg.SOAMinTTL,
			},
		}

		for _, ns := range cfg.Nameservers {
			z.NS = append(z.NS, &dns.NS{
				Hdr: dns.RR_Header{
					Name:   apex,
					Rrtype: dns.TypeNS,
					Class:  dns.ClassINET,
					Ttl:    cfg.RecordTTL,
				},
				Ns: dns.Fqdn(ns),
			})
		}

		t.zones[apex] = z
	}

	return t
}

// Match returns the zone whose apex is the longest suffix of qname.
// Names outside every configured zone return false, the caller refuses
// those queries.
func (t *Table) Match(qname string) (*Zone, bool) {
	name := strings.ToLower(dns.Fqdn(qname))

	for {
		if z, ok := t.zones[name]; ok {
			return z, true
		}
		if name == "." {
			return nil, false
		}

		off, end := dns.NextLabel(name, 0)
		if end {
			name = "."
		} else {
			name = name[off:]
		}
	}
}

// Zones returns every configured zone, for startup logging and key
// loading.
func (t *Table) Zones() []*Zone {
	out := make([]*Zone, 0, len(t.zones))
	for _, z := range t.zones {
		out = append(out, z)
	}
	return out
}
