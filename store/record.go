package store

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// Record type tags as stored. Lowercase on the wire of the store, the
// JSON codec never sees them (they live in the hash field key).
const (
	TypeA     = "a"
	TypeAAAA  = "aaaa"
	TypeCNAME = "cname"
	TypeMX    = "mx"
	TypeNS    = "ns"
	TypePTR   = "ptr"
	TypeSRV   = "srv"
	TypeTXT   = "txt"
)

var qtypeNames = map[uint16]string{
	dns.TypeA:     TypeA,
	dns.TypeAAAA:  TypeAAAA,
	dns.TypeCNAME: TypeCNAME,
	dns.TypeMX:    TypeMX,
	dns.TypeNS:    TypeNS,
	dns.TypePTR:   TypePTR,
	dns.TypeSRV:   TypeSRV,
	dns.TypeTXT:   TypeTXT,
}

// TypeName maps a wire qtype to its store tag. The second return is
// false for types the store does not carry.
func TypeName(qtype uint16) (string, bool) {
	name, ok := qtypeNames[qtype]
	return name, ok
}

var nameQtypes = func() map[string]uint16 {
	m := make(map[string]uint16, len(qtypeNames))
	for qtype, name := range qtypeNames {
		m[name] = qtype
	}
	return m
}()

// Qtype maps a store tag back to its wire qtype.
func Qtype(name string) (uint16, bool) {
	qtype, ok := nameQtypes[name]
	return qtype, ok
}

// Record is one stored candidate. Name and Type are filled in by the
// backend from the key the record was found under and are not part of
// the serialized form.
type Record struct {
	Name   string   `json:"-"`
	Type   string   `json:"-"`
	TTL    uint32   `json:"ttl,omitempty"`
	Values []string `json:"values"`
	Geo    string   `json:"geo,omitempty"`
}

// RRs converts the record to wire resource records owned by owner. A
// zero TTL falls back to defaultTTL. The stored values survive the
// round trip verbatim, malformed values are an error rather than a
// silent drop.
func (r Record) RRs(owner string, defaultTTL uint32) ([]dns.RR, error) {
	ttl := r.TTL
	if ttl == 0 {
		ttl = defaultTTL
	}
	hdr := func(rrtype uint16) dns.RR_Header {
		return dns.RR_Header{Name: owner, Rrtype: rrtype, Class: dns.ClassINET, Ttl: ttl}
	}

	rrs := make([]dns.RR, 0, len(r.Values))

	switch r.Type {
	case TypeA:
		for _, v := range r.Values {
			ip := net.ParseIP(v)
			if ip == nil || ip.To4() == nil {
				return nil, fmt.Errorf("record %s: bad A value %q", owner, v)
			}
			rrs = append(rrs, &dns.A{Hdr: hdr(dns.TypeA), A: ip.To4()})
		}

	case TypeAAAA:
		for _, v := range r.Values {
			ip := net.ParseIP(v)
			if ip == nil || ip.To4() != nil {
				return nil, fmt.Errorf("record %s: bad AAAA value %q", owner, v)
			}
			rrs = append(rrs, &dns.AAAA{Hdr: hdr(dns.TypeAAAA), AAAA: ip.To16()})
		}

	case TypeCNAME:
		for _, v := range r.Values {
			rrs = append(rrs, &dns.CNAME{Hdr: hdr(dns.TypeCNAME), Target: dns.Fqdn(v)})
		}

	case TypeMX:
		for _, v := range r.Values {
			pref, host, err := splitPref(v)
			if err != nil {
				return nil, fmt.Errorf("record %s: bad MX value %q", owner, v)
			}
			rrs = append(rrs, &dns.MX{Hdr: hdr(dns.TypeMX), Preference: pref, Mx: dns.Fqdn(host)})
		}

	case TypeNS:
		for _, v := range r.Values {
			rrs = append(rrs, &dns.NS{Hdr: hdr(dns.TypeNS), Ns: dns.Fqdn(v)})
		}

	case TypePTR:
		for _, v := range r.Values {
			rrs = append(rrs, &dns.PTR{Hdr: hdr(dns.TypePTR), Ptr: dns.Fqdn(v)})
		}

	case TypeSRV:
		for _, v := range r.Values {
			fields := strings.Fields(v)
			if len(fields) != 4 {
				return nil, fmt.Errorf("record %s: bad SRV value %q", owner, v)
			}
			prio, err1 := parseUint16(fields[0])
			weight, err2 := parseUint16(fields[1])
			port, err3 := parseUint16(fields[2])
			if err1 != nil || err2 != nil || err3 != nil {
				return nil, fmt.Errorf("record %s: bad SRV value %q", owner, v)
			}
			rrs = append(rrs, &dns.SRV{
				Hdr:      hdr(dns.TypeSRV),
				Priority: prio,
				Weight:   weight,
				Port:     port,
				Target:   dns.Fqdn(fields[3]),
			})
		}

	case TypeTXT:
		for _, v := range r.Values {
			rrs = append(rrs, &dns.TXT{Hdr: hdr(dns.TypeTXT), Txt: splitTXT(v)})
		}

	default:
		return nil, fmt.Errorf("record %s: unknown type %q", owner, r.Type)
	}

	return rrs, nil
}

func splitPref(v string) (uint16, string, error) {
	fields := strings.Fields(v)
	if len(fields) != 2 {
		return 0, "", fmt.Errorf("want 2 fields, got %d", len(fields))
	}
	pref, err := parseUint16(fields[0])
	if err != nil {
		return 0, "", err
	}
	return pref, fields[1], nil
}

func parseUint16(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	return uint16(n), err
}

// splitTXT chunks a value into the 255 byte character strings TXT
// rdata is made of.
func splitTXT(v string) []string {
	if v == "" {
		return []string{""}
	}
	var out []string
	for len(v) > 255 {
		out = append(out, v[:255])
		v = v[255:]
	}
	return append(out, v)
}
