// Package dnsutil provides shared DNS message helpers.
package dnsutil

import (
	"strings"

	"github.com/miekg/dns"
)

const (
	// DefaultMsgSize is the EDNS0 payload size advertised in responses.
	DefaultMsgSize = 1232
)

// SetRcode returns a reply for req carrying only the given rcode.
func SetRcode(req *dns.Msg, rcode int, do bool) *dns.Msg {
	m := new(dns.Msg)
	m.Extra = req.Extra
	m.SetRcode(req, rcode)

	if opt := m.IsEdns0(); opt != nil {
		opt.SetDo(do)
	}

	return m
}

// SetEdns0 normalizes the OPT record on req and returns it together with
// the client's advertised payload size and the DNSSEC-OK bit. Requests
// without EDNS0 get the classic 512 byte ceiling.
func SetEdns0(req *dns.Msg) (*dns.OPT, int, bool) {
	opt := req.IsEdns0()
	do := false
	size := dns.MinMsgSize

	if opt != nil {
		size = int(opt.UDPSize())
		if size < dns.MinMsgSize {
			size = dns.MinMsgSize
		}
		if size > DefaultMsgSize {
			size = DefaultMsgSize
		}

		opt.SetUDPSize(DefaultMsgSize)

		// Version and DO live in the OPT TTL field, read them before
		// it is cleared.
		if opt.Version() != 0 {
			return opt, size, false
		}

		do = opt.Do()
		opt.Header().Ttl = 0
	} else {
		opt = new(dns.OPT)
		opt.Hdr.Name = "."
		opt.Hdr.Rrtype = dns.TypeOPT
		opt.SetUDPSize(DefaultMsgSize)

		req.Extra = append(req.Extra, opt)
	}

	return opt, size, do
}

// ClearOPT returns msg with OPT pseudo records removed from the
// additional section.
func ClearOPT(msg *dns.Msg) *dns.Msg {
	extra := make([]dns.RR, len(msg.Extra))
	copy(extra, msg.Extra)

	msg.Extra = []dns.RR{}

	for _, rr := range extra {
		switch rr.(type) {
		case *dns.OPT:
			continue
		default:
			msg.Extra = append(msg.Extra, rr)
		}
	}

	return msg
}

// ClearDNSSEC returns msg with RRSIG and NSECx records removed.
func ClearDNSSEC(msg *dns.Msg) *dns.Msg {
	if len(msg.Question) > 0 {
		if msg.Question[0].Qtype == dns.TypeRRSIG {
			return msg
		}
	}

	var answer, ns []dns.RR

	answer = append(answer, msg.Answer...)
	msg.Answer = []dns.RR{}

	for _, rr := range answer {
		switch rr.(type) {
		case *dns.RRSIG, *dns.NSEC3, *dns.NSEC:
			continue
		default:
			msg.Answer = append(msg.Answer, rr)
		}
	}

	ns = append(ns, msg.Ns...)
	msg.Ns = []dns.RR{}

	for _, rr := range ns {
		switch rr.(type) {
		case *dns.RRSIG, *dns.NSEC3, *dns.NSEC:
			continue
		default:
			msg.Ns = append(msg.Ns, rr)
		}
	}

	return msg
}

// HasDNSSEC reports whether msg carries any DNSSEC records outside the
// question section.
func HasDNSSEC(msg *dns.Msg) bool {
	for _, section := range [][]dns.RR{msg.Answer, msg.Ns} {
		for _, rr := range section {
			switch rr.(type) {
			case *dns.RRSIG, *dns.NSEC, *dns.NSEC3, *dns.DNSKEY, *dns.DS:
				return true
			}
		}
	}

	return false
}

// OwnerNames returns every distinct owner name embedded in msg's answer
// and authority sections plus the question name, lowercased. The answer
// cache indexes entries under these names so that a mutation to any name
// an answer was assembled from invalidates it, including CNAME chain
// targets.
func OwnerNames(msg *dns.Msg) []string {
	seen := make(map[string]struct{}, 4)

	add := func(name string) {
		seen[strings.ToLower(name)] = struct{}{}
	}

	for _, q := range msg.Question {
		add(q.Name)
	}
	for _, rr := range msg.Answer {
		add(rr.Header().Name)
		if cn, ok := rr.(*dns.CNAME); ok {
			add(cn.Target)
		}
	}
	for _, rr := range msg.Ns {
		add(rr.Header().Name)
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}

	return names
}

// FormatQuestion returns a compact text form of q for logging.
func FormatQuestion(q dns.Question) string {
	return strings.ToLower(q.Name) + " " + dns.ClassToString[q.Qclass] + " " + dns.TypeToString[q.Qtype]
}
