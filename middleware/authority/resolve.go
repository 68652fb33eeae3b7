package authority

import (
	"context"
	"errors"
	"math"
	"net"
	"strings"

	"github.com/miekg/dns"

	"github.com/drahnr/constellation/geo"
	"github.com/drahnr/constellation/store"
	"github.com/drahnr/constellation/zone"
)

var (
	errChainLoop = errors.New("cname chain loop")
	errChainDeep = errors.New("cname chain too deep")
)

func (a *Authority) resolve(ctx context.Context, z *zone.Zone, req *dns.Msg, client net.IP) (*dns.Msg, error) {
	q := req.Question[0]
	qname := store.CanonicalName(q.Name)

	msg := new(dns.Msg)
	msg.SetReply(req)
	msg.Authoritative = true
	msg.RecursionAvailable = false

	if q.Qclass != dns.ClassINET {
		msg.Rcode = dns.RcodeRefused
		return msg, nil
	}

	if qname == z.Apex {
		switch q.Qtype {
		case dns.TypeSOA:
			msg.Answer = append(msg.Answer, z.SOA)
			return msg, nil
		case dns.TypeNS:
			msg.Answer = append(msg.Answer, z.NS...)
			return msg, nil
		case dns.TypeDNSKEY:
			if s := a.signers[z.Apex]; s != nil {
				msg.Answer = append(msg.Answer, s.DNSKEY(a.recordTTL))
				return msg, nil
			}
		case dns.TypeDS:
			if s := a.signers[z.Apex]; s != nil {
				if ds := s.DS(a.recordTTL); ds != nil {
					msg.Answer = append(msg.Answer, ds)
				}
				return msg, nil
			}
		}
	}

	coord, known := a.geodb.Locate(client)

	name := qname
	visited := make(map[string]struct{}, 2)

	for {
		if len(visited) >= a.maxDepth {
			return nil, errChainDeep
		}
		if _, seen := visited[name]; seen {
			return nil, errChainLoop
		}
		visited[name] = struct{}{}

		rrs, err := a.lookup(ctx, z, name, q.Qtype, coord, known)
		if err != nil {
			return nil, err
		}
		if len(rrs) > 0 {
			msg.Answer = append(msg.Answer, rrs...)
			return msg, nil
		}

		if q.Qtype != dns.TypeCNAME {
			rrs, err = a.lookup(ctx, z, name, dns.TypeCNAME, coord, known)
			if err != nil {
				return nil, err
			}
			if len(rrs) > 0 {
				msg.Answer = append(msg.Answer, rrs...)

				target := store.CanonicalName(rrs[0].(*dns.CNAME).Target)
				if tz, inzone := a.zones.Match(target); inzone {
					z = tz
					name = target
					continue
				}

				// Target outside our authority, the client chases it.
				return msg, nil
			}
		}

		return a.negative(ctx, z, msg, name)
	}
}

// lookup fetches the candidate set for one name and type, falling back
// to the covering wildcard, and narrows it to the candidate closest to
// the client. Wildcard answers keep the wildcard owner name.
func (a *Authority) lookup(ctx context.Context, z *zone.Zone, name string, qtype uint16, client geo.Coordinate, known bool) ([]dns.RR, error) {
	rtype, ok := store.TypeName(qtype)
	if !ok {
		return nil, nil
	}

	owner := name
	recs, err := a.store.Lookup(ctx, name, rtype)
	if err != nil {
		return nil, err
	}

	if len(recs) == 0 {
		wname := wildcard(name, z.Apex)
		if wname == "" {
			return nil, nil
		}

		if recs, err = a.store.Lookup(ctx, wname, rtype); err != nil {
			return nil, err
		}
		owner = wname
	}

	if len(recs) == 0 {
		return nil, nil
	}

	return pick(recs, client, known).RRs(owner, a.recordTTL)
}

// negative fills in a NODATA or NXDOMAIN answer. The name exists when
// any type is stored at it or at its covering wildcard.
func (a *Authority) negative(ctx context.Context, z *zone.Zone, msg *dns.Msg, name string) (*dns.Msg, error) {
	msg.Ns = append(msg.Ns, z.SOA)

	if name == z.Apex {
		return msg, nil
	}

	types, err := a.store.Types(ctx, name)
	if err != nil {
		return nil, err
	}

	exists := len(types) > 0
	if !exists {
		if wname := wildcard(name, z.Apex); wname != "" {
			wtypes, err := a.store.Types(ctx, wname)
			if err != nil {
				return nil, err
			}
			exists = len(wtypes) > 0
		}
	}

	if !exists && len(msg.Answer) == 0 {
		msg.Rcode = dns.RcodeNameError
	}

	return msg, nil
}

// pick chooses one candidate. Clients without a location and candidate
// sets without usable tags fall back to the first record in store
// order, distance ties keep the earlier record.
func pick(recs []store.Record, client geo.Coordinate, known bool) store.Record {
	if !known {
		return recs[0]
	}

	best, bestDist := -1, math.MaxFloat64
	for i, r := range recs {
		if r.Geo == "" {
			continue
		}
		c, ok := geo.ParseTag(r.Geo)
		if !ok {
			continue
		}
		if d := geo.Distance(client, c); d < bestDist {
			best, bestDist = i, d
		}
	}

	if best < 0 {
		return recs[0]
	}
	return recs[best]
}

func wildcard(name, apex string) string {
	if name == apex || strings.HasPrefix(name, "*.") {
		return ""
	}

	off, end := dns.NextLabel(name, 0)
	if end {
		return ""
	}
	return "*." + name[off:]
}
