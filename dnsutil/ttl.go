package dnsutil

import (
	"time"

	"github.com/miekg/dns"
)

const (
	// MinCacheTTL is the minimum time to cache any response.
	MinCacheTTL = 5 * time.Second
	// MaxCacheTTL is the maximum time to cache any response.
	MaxCacheTTL = 24 * time.Hour
)

// CacheTTL returns how long a response may be cached: the minimum TTL
// across all embedded records, additionally bounded by the remaining
// validity of any RRSIG so a cached signed answer never outlives its
// signatures.
func CacheTTL(msg *dns.Msg, now time.Time) time.Duration {
	minTTL := MaxCacheTTL
	found := false

	scan := func(section []dns.RR) {
		for _, rr := range section {
			if rr.Header().Rrtype == dns.TypeOPT {
				continue
			}
			found = true

			if ttl := time.Duration(rr.Header().Ttl) * time.Second; ttl < minTTL {
				minTTL = ttl
			}

			if sig, ok := rr.(*dns.RRSIG); ok {
				expire := time.Unix(int64(sig.Expiration), 0)
				if remain := expire.Sub(now); remain < minTTL {
					minTTL = remain
				}
			}
		}
	}

	scan(msg.Answer)
	scan(msg.Ns)
	scan(msg.Extra)

	if !found {
		return MinCacheTTL
	}
	if minTTL < 0 {
		return 0
	}

	return minTTL
}
