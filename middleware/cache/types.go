package cache

import (
	"time"

	"github.com/miekg/dns"
)

// entry is one cached answer. The message is stored as the resolution
// engine produced it, without OPT, the EDNS stage dresses each reply
// per request.
type entry struct {
	msg    *dns.Msg
	stored time.Time
	ttl    time.Duration

	// owner names embedded in the message, for invalidation
	names []string
}

func newEntry(msg *dns.Msg, now time.Time, ttl time.Duration, names []string) *entry {
	return &entry{
		msg:    msg.Copy(),
		stored: now,
		ttl:    ttl,
		names:  names,
	}
}

// ToMsg renders the entry as a reply to req with TTLs aged by the time
// spent in cache. Expired entries render as nil.
func (e *entry) ToMsg(req *dns.Msg, now time.Time) *dns.Msg {
	elapsed := now.Sub(e.stored)
	if elapsed >= e.ttl {
		return nil
	}

	m := e.msg.Copy()
	m.Id = req.Id

	// Echo the requester's own question, its letter case may differ
	// from the one the entry was built from.
	if len(req.Question) > 0 {
		m.Question = []dns.Question{req.Question[0]}
	}

	age := uint32(elapsed.Seconds())
	for _, section := range [][]dns.RR{m.Answer, m.Ns, m.Extra} {
		for _, rr := range section {
			hdr := rr.Header()
			if hdr.Ttl > age {
				hdr.Ttl -= age
			} else {
				hdr.Ttl = 0
			}
		}
	}

	return m
}
