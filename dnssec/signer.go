package dnssec

import (
	"errors"
	"sort"
	"time"

	"github.com/miekg/dns"
)

// ErrKeyExpired reports that no valid signature window exists, the
// current time is outside the key validity bounds. The caller answers
// unsigned, it never ships a signature that cannot validate.
var ErrKeyExpired = errors.New("signing key outside validity window")

// Signer produces RRSIGs for one zone with a single online ZSK.
type Signer struct {
	zone    string
	key     *Key
	skew    time.Duration
	horizon time.Duration

	now func() time.Time
}

// New builds a signer for zone. Signatures cover [now-skew,
// now+horizon], clipped to the key validity bounds.
func New(zone string, key *Key, skew, horizon time.Duration) *Signer {
	return &Signer{
		zone:    zone,
		key:     key,
		skew:    skew,
		horizon: horizon,
		now:     time.Now,
	}
}

// Zone returns the apex the signer covers.
func (s *Signer) Zone() string { return s.zone }

// Ready reports whether a signature produced now would validate.
func (s *Signer) Ready() bool {
	_, _, err := s.window()
	return err == nil
}

func (s *Signer) window() (time.Time, time.Time, error) {
	now := s.now()

	if !s.key.NotBefore.IsZero() && now.Before(s.key.NotBefore) {
		return time.Time{}, time.Time{}, ErrKeyExpired
	}
	if !s.key.NotAfter.IsZero() && now.After(s.key.NotAfter) {
		return time.Time{}, time.Time{}, ErrKeyExpired
	}

	incep := now.Add(-s.skew)
	expir := now.Add(s.horizon)

	if !s.key.NotBefore.IsZero() && incep.Before(s.key.NotBefore) {
		incep = s.key.NotBefore
	}
	if !s.key.NotAfter.IsZero() && expir.After(s.key.NotAfter) {
		expir = s.key.NotAfter
	}
	if !incep.Before(expir) {
		return time.Time{}, time.Time{}, ErrKeyExpired
	}

	return incep, expir, nil
}

// Sign appends an RRSIG for every rrset in the answer and authority
// sections of msg, in place. On error the message is left without any
// signatures added.
func (s *Signer) Sign(msg *dns.Msg) error {
	incep, expir, err := s.window()
	if err != nil {
		return err
	}

	answer, err := s.signSection(msg.Answer, incep, expir)
	if err != nil {
		return err
	}
	ns, err := s.signSection(msg.Ns, incep, expir)
	if err != nil {
		return err
	}

	msg.Answer = answer
	msg.Ns = ns
	return nil
}

func (s *Signer) signSection(section []dns.RR, incep, expir time.Time) ([]dns.RR, error) {
	out := make([]dns.RR, 0, 2*len(section))

	for i := 0; i < len(section); {
		j := i + 1
		for j < len(section) && sameRRSet(section[i], section[j]) {
			j++
		}
		rrset := section[i:j]
		i = j

		sig, err := s.signRRSet(rrset, incep, expir)
		if err != nil {
			return nil, err
		}
		out = append(out, rrset...)
		out = append(out, sig)
	}

	return out, nil
}

func (s *Signer) signRRSet(rrset []dns.RR, incep, expir time.Time) (*dns.RRSIG, error) {
	hdr := rrset[0].Header()

	sig := &dns.RRSIG{
		Hdr: dns.RR_Header{
			Name:   hdr.Name,
			Rrtype: dns.TypeRRSIG,
			Class:  hdr.Class,
			Ttl:    hdr.Ttl,
		},
		Algorithm:  s.key.DNSKEY.Algorithm,
		SignerName: s.zone,
		KeyTag:     s.key.DNSKEY.KeyTag(),
		Inception:  uint32(incep.Unix()),
		Expiration: uint32(expir.Unix()),
	}

	if err := sig.Sign(s.key.Signer, rrset); err != nil {
		return nil, err
	}
	return sig, nil
}

func sameRRSet(a, b dns.RR) bool {
	ah, bh := a.Header(), b.Header()
	return ah.Rrtype == bh.Rrtype && ah.Class == bh.Class && ah.Name == bh.Name
}

// DNSKEY returns the public key as an apex record.
func (s *Signer) DNSKEY(ttl uint32) *dns.DNSKEY {
	key := *s.key.DNSKEY
	key.Hdr = dns.RR_Header{
		Name:   s.zone,
		Rrtype: dns.TypeDNSKEY,
		Class:  dns.ClassINET,
		Ttl:    ttl,
	}
	return &key
}

// DS returns the delegation digest for publication in the parent.
func (s *Signer) DS(ttl uint32) *dns.DS {
	ds := s.DNSKEY(ttl).ToDS(dns.SHA256)
	if ds != nil {
		ds.Hdr.Ttl = ttl
	}
	return ds
}

// Denial synthesizes a minimally covering NSEC at qname. The next
// domain "\000.qname" leaves no other name inside the span, so one
// record denies everything but the types listed in present. With an
// empty present set it proves the name empty, negative answers are
// then served as NOERROR instead of NXDOMAIN to keep the single-NSEC
// proof consistent.
func (s *Signer) Denial(qname string, ttl uint32, present []uint16) *dns.NSEC {
	bitmap := append([]uint16{dns.TypeNSEC, dns.TypeRRSIG}, present...)
	sort.Slice(bitmap, func(i, j int) bool { return bitmap[i] < bitmap[j] })

	return &dns.NSEC{
		Hdr: dns.RR_Header{
			Name:   qname,
			Rrtype: dns.TypeNSEC,
			Class:  dns.ClassINET,
			Ttl:    ttl,
		},
		NextDomain: "\000." + qname,
		TypeBitMap: bitmap,
	}
}
