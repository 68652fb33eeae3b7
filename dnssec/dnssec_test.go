package dnssec

import (
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T, notBefore, notAfter time.Time) *Key {
	t.Helper()

	dnskey := &dns.DNSKEY{
		Hdr: dns.RR_Header{
			Name:   "example.com.",
			Rrtype: dns.TypeDNSKEY,
			Class:  dns.ClassINET,
			Ttl:    3600,
		},
		Flags:     256,
		Protocol:  3,
		Algorithm: dns.ECDSAP256SHA256,
	}

	priv, err := dnskey.Generate(256)
	require.NoError(t, err)

	return NewKey(dnskey, priv.(*ecdsa.PrivateKey), notBefore, notAfter)
}

func testRRSet(owner string) []dns.RR {
	rr1, _ := dns.NewRR(owner + " 120 IN A 192.0.2.1")
	rr2, _ := dns.NewRR(owner + " 120 IN A 192.0.2.2")
	return []dns.RR{rr1, rr2}
}

func Test_SignerSign(t *testing.T) {
	key := testKey(t, time.Time{}, time.Time{})
	s := New("example.com.", key, 5*time.Minute, 48*time.Hour)

	msg := new(dns.Msg)
	msg.SetQuestion("www.example.com.", dns.TypeA)
	msg.Answer = testRRSet("www.example.com.")
	soa, _ := dns.NewRR("example.com. 300 IN SOA ns1.example.com. host.example.com. 1 7200 1800 604800 300")
	msg.Ns = []dns.RR{soa}

	require.NoError(t, s.Sign(msg))

	require.Len(t, msg.Answer, 3)
	sig, ok := msg.Answer[2].(*dns.RRSIG)
	require.True(t, ok)
	assert.Equal(t, dns.TypeA, sig.TypeCovered)
	assert.Equal(t, "example.com.", sig.SignerName)
	assert.Equal(t, key.DNSKEY.KeyTag(), sig.KeyTag)
	assert.NoError(t, sig.Verify(key.DNSKEY, msg.Answer[:2]))

	require.Len(t, msg.Ns, 2)
	nsig, ok := msg.Ns[1].(*dns.RRSIG)
	require.True(t, ok)
	assert.Equal(t, dns.TypeSOA, nsig.TypeCovered)
}

func Test_SignerWindowClip(t *testing.T) {
	now := time.Now()
	key := testKey(t, now.Add(-time.Minute), now.Add(time.Hour))
	s := New("example.com.", key, 5*time.Minute, 48*time.Hour)

	msg := new(dns.Msg)
	msg.SetQuestion("www.example.com.", dns.TypeA)
	msg.Answer = testRRSet("www.example.com.")

	require.NoError(t, s.Sign(msg))

	sig := msg.Answer[2].(*dns.RRSIG)
	assert.GreaterOrEqual(t, int64(sig.Inception), key.NotBefore.Unix())
	assert.LessOrEqual(t, int64(sig.Expiration), key.NotAfter.Unix())
}

func Test_SignerFailClosed(t *testing.T) {
	now := time.Now()

	expired := New("example.com.", testKey(t, time.Time{}, now.Add(-time.Hour)), 5*time.Minute, 48*time.Hour)
	assert.False(t, expired.Ready())

	msg := new(dns.Msg)
	msg.SetQuestion("www.example.com.", dns.TypeA)
	msg.Answer = testRRSet("www.example.com.")

	assert.ErrorIs(t, expired.Sign(msg), ErrKeyExpired)
	assert.Len(t, msg.Answer, 2, "no partial signatures on failure")

	premature := New("example.com.", testKey(t, now.Add(time.Hour), time.Time{}), 5*time.Minute, 48*time.Hour)
	assert.False(t, premature.Ready())
	assert.ErrorIs(t, premature.Sign(msg), ErrKeyExpired)
}

func Test_SignerDenial(t *testing.T) {
	key := testKey(t, time.Time{}, time.Time{})
	s := New("example.com.", key, 5*time.Minute, 48*time.Hour)

	nsec := s.Denial("missing.example.com.", 300, nil)
	assert.Equal(t, "missing.example.com.", nsec.Hdr.Name)
	assert.Equal(t, "\000.missing.example.com.", nsec.NextDomain)
	assert.Equal(t, []uint16{dns.TypeRRSIG, dns.TypeNSEC}, nsec.TypeBitMap)

	nsec = s.Denial("www.example.com.", 300, []uint16{dns.TypeA, dns.TypeTXT})
	assert.Equal(t, []uint16{dns.TypeA, dns.TypeTXT, dns.TypeRRSIG, dns.TypeNSEC}, nsec.TypeBitMap)
}

func Test_SignerKeys(t *testing.T) {
	key := testKey(t, time.Time{}, time.Time{})
	s := New("example.com.", key, 5*time.Minute, 48*time.Hour)

	dnskey := s.DNSKEY(600)
	assert.Equal(t, "example.com.", dnskey.Hdr.Name)
	assert.Equal(t, uint32(600), dnskey.Hdr.Ttl)
	assert.Equal(t, uint16(256), dnskey.Flags)

	ds := s.DS(600)
	require.NotNil(t, ds)
	assert.Equal(t, key.DNSKEY.KeyTag(), ds.KeyTag)
	assert.Equal(t, uint8(dns.SHA256), ds.DigestType)
}
