package edns

import (
	"context"
	"strings"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drahnr/constellation/config"
	"github.com/drahnr/constellation/middleware"
	"github.com/drahnr/constellation/mock"
)

type responder struct {
	signed bool
	big    bool
}

func (responder) Name() string { return "responder" }

func (r responder) ServeDNS(_ context.Context, ch *middleware.Chain) {
	msg := new(dns.Msg)
	msg.SetReply(ch.Request)

	rr, _ := dns.NewRR("example.com. 300 IN A 192.0.2.1")
	msg.Answer = append(msg.Answer, rr)

	if r.signed {
		sig, _ := dns.NewRR("example.com. 300 IN RRSIG A 13 2 300 20370101000000 20260101000000 12345 example.com. MEUCIQDhLQPkz9Q= ")
		msg.Answer = append(msg.Answer, sig)
	}

	if r.big {
		for i := 0; i < 100; i++ {
			txt, _ := dns.NewRR("example.com. 300 IN TXT \"" + strings.Repeat("x", 200) + "\"")
			msg.Answer = append(msg.Answer, txt)
		}
	}

	_ = ch.Writer.WriteMsg(msg)
}

func run(t *testing.T, req *dns.Msg, next middleware.Handler, proto string) *mock.Writer {
	t.Helper()

	e := New(&config.Config{})
	ch := middleware.NewChain([]middleware.Handler{e, next})

	w := mock.NewWriter(proto, "127.0.0.1:0")
	ch.Reset(w, req)
	ch.Next(context.Background())

	require.NotNil(t, w.Msg())
	return w
}

func Test_EDNSBadVersion(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	req.SetEdns0(1232, false)
	req.IsEdns0().SetVersion(1)

	w := run(t, req, responder{}, "udp")

	assert.Equal(t, dns.RcodeBadVers, w.Msg().Rcode)
	assert.Empty(t, w.Msg().Answer)
}

func Test_EDNSDNSSECStrippedWithoutDO(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	req.SetEdns0(1232, false)

	w := run(t, req, responder{signed: true}, "udp")

	require.Len(t, w.Msg().Answer, 1)
	assert.Equal(t, dns.TypeA, w.Msg().Answer[0].Header().Rrtype)

	opt := w.Msg().IsEdns0()
	require.NotNil(t, opt)
	assert.False(t, opt.Do())
}

func Test_EDNSDOAcknowledgment(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	req.SetEdns0(1232, true)

	w := run(t, req, responder{signed: true}, "udp")
	opt := w.Msg().IsEdns0()
	require.NotNil(t, opt)
	assert.True(t, opt.Do())

	req = new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	req.SetEdns0(1232, true)

	w = run(t, req, responder{signed: false}, "udp")
	opt = w.Msg().IsEdns0()
	require.NotNil(t, opt)
	assert.False(t, opt.Do(), "unsigned answer must not acknowledge DO")
}

func Test_EDNSNoOptEcho(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	w := run(t, req, responder{}, "udp")
	assert.Nil(t, w.Msg().IsEdns0(), "no OPT added for classic queries")
}

func Test_EDNSTruncation(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	req.SetEdns0(1232, false)

	w := run(t, req, responder{big: true}, "udp")

	assert.True(t, w.Msg().Truncated)
	assert.Empty(t, w.Msg().Answer)

	req = new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	req.SetEdns0(1232, false)

	w = run(t, req, responder{big: true}, "tcp")
	assert.False(t, w.Msg().Truncated)
	assert.NotEmpty(t, w.Msg().Answer)
}
