package middleware

import (
	"context"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drahnr/constellation/config"
	"github.com/drahnr/constellation/mock"
)

type dummy struct {
	name   string
	served int
	cancel bool
}

func (d *dummy) Name() string { return d.name }

func (d *dummy) ServeDNS(ctx context.Context, ch *Chain) {
	d.served++
	if d.cancel {
		ch.CancelWithRcode(dns.RcodeRefused, false)
		return
	}
	ch.Next(ctx)
}

func Test_Middlewares(t *testing.T) {
	assert.Error(t, Setup(), "setup before config")

	Register("first", func(*config.Config) Handler { return &dummy{name: "first"} })
	Register("second", func(*config.Config) Handler { return &dummy{name: "second"} })

	SetConfig(&config.Config{})

	assert.Nil(t, Get("first"), "no handlers before setup")

	require.NoError(t, Setup())
	assert.Error(t, Setup(), "setup twice")

	assert.Equal(t, []string{"first", "second"}, List())
	assert.Len(t, Handlers(), 2)

	assert.Equal(t, "first", Get("first").Name())
	assert.Nil(t, Get("missing"))
}

func Test_Chain(t *testing.T) {
	handlers := []Handler{&dummy{name: "a"}, &dummy{name: "b"}}
	ch := NewChain(handlers)

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	w := mock.NewWriter("udp", "127.0.0.1:0")
	ch.Reset(w, req)

	ch.Next(context.Background())

	assert.Equal(t, 1, handlers[0].(*dummy).served)
	assert.Equal(t, 1, handlers[1].(*dummy).served)
}

func Test_ChainCancelWithRcode(t *testing.T) {
	refuser := &dummy{name: "refuser", cancel: true}
	after := &dummy{name: "after"}
	ch := NewChain([]Handler{refuser, after})

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	req.SetEdns0(1232, true)

	w := mock.NewWriter("udp", "127.0.0.1:0")
	ch.Reset(w, req)

	ch.Next(context.Background())

	assert.Equal(t, 0, after.served)
	require.NotNil(t, w.Msg())
	assert.Equal(t, dns.RcodeRefused, w.Msg().Rcode)
	assert.True(t, w.Msg().Authoritative)
	assert.False(t, w.Msg().RecursionAvailable)

	opt := w.Msg().IsEdns0()
	require.NotNil(t, opt)
	assert.False(t, opt.Do())
}

func Test_ResponseWriter(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	ch := NewChain(nil)
	w := mock.NewWriter("tcp", "192.0.2.10:4232")
	ch.Reset(w, req)

	assert.Equal(t, "tcp", ch.Writer.Proto())
	assert.Equal(t, "192.0.2.10", ch.Writer.RemoteIP().String())
	assert.False(t, ch.Writer.Written())

	resp := new(dns.Msg)
	resp.SetReply(req)
	require.NoError(t, ch.Writer.WriteMsg(resp))

	assert.True(t, ch.Writer.Written())
	assert.Equal(t, dns.RcodeSuccess, ch.Writer.Rcode())
	assert.Same(t, resp, ch.Writer.Msg())

	assert.Error(t, ch.Writer.WriteMsg(resp), "second write rejected")

	data, err := resp.Pack()
	require.NoError(t, err)
	_, err = ch.Writer.Write(data)
	assert.Error(t, err)
}
