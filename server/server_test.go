package server

import (
	"context"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drahnr/constellation/config"
	"github.com/drahnr/constellation/middleware"
	"github.com/drahnr/constellation/mock"
)

type echo struct{}

func (echo) Name() string { return "echo" }

func (echo) ServeDNS(_ context.Context, ch *middleware.Chain) {
	msg := new(dns.Msg)
	msg.SetReply(ch.Request)
	msg.Authoritative = true
	_ = ch.Writer.WriteMsg(msg)
}

func Test_ServerServeDNS(t *testing.T) {
	middleware.Register("echo", func(*config.Config) middleware.Handler { return echo{} })
	middleware.SetConfig(&config.Config{})
	require.NoError(t, middleware.Setup())

	s := New(&config.Config{Bind: "127.0.0.1:0"})
	assert.Nil(t, s.certs)

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	w := mock.NewWriter("udp", "127.0.0.1:0")
	s.ServeDNS(w, req)

	require.NotNil(t, w.Msg())
	assert.True(t, w.Msg().Authoritative)

	// chain pool reuse
	w = mock.NewWriter("udp", "127.0.0.1:0")
	s.ServeDNS(w, req)
	require.NotNil(t, w.Msg())
}

func Test_ServerTLSWithoutCerts(t *testing.T) {
	s := New(&config.Config{
		Bind:    "127.0.0.1:0",
		BindTLS: "127.0.0.1:0",
		BindDOQ: "127.0.0.1:0",
	})

	assert.Empty(t, s.tlsAddr, "DoT disabled without certificates")
	assert.Empty(t, s.doqAddr, "DoQ disabled without certificates")

	s.Shutdown(context.Background())
}
