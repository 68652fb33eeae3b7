package accesslog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drahnr/constellation/config"
	"github.com/drahnr/constellation/middleware"
	"github.com/drahnr/constellation/mock"
)

type responder struct{}

func (responder) Name() string { return "responder" }

func (responder) ServeDNS(_ context.Context, ch *middleware.Chain) {
	msg := new(dns.Msg)
	msg.SetReply(ch.Request)
	_ = ch.Writer.WriteMsg(msg)
}

func Test_AccessLog(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "access.log")

	a := New(&config.Config{AccessLog: logPath})
	assert.Equal(t, "accesslog", a.Name())
	require.NotNil(t, a.logFile)

	ch := middleware.NewChain([]middleware.Handler{a, responder{}})

	req := new(dns.Msg)
	req.SetQuestion("www.example.com.", dns.TypeA)

	w := mock.NewWriter("udp", "192.0.2.20:4453")
	ch.Reset(w, req)
	ch.Next(context.Background())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	line := string(data)
	assert.Contains(t, line, "192.0.2.20")
	assert.Contains(t, line, "www.example.com.")
	assert.Contains(t, line, "NOERROR")
	assert.Contains(t, line, "udp")
}

func Test_AccessLogDisabled(t *testing.T) {
	a := New(&config.Config{})
	assert.Nil(t, a.logFile)

	ch := middleware.NewChain([]middleware.Handler{a, responder{}})

	req := new(dns.Msg)
	req.SetQuestion("www.example.com.", dns.TypeA)

	w := mock.NewWriter("udp", "127.0.0.1:0")
	ch.Reset(w, req)

	assert.NotPanics(t, func() { ch.Next(context.Background()) })
}
