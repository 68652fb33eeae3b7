// Package server runs the DNS listeners and feeds every request
// through the middleware chain.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/drahnr/constellation/config"
	"github.com/drahnr/constellation/middleware"
	"github.com/drahnr/constellation/server/doq"
)

// Server type
type Server struct {
	addr    string
	tlsAddr string
	doqAddr string

	certs *CertManager

	chainPool sync.Pool

	udpServer *dns.Server
	tcpServer *dns.Server
	tlsServer *dns.Server
	doqServer *doq.Server
}

// New return new server
func New(cfg *config.Config) *Server {
	if cfg.Bind == "" {
		cfg.Bind = ":53"
	}

	server := &Server{
		addr:    cfg.Bind,
		tlsAddr: cfg.BindTLS,
		doqAddr: cfg.BindDOQ,
	}

	if server.tlsAddr != "" || server.doqAddr != "" {
		certs, err := NewCertManager(cfg.TLSCertificate, cfg.TLSPrivateKey)
		if err != nil {
			zlog.Error("TLS certificate unavailable, encrypted listeners disabled", "error", err.Error())
			server.tlsAddr = ""
			server.doqAddr = ""
		} else {
			server.certs = certs
		}
	}

	server.chainPool.New = func() interface{} {
		return middleware.NewChain(middleware.Handlers())
	}

	return server
}

// ServeDNS implements the Handle interface.
func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	ch := s.chainPool.Get().(*middleware.Chain)

	ch.Reset(w, r)

	ch.Next(context.Background())

	s.chainPool.Put(ch)
}

// Run listen the services
func (s *Server) Run() {
	go s.ListenAndServeDNS("udp")
	go s.ListenAndServeDNS("tcp")
	go s.ListenAndServeDNSTLS()
	go s.ListenAndServeQUIC()
}

// Shutdown drains the listeners.
func (s *Server) Shutdown(ctx context.Context) {
	for _, srv := range []*dns.Server{s.udpServer, s.tcpServer, s.tlsServer} {
		if srv == nil {
			continue
		}
		if err := srv.ShutdownContext(ctx); err != nil {
			zlog.Warn("Listener shutdown failed", "net", srv.Net, "error", err.Error())
		}
	}

	if s.doqServer != nil {
		if err := s.doqServer.Shutdown(); err != nil {
			zlog.Warn("Listener shutdown failed", "net", "doq", "error", err.Error())
		}
	}

	if s.certs != nil {
		s.certs.Stop()
	}
}

// ListenAndServeDNS Starts a server on address and network specified Invoke handler
// for incoming queries.
func (s *Server) ListenAndServeDNS(network string) {
	zlog.Info("DNS server listening...", "net", network, "addr", s.addr)

	server := &dns.Server{
		Addr:          s.addr,
		Net:           network,
		Handler:       s,
		MaxTCPQueries: 2048,
		ReusePort:     true,
		ReadTimeout:   10 * time.Second,
	}

	switch network {
	case "udp":
		s.udpServer = server
	case "tcp":
		s.tcpServer = server
	}

	if err := server.ListenAndServe(); err != nil {
		zlog.Error("DNS listener failed", "net", network, "addr", s.addr, "error", err.Error())
	}
}

// ListenAndServeDNSTLS serves DNS over TLS.
func (s *Server) ListenAndServeDNSTLS() {
	if s.tlsAddr == "" {
		return
	}

	zlog.Info("DNS server listening...", "net", "tcp-tls", "addr", s.tlsAddr)

	s.tlsServer = &dns.Server{
		Addr:      s.tlsAddr,
		Net:       "tcp-tls",
		Handler:   s,
		TLSConfig: s.certs.GetTLSConfig(),
	}

	if err := s.tlsServer.ListenAndServe(); err != nil {
		zlog.Error("DNS listener failed", "net", "tcp-tls", "addr", s.tlsAddr, "error", err.Error())
	}
}

// ListenAndServeQUIC serves DNS over QUIC.
func (s *Server) ListenAndServeQUIC() {
	if s.doqAddr == "" {
		return
	}

	zlog.Info("DNS server listening...", "net", "doq", "addr", s.doqAddr)

	s.doqServer = &doq.Server{
		Addr:      s.doqAddr,
		Handler:   s,
		TLSConfig: s.certs.GetTLSConfig(),
	}

	if err := s.doqServer.ListenAndServe(); err != nil {
		zlog.Error("DNS listener failed", "net", "doq", "addr", s.doqAddr, "error", err.Error())
	}
}
