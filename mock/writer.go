// Package mock provides a dns.ResponseWriter fake for tests.
package mock

import (
	"net"

	"github.com/miekg/dns"
)

// Writer type
type Writer struct {
	msg *dns.Msg

	proto string

	localAddr  net.Addr
	remoteAddr net.Addr

	remoteip net.IP
}

// NewWriter returns a fake response writer for the given proto and
// remote address.
func NewWriter(proto, addr string) *Writer {
	w := &Writer{}

	switch proto {
	case "tcp", "tcp-tls", "doq":
		w.localAddr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 53}
		w.remoteAddr, _ = net.ResolveTCPAddr("tcp", addr)
		w.remoteip = w.remoteAddr.(*net.TCPAddr).IP
		w.proto = proto

	case "udp":
		w.localAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 53}
		w.remoteAddr, _ = net.ResolveUDPAddr("udp", addr)
		w.remoteip = w.remoteAddr.(*net.UDPAddr).IP
		w.proto = "udp"
	}

	return w
}

// Rcode returns the written message's response code.
func (w *Writer) Rcode() int {
	if w.msg == nil {
		return dns.RcodeServerFailure
	}

	return w.msg.Rcode
}

// Msg returns the written message.
func (w *Writer) Msg() *dns.Msg {
	return w.msg
}

// Write implements dns.ResponseWriter.
func (w *Writer) Write(b []byte) (int, error) {
	w.msg = new(dns.Msg)
	err := w.msg.Unpack(b)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// WriteMsg implements dns.ResponseWriter.
func (w *Writer) WriteMsg(msg *dns.Msg) error {
	w.msg = msg
	return nil
}

// Written reports whether a message has been written.
func (w *Writer) Written() bool {
	return w.msg != nil
}

// RemoteIP returns the fake client ip.
func (w *Writer) RemoteIP() net.IP { return w.remoteip }

// Proto returns the fake transport name.
func (w *Writer) Proto() string { return w.proto }

// Reset implements the middleware ResponseWriter interface.
func (w *Writer) Reset(rw dns.ResponseWriter) {}

// Close implements dns.ResponseWriter.
func (w *Writer) Close() error { return nil }

// Hijack implements dns.ResponseWriter.
func (w *Writer) Hijack() {}

// LocalAddr implements dns.ResponseWriter.
func (w *Writer) LocalAddr() net.Addr { return w.localAddr }

// RemoteAddr implements dns.ResponseWriter.
func (w *Writer) RemoteAddr() net.Addr { return w.remoteAddr }

// TsigStatus implements dns.ResponseWriter.
func (w *Writer) TsigStatus() error { return nil }

// TsigTimersOnly implements dns.ResponseWriter.
func (w *Writer) TsigTimersOnly(ok bool) {}
