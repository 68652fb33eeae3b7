package doq

import (
	"encoding/binary"
	"net"

	"github.com/miekg/dns"
	"github.com/quic-go/quic-go"
)

// ResponseWriter replies to one query over its QUIC stream. RFC 9250
// requires the message ID on the wire to be zero and every message to
// carry a two byte length prefix.
type ResponseWriter struct {
	dns.ResponseWriter

	conn   *quic.Conn
	stream *quic.Stream
}

func newResponseWriter(conn *quic.Conn, stream *quic.Stream) *ResponseWriter {
	return &ResponseWriter{conn: conn, stream: stream}
}

// WriteMsg packs and writes m with the stream framing applied.
func (w *ResponseWriter) WriteMsg(m *dns.Msg) error {
	m.Id = 0

	packed, err := m.Pack()
	if err != nil {
		_ = w.conn.CloseWithError(ProtocolError, err.Error())
		return err
	}

	_, err = w.stream.Write(addPrefixLen(packed))
	return err
}

// Write sends a pre-packed message, framed.
func (w *ResponseWriter) Write(m []byte) (int, error) {
	return w.stream.Write(addPrefixLen(m))
}

func (w *ResponseWriter) LocalAddr() net.Addr {
	return w.conn.LocalAddr()
}

func (w *ResponseWriter) RemoteAddr() net.Addr {
	return w.conn.RemoteAddr()
}

func (w *ResponseWriter) Close() error {
	return w.stream.Close()
}

func addPrefixLen(msg []byte) (buf []byte) {
	buf = make([]byte, 2+len(msg))
	binary.BigEndian.PutUint16(buf, uint16(len(msg)))
	copy(buf[2:], msg)

	return buf
}
