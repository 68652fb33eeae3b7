package cache

import (
	"github.com/cespare/xxhash/v2"
	"github.com/miekg/dns"
)

// Key returns the answer cache key for a question. The DO bit and the
// client's geo bucket are part of the key because both change the bytes
// of the assembled answer. Names hash case-insensitively.
func Key(q dns.Question, do bool, bucket string) uint64 {
	d := xxhash.New()

	var hdr [5]byte
	hdr[0], hdr[1] = byte(q.Qclass>>8), byte(q.Qclass)
	hdr[2], hdr[3] = byte(q.Qtype>>8), byte(q.Qtype)
	if do {
		hdr[4] = 1
	}
	_, _ = d.Write(hdr[:])

	_, _ = d.WriteString(bucket)
	_, _ = d.Write([]byte{0})

	buf := make([]byte, 0, len(q.Name))
	for i := 0; i < len(q.Name); i++ {
		c := q.Name[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		buf = append(buf, c)
	}
	_, _ = d.Write(buf)

	return d.Sum64()
}
