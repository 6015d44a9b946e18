package resolver

import (
	"encoding/binary"
	"net"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Minimal RFC 1035 message codec: just enough to issue A/AAAA queries and
// decode answers (including CNAME chasing). Nothing in the retrieved pack
// implements the DNS wire format, and the standard library's is
// unexported, so this is hand-rolled per DESIGN.md's justification for
// this one piece.

const (
	typeA     = 1
	typeCNAME = 5
	typeAAAA  = 28
	classINET = 1
)

func recordType(name string) uint16 {
	switch strings.ToUpper(name) {
	case "AAAA":
		return typeAAAA
	default:
		return typeA
	}
}

func encodeQuery(id uint16, host string, qtype uint16) []byte {
	var buf []byte
	buf = binary.BigEndian.AppendUint16(buf, id)
	buf = binary.BigEndian.AppendUint16(buf, 0x0100) // RD=1, standard query
	buf = binary.BigEndian.AppendUint16(buf, 1)      // QDCOUNT
	buf = binary.BigEndian.AppendUint16(buf, 0)
	buf = binary.BigEndian.AppendUint16(buf, 0)
	buf = binary.BigEndian.AppendUint16(buf, 0)
	buf = append(buf, encodeName(host)...)
	buf = binary.BigEndian.AppendUint16(buf, qtype)
	buf = binary.BigEndian.AppendUint16(buf, classINET)
	return buf
}

func encodeName(host string) []byte {
	host = strings.TrimSuffix(host, ".")
	var out []byte
	for _, label := range strings.Split(host, ".") {
		out = append(out, byte(len(label)))
		out = append(out, label...)
	}
	return append(out, 0)
}

type answer struct {
	name   string
	rtype  uint16
	ttl    uint32
	data   []byte
}

type message struct {
	id      uint16
	rcode   uint16
	answers []answer
}

// decodeMessage parses header, skips the question section, and extracts
// the answer section's resource records. It tolerates (but does not
// chase) name compression pointers inside RDATA beyond what CNAME needs.
func decodeMessage(buf []byte) (*message, error) {
	if len(buf) < 12 {
		return nil, pkgerrors.New("resolver: short dns message")
	}
	id := binary.BigEndian.Uint16(buf[0:2])
	flags := binary.BigEndian.Uint16(buf[2:4])
	qd := binary.BigEndian.Uint16(buf[4:6])
	an := binary.BigEndian.Uint16(buf[6:8])

	off := 12
	for i := 0; i < int(qd); i++ {
		_, n, err := decodeName(buf, off)
		if err != nil {
			return nil, err
		}
		off = n + 4 // qtype + qclass
	}

	m := &message{id: id, rcode: flags & 0x000F}
	for i := 0; i < int(an); i++ {
		name, n, err := decodeName(buf, off)
		if err != nil {
			return nil, err
		}
		off = n
		if off+10 > len(buf) {
			return nil, pkgerrors.New("resolver: truncated answer")
		}
		rtype := binary.BigEndian.Uint16(buf[off : off+2])
		ttl := binary.BigEndian.Uint32(buf[off+4 : off+8])
		rdlen := int(binary.BigEndian.Uint16(buf[off+8 : off+10]))
		off += 10
		if off+rdlen > len(buf) {
			return nil, pkgerrors.New("resolver: truncated rdata")
		}
		rdata := buf[off : off+rdlen]
		off += rdlen

		a := answer{name: name, rtype: rtype, ttl: ttl}
		switch rtype {
		case typeA, typeAAAA:
			a.data = append([]byte(nil), rdata...)
		case typeCNAME:
			cname, _, err := decodeName(buf, off-rdlen)
			if err == nil {
				a.data = []byte(cname)
			}
		}
		m.answers = append(m.answers, a)
	}
	return m, nil
}

// decodeName decodes a (possibly compressed) domain name starting at off,
// returning the name and the offset immediately after it in the *original*
// record stream (not following compression pointers for that purpose).
func decodeName(buf []byte, off int) (string, int, error) {
	var labels []string
	start := off
	jumped := false
	guard := 0
	for {
		guard++
		if guard > 128 {
			return "", 0, pkgerrors.New("resolver: name too long or looped")
		}
		if off >= len(buf) {
			return "", 0, pkgerrors.New("resolver: name runs past message")
		}
		l := int(buf[off])
		if l == 0 {
			off++
			break
		}
		if l&0xC0 == 0xC0 {
			if off+1 >= len(buf) {
				return "", 0, pkgerrors.New("resolver: bad compression pointer")
			}
			ptr := int(l&0x3F)<<8 | int(buf[off+1])
			if !jumped {
				start = off + 2
			}
			jumped = true
			off = ptr
			continue
		}
		off++
		if off+l > len(buf) {
			return "", 0, pkgerrors.New("resolver: label runs past message")
		}
		labels = append(labels, string(buf[off:off+l]))
		off += l
	}
	end := off
	if jumped {
		end = start
	}
	return strings.Join(labels, "."), end, nil
}

func addrsFromAnswers(answers []answer) (addrs []net.IP, cname string) {
	for _, a := range answers {
		switch a.rtype {
		case typeA:
			if len(a.data) == 4 {
				addrs = append(addrs, net.IP(a.data))
			}
		case typeAAAA:
			if len(a.data) == 16 {
				addrs = append(addrs, net.IP(a.data))
			}
		case typeCNAME:
			cname = string(a.data)
		}
	}
	return
}
