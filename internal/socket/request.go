package socket

import (
	"encoding/binary"
	"fmt"
)

// Request is the command-specific body carried after a frame's fixed
// header. Every command that needs more than the header's two Data
// fields packs lockspace/resource names and the wide fields a uint32
// Data slot can't hold (generation, owner id) in here. Both sanlockc
// and the daemon import this type so client and server never drift on
// the payload's shape.
type Request struct {
	Lockspace     string
	Resource      string
	Generation    uint64
	ExpectOwnerID uint64
	Remember      bool
	ForceMode     bool

	// Resources names the full set of resources an ACQUIRE call must
	// claim atomically: either every one is retained or none are. Only
	// ACQUIRE reads this field; RELEASE/MIGRATE/SETOWNER/SET_HOST_ID
	// keep operating on the single Resource field above.
	Resources []string
}

// ResourceNames returns the resources a request names: Resources when
// it carries a multi-resource ACQUIRE batch, otherwise a single-element
// slice built from Resource (or nil if neither is set).
func (r Request) ResourceNames() []string {
	if len(r.Resources) > 0 {
		return r.Resources
	}
	if r.Resource != "" {
		return []string{r.Resource}
	}
	return nil
}

// Encode serializes r as: two length-prefixed strings, then the fixed
// fields, then a length-prefixed list of resource names, little-endian
// throughout, matching the encoding idiom internal/wire uses for
// on-disk records.
func (r Request) Encode() []byte {
	buf := make([]byte, 0, 2+len(r.Lockspace)+2+len(r.Resource)+8+8+1+1+2)
	buf = appendString(buf, r.Lockspace)
	buf = appendString(buf, r.Resource)
	buf = binary.LittleEndian.AppendUint64(buf, r.Generation)
	buf = binary.LittleEndian.AppendUint64(buf, r.ExpectOwnerID)
	buf = append(buf, boolByte(r.Remember), boolByte(r.ForceMode))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(r.Resources)))
	for _, name := range r.Resources {
		buf = appendString(buf, name)
	}
	return buf
}

// DecodeRequest parses a Request payload previously produced by Encode.
func DecodeRequest(buf []byte) (Request, error) {
	var r Request
	lockspace, rest, err := readString(buf)
	if err != nil {
		return r, err
	}
	resource, rest, err := readString(rest)
	if err != nil {
		return r, err
	}
	if len(rest) < 20 {
		return r, fmt.Errorf("socket: short request payload: %d bytes", len(rest))
	}
	r.Lockspace = lockspace
	r.Resource = resource
	r.Generation = binary.LittleEndian.Uint64(rest[0:8])
	r.ExpectOwnerID = binary.LittleEndian.Uint64(rest[8:16])
	r.Remember = rest[16] != 0
	r.ForceMode = rest[17] != 0

	count := int(binary.LittleEndian.Uint16(rest[18:20]))
	rest = rest[20:]
	for i := 0; i < count; i++ {
		var name string
		name, rest, err = readString(rest)
		if err != nil {
			return r, err
		}
		r.Resources = append(r.Resources, name)
	}
	return r, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func readString(buf []byte) (string, []byte, error) {
	if len(buf) < 2 {
		return "", nil, fmt.Errorf("socket: short string length prefix")
	}
	n := int(binary.LittleEndian.Uint16(buf[0:2]))
	buf = buf[2:]
	if len(buf) < n {
		return "", nil, fmt.Errorf("socket: truncated string: want %d have %d", n, len(buf))
	}
	return string(buf[:n]), buf[n:], nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
