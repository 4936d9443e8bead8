package wire

import "github.com/sanlockd/sanlockd/internal/sanlockerr"

// RequestSize is the encoded size in bytes of a RequestRecord (sector 1
// of a resource lease area).
const RequestSize = 4 + 4 + 8 + 4 + 4

// RequestRecord lets any host nudge the current owner to release, or
// signal intent to seize, without running a ballot itself. It is
// advisory: if the owner is dead the requester proceeds with a ballot
// regardless of whether a request record exists.
type RequestRecord struct {
	Magic   uint32
	Version uint32
	// Lver is the lease version the requester wants to disturb.
	Lver uint32
	// ForceMode signals the requester wants the owner to force-release
	// rather than wait for a graceful one.
	ForceMode uint32

	Checksum uint32
}

// Encode serializes the request record, stamping its checksum.
func (r *RequestRecord) Encode() []byte {
	buf := make([]byte, RequestSize)
	off := 0
	byteOrder.PutUint32(buf[off:], r.Magic)
	off += 4
	byteOrder.PutUint32(buf[off:], r.Version)
	off += 4
	byteOrder.PutUint32(buf[off:], r.Lver)
	off += 4
	byteOrder.PutUint32(buf[off:], r.ForceMode)
	off += 4
	r.Checksum = Checksum(buf[:off])
	byteOrder.PutUint32(buf[off:], r.Checksum)
	return buf
}

// DecodeRequest parses a request record and verifies its checksum.
func DecodeRequest(buf []byte) (*RequestRecord, error) {
	if len(buf) < RequestSize {
		return nil, sanlockerr.New(sanlockerr.LeaderRead, "short request sector")
	}
	gotChecksum := byteOrder.Uint32(buf[RequestSize-4:])
	wantChecksum := Checksum(buf[:RequestSize-4])
	if gotChecksum != wantChecksum {
		return nil, sanlockerr.New(sanlockerr.LeaderChecksum, "request checksum mismatch")
	}
	r := &RequestRecord{}
	off := 0
	r.Magic = byteOrder.Uint32(buf[off:])
	off += 4
	r.Version = byteOrder.Uint32(buf[off:])
	off += 4
	r.Lver = byteOrder.Uint32(buf[off:])
	off += 4
	r.ForceMode = byteOrder.Uint32(buf[off:])
	off += 4
	r.Checksum = gotChecksum
	return r, nil
}
