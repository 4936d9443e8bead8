package wire

import (
	"fmt"

	"github.com/sanlockd/sanlockd/internal/sanlockerr"
)

// DeltaSize is the encoded size in bytes of a delta-lease sector: one per
// host_id per lockspace.
const DeltaSize = 4 + 4 + LockspaceNameSize + ResourceNameSize + 8 + 8 + 8 + 4 + 4

// HostIDResourceName formats the canonical resource_name stamped into a
// delta-lease sector: "hostid N".
func HostIDResourceName(hostID uint64) string {
	return fmt.Sprintf("hostid %d", hostID)
}

// DeltaLeaseSector proves one host's liveness within one lockspace.
// Sector N-1 of the lockspace's delta-lease area is host_id N's sector.
type DeltaLeaseSector struct {
	Magic   uint32
	Version uint32

	LockspaceName string
	// ResourceName is always HostIDResourceName(hostID) for the sector's
	// own host_id slot; it is carried on disk rather than derived so a
	// reader need not know which slot it read to interpret the sector.
	ResourceName string

	OwnerID         uint64
	OwnerGeneration uint64
	// Timestamp is seconds on the writer's monotonic clock at the last
	// successful renewal. 0 means FREE.
	Timestamp uint64

	// IOTimeout is the writer's configured io_timeout in seconds,
	// published so peers compute host_dead_seconds using *this* host's
	// timeout rather than their own.
	IOTimeout uint32

	Checksum uint32
}

func (d *DeltaLeaseSector) Free() bool {
	return d.Timestamp == 0
}

// Encode serializes the delta-lease sector, stamping its checksum.
func (d *DeltaLeaseSector) Encode() []byte {
	buf := make([]byte, DeltaSize)
	off := 0
	byteOrder.PutUint32(buf[off:], d.Magic)
	off += 4
	byteOrder.PutUint32(buf[off:], d.Version)
	off += 4
	putName(buf[off:off+LockspaceNameSize], d.LockspaceName)
	off += LockspaceNameSize
	putName(buf[off:off+ResourceNameSize], d.ResourceName)
	off += ResourceNameSize
	byteOrder.PutUint64(buf[off:], d.OwnerID)
	off += 8
	byteOrder.PutUint64(buf[off:], d.OwnerGeneration)
	off += 8
	byteOrder.PutUint64(buf[off:], d.Timestamp)
	off += 8
	byteOrder.PutUint32(buf[off:], d.IOTimeout)
	off += 4
	d.Checksum = Checksum(buf[:off])
	byteOrder.PutUint32(buf[off:], d.Checksum)
	return buf
}

// DecodeDelta parses a delta-lease sector and verifies its checksum.
func DecodeDelta(buf []byte) (*DeltaLeaseSector, error) {
	if len(buf) < DeltaSize {
		return nil, sanlockerr.New(sanlockerr.AcquireIDDisk, "short delta-lease sector")
	}
	gotChecksum := byteOrder.Uint32(buf[DeltaSize-4:])
	wantChecksum := Checksum(buf[:DeltaSize-4])
	if gotChecksum != wantChecksum {
		return nil, sanlockerr.New(sanlockerr.DBlockChecksum, "delta-lease checksum mismatch")
	}
	d := &DeltaLeaseSector{}
	off := 0
	d.Magic = byteOrder.Uint32(buf[off:])
	off += 4
	d.Version = byteOrder.Uint32(buf[off:])
	off += 4
	d.LockspaceName = getName(buf[off : off+LockspaceNameSize])
	off += LockspaceNameSize
	d.ResourceName = getName(buf[off : off+ResourceNameSize])
	off += ResourceNameSize
	d.OwnerID = byteOrder.Uint64(buf[off:])
	off += 8
	d.OwnerGeneration = byteOrder.Uint64(buf[off:])
	off += 8
	d.Timestamp = byteOrder.Uint64(buf[off:])
	off += 8
	d.IOTimeout = byteOrder.Uint32(buf[off:])
	off += 4
	d.Checksum = gotChecksum
	return d, nil
}
