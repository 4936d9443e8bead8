package wire

import (
	"github.com/sanlockd/sanlockd/internal/sanlockerr"
)

// Leader flag bits.
const (
	// FlagShortHold hints that the current owner intends to release
	// soon; other hosts should retry rather than seize.
	FlagShortHold uint32 = 1 << 0
)

// LeaderSize is the encoded size in bytes of a LeaderRecord (sector 0 of
// a resource lease area).
const LeaderSize = 4*5 + LockspaceNameSize + ResourceNameSize + 8*7 + 4 + 4 + 4

// LeaderRecord is the committed state of a resource lease: sector 0 of
// the resource's lease area.
type LeaderRecord struct {
	Magic      uint32
	Version    uint32
	SectorSize uint32
	NumHosts   uint32
	MaxHosts   uint32

	LockspaceName string
	ResourceName  string

	Lver uint64

	// OwnerID/OwnerGeneration/Timestamp identify the committed owner.
	// Timestamp == 0 means FREE.
	OwnerID         uint64
	OwnerGeneration uint64
	Timestamp       uint64

	// WriteID/WriteGeneration/WriteTimestamp identify the host that
	// physically performed this leader write, which may differ from the
	// owner when another host commits us as owner (see the retraction
	// invariant).
	WriteID         uint64
	WriteGeneration uint64
	WriteTimestamp  uint64

	Flags uint32

	Checksum uint32
}

// Free reports whether the leader names no owner.
func (l *LeaderRecord) Free() bool {
	return l.Timestamp == 0
}

// Owner returns the (host_id, host_generation) the leader names as
// owner. Only meaningful when !Free().
func (l *LeaderRecord) Owner() (hostID, generation uint64) {
	return l.OwnerID, l.OwnerGeneration
}

// Encode serializes the leader record to its canonical little-endian
// on-disk form, computing and stamping the checksum.
func (l *LeaderRecord) Encode() []byte {
	buf := make([]byte, LeaderSize)
	l.encodeInto(buf)
	l.Checksum = Checksum(buf[:LeaderSize-4])
	byteOrder.PutUint32(buf[LeaderSize-4:], l.Checksum)
	return buf
}

func (l *LeaderRecord) encodeInto(buf []byte) {
	off := 0
	byteOrder.PutUint32(buf[off:], l.Magic)
	off += 4
	byteOrder.PutUint32(buf[off:], l.Version)
	off += 4
	byteOrder.PutUint32(buf[off:], l.SectorSize)
	off += 4
	byteOrder.PutUint32(buf[off:], l.NumHosts)
	off += 4
	byteOrder.PutUint32(buf[off:], l.MaxHosts)
	off += 4
	putName(buf[off:off+LockspaceNameSize], l.LockspaceName)
	off += LockspaceNameSize
	putName(buf[off:off+ResourceNameSize], l.ResourceName)
	off += ResourceNameSize
	byteOrder.PutUint64(buf[off:], l.Lver)
	off += 8
	byteOrder.PutUint64(buf[off:], l.OwnerID)
	off += 8
	byteOrder.PutUint64(buf[off:], l.OwnerGeneration)
	off += 8
	byteOrder.PutUint64(buf[off:], l.Timestamp)
	off += 8
	byteOrder.PutUint64(buf[off:], l.WriteID)
	off += 8
	byteOrder.PutUint64(buf[off:], l.WriteGeneration)
	off += 8
	byteOrder.PutUint64(buf[off:], l.WriteTimestamp)
	off += 8
	byteOrder.PutUint32(buf[off:], l.Flags)
	off += 4
	// Reserved padding, always zero.
	byteOrder.PutUint32(buf[off:], 0)
	off += 4
}

// DecodeLeader parses a leader record and verifies its checksum.
func DecodeLeader(buf []byte) (*LeaderRecord, error) {
	if len(buf) < LeaderSize {
		return nil, sanlockerr.New(sanlockerr.LeaderRead, "short leader sector")
	}
	gotChecksum := byteOrder.Uint32(buf[LeaderSize-4:])
	wantChecksum := Checksum(buf[:LeaderSize-4])
	if gotChecksum != wantChecksum {
		return nil, sanlockerr.New(sanlockerr.LeaderChecksum, "leader checksum mismatch")
	}

	off := 0
	l := &LeaderRecord{}
	l.Magic = byteOrder.Uint32(buf[off:])
	off += 4
	l.Version = byteOrder.Uint32(buf[off:])
	off += 4
	l.SectorSize = byteOrder.Uint32(buf[off:])
	off += 4
	l.NumHosts = byteOrder.Uint32(buf[off:])
	off += 4
	l.MaxHosts = byteOrder.Uint32(buf[off:])
	off += 4
	l.LockspaceName = getName(buf[off : off+LockspaceNameSize])
	off += LockspaceNameSize
	l.ResourceName = getName(buf[off : off+ResourceNameSize])
	off += ResourceNameSize
	l.Lver = byteOrder.Uint64(buf[off:])
	off += 8
	l.OwnerID = byteOrder.Uint64(buf[off:])
	off += 8
	l.OwnerGeneration = byteOrder.Uint64(buf[off:])
	off += 8
	l.Timestamp = byteOrder.Uint64(buf[off:])
	off += 8
	l.WriteID = byteOrder.Uint64(buf[off:])
	off += 8
	l.WriteGeneration = byteOrder.Uint64(buf[off:])
	off += 8
	l.WriteTimestamp = byteOrder.Uint64(buf[off:])
	off += 8
	l.Flags = byteOrder.Uint32(buf[off:])
	off += 4
	off += 4 // reserved
	l.Checksum = gotChecksum
	return l, nil
}

// Verify checks the leader against the expected lockspace, resource, and
// host_id, per the read-phase verification of the acquire algorithm.
func (l *LeaderRecord) Verify(lockspace, resource string, hostID uint64) error {
	if l.Magic != MagicLeader {
		return sanlockerr.New(sanlockerr.LeaderMagic, "leader magic mismatch")
	}
	if MajorOf(l.Version) != VersionMajor {
		return sanlockerr.New(sanlockerr.LeaderVersion, "leader version mismatch")
	}
	if l.LockspaceName != lockspace {
		return sanlockerr.New(sanlockerr.LeaderLockspace, "leader lockspace name mismatch")
	}
	if l.ResourceName != resource {
		return sanlockerr.New(sanlockerr.LeaderResource, "leader resource name mismatch")
	}
	if uint64(l.NumHosts) < hostID {
		return sanlockerr.New(sanlockerr.LeaderNumHosts, "leader num_hosts too small for host_id")
	}
	return nil
}

// NewFreeLeader builds the leader record written by init: a FREE leader
// naming the lockspace/resource/topology, ready to be committed by the
// first successful ballot.
func NewFreeLeader(lockspace, resource string, sectorSize, numHosts, maxHosts uint32) *LeaderRecord {
	return &LeaderRecord{
		Magic:         MagicLeader,
		Version:       CurrentVersion,
		SectorSize:    sectorSize,
		NumHosts:      numHosts,
		MaxHosts:      maxHosts,
		LockspaceName: lockspace,
		ResourceName:  resource,
	}
}
