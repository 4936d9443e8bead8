// Package wire implements the on-disk little-endian layout for the
// delta-lease and Disk-Paxos structures: the per-host delta-lease sector,
// a resource's leader record, its request record, and its per-host
// dblock/mode-block pair.
//
// Every struct follows the same pattern: Encode produces the canonical
// byte layout (host-order fields converted to little-endian, the CRC
// taken over every byte before the checksum field, then stamped), and
// Decode performs the inverse, returning a *sanlockerr.SanlockError with
// the matching Code when the checksum does not verify. Decoders do not
// check the magic; LeaderRecord.Verify does that for the leader.
package wire

import (
	"encoding/binary"
	"hash/crc32"
)

// Name field widths, per the data model: lockspace and resource names
// are NUL-padded byte arrays, not Go strings, on disk.
const (
	LockspaceNameSize = 48
	ResourceNameSize  = 48
)

// Magic values distinguish sector kinds so a misrouted read fails fast
// instead of decoding garbage as a different struct.
const (
	MagicLeader  uint32 = 0x06152010
	MagicRequest uint32 = 0x07152010
	MagicDBlock  uint32 = 0x08152010
	MagicDelta   uint32 = 0x09152010
	// MagicClear marks a sector explicitly wiped by init; it is never a
	// valid magic for any of the structs above.
	MagicClear uint32 = 0x00000000
)

// VersionMajor is carried in the top 16 bits of every struct's Version
// field; readers reject any sector whose major version doesn't match
// exactly, per the "no silent format drift" rule in the data model.
const VersionMajor uint16 = 1

// Version packs a major/minor pair the way the leader's on-disk Version
// field does: major in the high 16 bits, minor in the low 16 bits.
func Version(major, minor uint16) uint32 {
	return uint32(major)<<16 | uint32(minor)
}

// MajorOf extracts the major version from a packed Version field.
func MajorOf(version uint32) uint16 {
	return uint16(version >> 16)
}

// CurrentVersion is the packed version stamped by this implementation.
var CurrentVersion = Version(VersionMajor, 0)

// checksumSeed is CRC32C seeded with the bitwise complement of 1, per the
// wire format: every checksum covers the encoded bytes up to but not
// including the checksum field itself, starting from this seed rather
// than the conventional all-ones seed.
var checksumSeed = ^uint32(1)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum computes the CRC32C of data using the wire format's seed.
func Checksum(data []byte) uint32 {
	return crc32.Update(checksumSeed, castagnoli, data)
}

// putName copies s into a fixed-width NUL-padded field, truncating if s is
// too long to fit (callers validate names ahead of time; this is a
// defensive backstop, not the validation path).
func putName(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	n := copy(dst, s)
	_ = n
}

func getName(src []byte) string {
	n := 0
	for n < len(src) && src[n] != 0 {
		n++
	}
	return string(src[:n])
}

var byteOrder = binary.LittleEndian
